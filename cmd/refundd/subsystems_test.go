package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbhayRathi/AgenticRefunds/pkg/config"
)

const extraCorpus = `version: 1.1.0
name: extras
policies:
  - id: policy-9
    title: Missing Item Credit
    description: Partial refund when an item is missing
    refundPercentage: 20
    conditions:
      - type: ERROR_COUNT
        threshold: 0
        operator: GREATER_THAN
`

func setupCorpus(t *testing.T, path string) *subsystems {
	t.Helper()
	cfg := config.Default()
	cfg.PolicyBackend = config.BackendMemory
	cfg.PolicyCorpusPath = path

	subs := &subsystems{}
	t.Cleanup(func() { _ = subs.Close() })
	subs.setupEmbedder(cfg)
	require.NoError(t, subs.setupPolicies(context.Background(), cfg))
	return subs
}

func policyCount(t *testing.T, subs *subsystems) int {
	t.Helper()
	n, err := subs.policies.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestReloadCorpus_Directory(t *testing.T) {
	dir := t.TempDir()
	def, err := os.ReadFile(filepath.Join("..", "..", "policies", "default.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), def, 0o600))

	subs := setupCorpus(t, dir)
	require.Equal(t, 3, policyCount(t, subs))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "extras.yaml"), []byte(extraCorpus), 0o600))
	require.NoError(t, subs.reloadCorpus())
	assert.Equal(t, 4, policyCount(t, subs))

	all, err := subs.policies.ListAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "policy-9", all[3].ID)
	assert.NotEmpty(t, all[3].Embedding)
}

func TestReloadCorpus_BadFileKeepsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extras.yaml")
	require.NoError(t, os.WriteFile(path, []byte(extraCorpus), 0o600))

	subs := setupCorpus(t, path)
	require.Equal(t, 1, policyCount(t, subs))

	require.NoError(t, os.WriteFile(path, []byte("version: 9.0.0\nname: extras\npolicies: []\n"), 0o600))
	assert.ErrorContains(t, subs.reloadCorpus(), "unsupported corpus version")
	assert.Equal(t, 1, policyCount(t, subs))
}

func TestReloadCorpus_BuiltInIsNoop(t *testing.T) {
	subs := setupCorpus(t, "")
	require.Equal(t, 3, policyCount(t, subs))
	assert.NoError(t, subs.reloadCorpus())
	assert.Nil(t, subs.corpus)
}
