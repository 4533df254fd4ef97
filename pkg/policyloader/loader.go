// Package policyloader loads refund policy corpora from YAML or JSON files.
//
// A corpus file carries a semantic version, a name and a list of policies.
// Every policy passes through CEL admission before it is accepted, so a
// loaded corpus is always safe to seed into a policy store.
package policyloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
)

// SupportedVersions is the corpus format range this loader understands.
const SupportedVersions = ">= 1.0.0, < 2.0.0"

// ErrUnsupportedVersion is returned for corpora outside SupportedVersions.
var ErrUnsupportedVersion = errors.New("policyloader: unsupported corpus version")

// Corpus is a versioned collection of refund policies.
type Corpus struct {
	Version  string                `yaml:"version" json:"version"`
	Name     string                `yaml:"name" json:"name"`
	Policies []policy.RefundPolicy `yaml:"policies" json:"policies"`
}

// Loader loads and keeps corpora by name.
type Loader struct {
	mu         sync.RWMutex
	corpora    map[string]*Corpus
	dir        string
	admission  *policy.Admission
	constraint *semver.Constraints
	onReload   func(c *Corpus)
}

// NewLoader creates a loader for dir. A nil admission selects the default
// rule set.
func NewLoader(dir string, admission *policy.Admission) (*Loader, error) {
	if admission == nil {
		a, err := policy.NewAdmission(nil)
		if err != nil {
			return nil, err
		}
		admission = a
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return nil, fmt.Errorf("policyloader: constraint: %w", err)
	}
	return &Loader{
		corpora:    make(map[string]*Corpus),
		dir:        dir,
		admission:  admission,
		constraint: constraint,
	}, nil
}

// OnReload registers a callback invoked when a corpus is loaded or reloaded.
func (l *Loader) OnReload(fn func(c *Corpus)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = fn
}

// LoadAll loads every corpus file in the configured directory.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("policyloader: read dir %s: %w", l.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isCorpusFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if _, err := l.LoadFile(path); err != nil {
			return fmt.Errorf("policyloader: load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// LoadFile parses, validates and registers a single corpus file.
func (l *Loader) LoadFile(path string) (*Corpus, error) {
	c, err := l.Parse(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.corpora[c.Name] = c
	callback := l.onReload
	l.mu.Unlock()

	if callback != nil {
		callback(c)
	}
	return c, nil
}

// Parse reads and validates a corpus file without registering it.
func (l *Loader) Parse(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// yaml.v3 accepts JSON documents too.
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	if c.Name == "" {
		c.Name = filepath.Base(path)
	}

	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, c.Version, err)
	}
	if !l.constraint.Check(v) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}

	seen := make(map[string]bool, len(c.Policies))
	for _, p := range c.Policies {
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate policy id %q", p.ID)
		}
		seen[p.ID] = true
		if err := l.admission.Check(p); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Policies returns the union of all loaded policies ordered by id. When two
// corpora define the same id the one from the lexically later corpus name
// wins.
func (l *Loader) Policies() []policy.RefundPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.corpora))
	for n := range l.corpora {
		names = append(names, n)
	}
	sort.Strings(names)

	byID := make(map[string]policy.RefundPolicy)
	for _, n := range names {
		for _, p := range l.corpora[n].Policies {
			byID[p.ID] = p
		}
	}

	out := make([]policy.RefundPolicy, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func isCorpusFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
