package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Profile is a named deployment preset, e.g. profiles/profile_lite.yaml.
// Empty fields leave the current value alone; environment variables still
// win over anything a profile sets.
type Profile struct {
	Name       string           `yaml:"name" json:"name"`
	Code       string           `yaml:"code" json:"code"`
	Ledger     LedgerProfile    `yaml:"ledger" json:"ledger"`
	Policies   PolicyProfile    `yaml:"policies" json:"policies"`
	Settlement SettlementConfig `yaml:"settlement" json:"settlement"`
	HTTP       HTTPProfile      `yaml:"http" json:"http"`
}

type LedgerProfile struct {
	Backend    string `yaml:"backend" json:"backend"`
	SQLitePath string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
	SeedDemo   *bool  `yaml:"seed_demo,omitempty" json:"seed_demo,omitempty"`
}

type PolicyProfile struct {
	Backend    string `yaml:"backend" json:"backend"`
	CorpusPath string `yaml:"corpus_path,omitempty" json:"corpus_path,omitempty"`
}

type SettlementConfig struct {
	BonusMultiplier string `yaml:"bonus_multiplier,omitempty" json:"bonus_multiplier,omitempty"`
	TransferTimeout string `yaml:"transfer_timeout,omitempty" json:"transfer_timeout,omitempty"`
}

type HTTPProfile struct {
	RateLimitRPS       float64 `yaml:"rate_limit_rps,omitempty" json:"rate_limit_rps,omitempty"`
	RateLimitBurst     int     `yaml:"rate_limit_burst,omitempty" json:"rate_limit_burst,omitempty"`
	IdempotencyBackend string  `yaml:"idempotency_backend,omitempty" json:"idempotency_backend,omitempty"`
}

// LoadProfile loads a deployment profile YAML by code.
// It searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", code, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		code := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		p, err := LoadProfile(profilesDir, code)
		if err != nil {
			return nil, err
		}
		profiles[p.Code] = p
	}
	return profiles, nil
}

// Apply layers the profile onto cfg.
func (p *Profile) Apply(cfg *Config) error {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.LedgerBackend, p.Ledger.Backend)
	set(&cfg.SQLitePath, p.Ledger.SQLitePath)
	set(&cfg.PolicyBackend, p.Policies.Backend)
	set(&cfg.PolicyCorpusPath, p.Policies.CorpusPath)
	set(&cfg.IdempotencyBackend, p.HTTP.IdempotencyBackend)
	if p.Ledger.SeedDemo != nil {
		cfg.LedgerSeedDemo = *p.Ledger.SeedDemo
	}
	if p.HTTP.RateLimitRPS > 0 {
		cfg.RateLimitRPS = p.HTTP.RateLimitRPS
	}
	if p.HTTP.RateLimitBurst > 0 {
		cfg.RateLimitBurst = p.HTTP.RateLimitBurst
	}
	if v := p.Settlement.BonusMultiplier; v != "" {
		m, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("config: profile %s: bonus_multiplier: %w", p.Code, err)
		}
		cfg.BonusMultiplier = m
	}
	if v := p.Settlement.TransferTimeout; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: profile %s: transfer_timeout: %w", p.Code, err)
		}
		cfg.TransferTimeout = d
	}
	return nil
}
