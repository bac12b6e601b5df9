// Package config loads the broker daemon's single YAML configuration file:
// tier policies for the syntax manager, permit capacity, idle-lease
// durations, the history store's driver, and static LSP launch profiles.
// Grounded on the teacher's internal/config.Manager (YAML load +
// fallback-default merge idiom), collapsed from a user/project two-file
// merge to one broker-owned file since there is no per-editor project
// config here.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/loomcode/loom/internal/syntax"
	"github.com/loomcode/loom/internal/wire"
	"gopkg.in/yaml.v3"
)

// Config is the root of loomd's YAML configuration.
type Config struct {
	Tiers            TiersConfig      `yaml:"tiers"`
	Permits          int              `yaml:"permits"`
	IdleLease        time.Duration    `yaml:"idle_lease"`
	OwnerIdleUnlock  time.Duration    `yaml:"owner_idle_unlock"`
	History          HistoryConfig    `yaml:"history"`
	Servers          []ServerProfile  `yaml:"servers"`
}

// TiersConfig holds the three byte-size tier policies.
type TiersConfig struct {
	S TierConfig `yaml:"s"`
	M TierConfig `yaml:"m"`
	L TierConfig `yaml:"l"`
}

// TierConfig mirrors syntax.TierPolicy field-for-field in YAML-friendly
// form (plain durations/ints instead of the enum types syntax.Policy uses
// internally).
type TierConfig struct {
	MaxBytes                  int           `yaml:"max_bytes"`
	Debounce                  time.Duration `yaml:"debounce"`
	ParseTimeout              time.Duration `yaml:"parse_timeout"`
	CooldownOnTimeout         time.Duration `yaml:"cooldown_on_timeout"`
	CooldownOnError           time.Duration `yaml:"cooldown_on_error"`
	ViewportCooldownOnTimeout time.Duration `yaml:"viewport_cooldown_on_timeout"`
	RetentionHiddenFull       string        `yaml:"retention_hidden_full"`      // keep|drop_when_hidden|drop_after_ttl
	RetentionHiddenViewport   string        `yaml:"retention_hidden_viewport"`
	RetentionTTL              time.Duration `yaml:"retention_ttl"`
	ParseWhenHidden           bool          `yaml:"parse_when_hidden"`
	SyncBootstrapTimeout      time.Duration `yaml:"sync_bootstrap_timeout"`
	Injections                string        `yaml:"injections"` // disabled|eager
	ViewportWindow            ViewportConfig `yaml:"viewport_window"`
	StageB                    StageBConfig   `yaml:"stage_b"`
	VisibleSpanCap            int            `yaml:"visible_span_cap"`
}

// ViewportConfig mirrors syntax.ViewportWindow.
type ViewportConfig struct {
	Lookbehind int `yaml:"lookbehind"`
	Lookahead  int `yaml:"lookahead"`
	Max        int `yaml:"max"`
}

// StageBConfig mirrors syntax.StageBPolicy.
type StageBConfig struct {
	MinStablePolls int `yaml:"min_stable_polls"`
	Budget         int `yaml:"budget"`
}

// HistoryConfig selects and configures the optional persistence backend.
type HistoryConfig struct {
	Driver     string `yaml:"driver"` // sqlite|none
	DSN        string `yaml:"dsn"`
	MaxEntries int    `yaml:"max_entries"`
}

// ServerProfile is one statically-configured LSP launch profile.
type ServerProfile struct {
	ProjectKeySeed string            `yaml:"project_key_seed"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	Cwd            string            `yaml:"cwd"`
}

func (p ServerProfile) LaunchConfig() wire.LaunchConfig {
	return wire.LaunchConfig{Command: p.Command, Args: p.Args, Env: p.Env, Cwd: p.Cwd}
}

// Defaults mirrors spec's suggested defaults, applied to any field left at
// its YAML zero value.
func Defaults() Config {
	return Config{
		Tiers: TiersConfig{
			S: TierConfig{
				MaxBytes:             64 * 1024,
				Debounce:             150 * time.Millisecond,
				ParseTimeout:         2 * time.Second,
				CooldownOnTimeout:    2 * time.Second,
				CooldownOnError:      2 * time.Second,
				SyncBootstrapTimeout: 50 * time.Millisecond,
				RetentionHiddenFull:     "keep",
				RetentionHiddenViewport: "keep",
			},
			M: TierConfig{
				MaxBytes:             1024 * 1024,
				Debounce:             300 * time.Millisecond,
				ParseTimeout:         4 * time.Second,
				CooldownOnTimeout:    4 * time.Second,
				CooldownOnError:      4 * time.Second,
				RetentionHiddenFull:     "drop_when_hidden",
				RetentionHiddenViewport: "drop_when_hidden",
			},
			L: TierConfig{
				MaxBytes:                  1 << 30,
				Debounce:                  500 * time.Millisecond,
				ParseTimeout:              1500 * time.Millisecond,
				CooldownOnTimeout:         4 * time.Second,
				CooldownOnError:           4 * time.Second,
				ViewportCooldownOnTimeout: 1 * time.Second,
				RetentionHiddenFull:       "drop_when_hidden",
				RetentionHiddenViewport:   "drop_when_hidden",
				ViewportWindow:            ViewportConfig{Lookbehind: 2000, Lookahead: 4000, Max: 32 * 1024},
				StageB:                    StageBConfig{MinStablePolls: 3, Budget: 1},
			},
		},
		Permits:         3,
		IdleLease:       300 * time.Second,
		OwnerIdleUnlock: 2 * time.Second,
		History:         HistoryConfig{Driver: "none"},
	}
}

// Load reads and parses the YAML config at path, applying Defaults() to
// any field the file leaves at its zero value.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	merge(&cfg, parsed)
	return cfg, nil
}

// merge overlays any non-zero field of parsed onto defaults, tier by tier.
func merge(defaults *Config, parsed Config) {
	mergeTier(&defaults.Tiers.S, parsed.Tiers.S)
	mergeTier(&defaults.Tiers.M, parsed.Tiers.M)
	mergeTier(&defaults.Tiers.L, parsed.Tiers.L)

	if parsed.Permits != 0 {
		defaults.Permits = parsed.Permits
	}
	if parsed.IdleLease != 0 {
		defaults.IdleLease = parsed.IdleLease
	}
	if parsed.OwnerIdleUnlock != 0 {
		defaults.OwnerIdleUnlock = parsed.OwnerIdleUnlock
	}
	if parsed.History.Driver != "" {
		defaults.History = parsed.History
	}
	if parsed.Servers != nil {
		defaults.Servers = parsed.Servers
	}
}

func mergeTier(d *TierConfig, p TierConfig) {
	if p.MaxBytes != 0 {
		d.MaxBytes = p.MaxBytes
	}
	if p.Debounce != 0 {
		d.Debounce = p.Debounce
	}
	if p.ParseTimeout != 0 {
		d.ParseTimeout = p.ParseTimeout
	}
	if p.CooldownOnTimeout != 0 {
		d.CooldownOnTimeout = p.CooldownOnTimeout
	}
	if p.CooldownOnError != 0 {
		d.CooldownOnError = p.CooldownOnError
	}
	if p.ViewportCooldownOnTimeout != 0 {
		d.ViewportCooldownOnTimeout = p.ViewportCooldownOnTimeout
	}
	if p.RetentionHiddenFull != "" {
		d.RetentionHiddenFull = p.RetentionHiddenFull
	}
	if p.RetentionHiddenViewport != "" {
		d.RetentionHiddenViewport = p.RetentionHiddenViewport
	}
	if p.RetentionTTL != 0 {
		d.RetentionTTL = p.RetentionTTL
	}
	if p.ParseWhenHidden {
		d.ParseWhenHidden = p.ParseWhenHidden
	}
	if p.SyncBootstrapTimeout != 0 {
		d.SyncBootstrapTimeout = p.SyncBootstrapTimeout
	}
	if p.Injections != "" {
		d.Injections = p.Injections
	}
	if p.ViewportWindow != (ViewportConfig{}) {
		d.ViewportWindow = p.ViewportWindow
	}
	if p.StageB != (StageBConfig{}) {
		d.StageB = p.StageB
	}
	if p.VisibleSpanCap != 0 {
		d.VisibleSpanCap = p.VisibleSpanCap
	}
}

func retentionFrom(s string) syntax.Retention {
	switch s {
	case "drop_when_hidden":
		return syntax.RetentionDropWhenHidden
	case "drop_after_ttl":
		return syntax.RetentionDropAfterTTL
	default:
		return syntax.RetentionKeep
	}
}

func injectionsFrom(s string) syntax.Injections {
	if s == "eager" {
		return syntax.InjectionsEager
	}
	return syntax.InjectionsDisabled
}

func (t TierConfig) toPolicy() syntax.TierPolicy {
	return syntax.TierPolicy{
		MaxBytesInclusive:         t.MaxBytes,
		Debounce:                  t.Debounce,
		ParseTimeout:              t.ParseTimeout,
		CooldownOnTimeout:         t.CooldownOnTimeout,
		CooldownOnError:           t.CooldownOnError,
		ViewportCooldownOnTimeout: t.ViewportCooldownOnTimeout,
		RetentionHiddenFull:       retentionFrom(t.RetentionHiddenFull),
		RetentionHiddenViewport:   retentionFrom(t.RetentionHiddenViewport),
		RetentionTTL:              t.RetentionTTL,
		ParseWhenHidden:           t.ParseWhenHidden,
		SyncBootstrapTimeout:      t.SyncBootstrapTimeout,
		Injections:                injectionsFrom(t.Injections),
		Viewport: syntax.ViewportWindow{
			Lookbehind: t.ViewportWindow.Lookbehind,
			Lookahead:  t.ViewportWindow.Lookahead,
			Max:        t.ViewportWindow.Max,
		},
		StageB: syntax.StageBPolicy{
			MinStablePolls: t.StageB.MinStablePolls,
			Budget:         t.StageB.Budget,
		},
		VisibleSpanCap: t.VisibleSpanCap,
	}
}

// SyntaxPolicy converts the YAML tier configuration into a syntax.Policy.
func (c Config) SyntaxPolicy() syntax.Policy {
	return syntax.Policy{
		S:              c.Tiers.S.toPolicy(),
		M:              c.Tiers.M.toPolicy(),
		L:              c.Tiers.L.toPolicy(),
		MaxConcurrency: c.Permits,
	}
}
