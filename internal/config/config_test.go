package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loomd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeTestConfig(t, "permits: 5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Permits != 5 {
		t.Fatalf("expected overridden permits=5, got %d", cfg.Permits)
	}
	if cfg.Tiers.S.MaxBytes != Defaults().Tiers.S.MaxBytes {
		t.Fatalf("expected default S tier max_bytes to survive, got %d", cfg.Tiers.S.MaxBytes)
	}
	if cfg.IdleLease != 300*time.Second {
		t.Fatalf("expected default idle_lease, got %v", cfg.IdleLease)
	}
}

func TestLoadOverridesTierFields(t *testing.T) {
	path := writeTestConfig(t, `
tiers:
  l:
    max_bytes: 999999
    parse_when_hidden: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tiers.L.MaxBytes != 999999 {
		t.Fatalf("expected overridden L max_bytes, got %d", cfg.Tiers.L.MaxBytes)
	}
	if !cfg.Tiers.L.ParseWhenHidden {
		t.Fatalf("expected parse_when_hidden override to apply")
	}
	if cfg.Tiers.L.CooldownOnTimeout != Defaults().Tiers.L.CooldownOnTimeout {
		t.Fatalf("expected untouched L field to keep its default")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestSyntaxPolicyConvertsEnums(t *testing.T) {
	path := writeTestConfig(t, `
tiers:
  m:
    retention_hidden_full: drop_after_ttl
    injections: eager
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pol := cfg.SyntaxPolicy()
	if pol.M.RetentionHiddenFull != retentionFrom("drop_after_ttl") {
		t.Fatalf("expected drop_after_ttl to convert correctly")
	}
	if pol.M.Injections != injectionsFrom("eager") {
		t.Fatalf("expected eager injections to convert correctly")
	}
	if pol.MaxConcurrency != cfg.Permits {
		t.Fatalf("expected MaxConcurrency to mirror Permits")
	}
}

func TestServerProfileLaunchConfig(t *testing.T) {
	p := ServerProfile{Command: "gopls", Args: []string{"serve"}, Cwd: "/tmp"}
	lc := p.LaunchConfig()
	if lc.Command != "gopls" || len(lc.Args) != 1 || lc.Args[0] != "serve" || lc.Cwd != "/tmp" {
		t.Fatalf("unexpected LaunchConfig: %+v", lc)
	}
}
