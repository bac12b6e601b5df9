package broker

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomcode/loom/internal/wire"
)

// ProjectKey implements spec §4.1's project-key rule: a deterministic hash
// of the canonicalized launch configuration. Two configs that would launch
// equivalent servers must hash identically; this canonicalizes trailing
// slashes in Cwd and sorts Env so iteration order never affects the key.
func ProjectKey(cfg wire.LaunchConfig) string {
	var b strings.Builder
	b.WriteString(cfg.Command)
	b.WriteByte('\x00')
	for _, a := range cfg.Args {
		b.WriteString(a)
		b.WriteByte('\x00')
	}
	b.WriteByte('\x00')

	envKeys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(cfg.Env[k])
		b.WriteByte('\x00')
	}
	b.WriteByte('\x00')

	b.WriteString(canonicalCwd(cfg.Cwd))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func canonicalCwd(cwd string) string {
	if cwd == "" {
		return ""
	}
	clean := filepath.Clean(cwd)
	return strings.TrimSuffix(clean, string(filepath.Separator))
}
