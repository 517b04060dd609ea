package vaultd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/megamem/vaultd/api"
)

func testVaultConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		ListenerPort:     45820,
		HostPort:         45821,
		OwnershipToken:   NewOwnershipToken(),
		DefaultVaultPath: t.TempDir(),
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFileName)
	cfg := testVaultConfig(t)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("config perms = %o, want 0600 (file holds the token)", perm)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.OwnershipToken != cfg.OwnershipToken {
		t.Fatalf("token mismatch after round trip")
	}
	if loaded.ListenerPort != cfg.ListenerPort || loaded.DefaultVaultPath != cfg.DefaultVaultPath {
		t.Fatalf("loaded = %+v, want %+v", loaded, cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if !api.IsKind(err, api.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"listenerPort":1234,"ownershipToken":"t","defaultVaultPath":"/v","listnerPort":9}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); !api.IsKind(err, api.KindConfig) {
		t.Fatalf("expected config error for unknown field, got %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := testVaultConfig(t)
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero listener port", func(c *Config) { c.ListenerPort = 0 }},
		{"listener out of range", func(c *Config) { c.ListenerPort = 70000 }},
		{"port collision", func(c *Config) { c.HostPort = c.ListenerPort }},
		{"missing token", func(c *Config) { c.OwnershipToken = "  " }},
		{"missing vault path", func(c *Config) { c.DefaultVaultPath = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); !api.IsKind(err, api.KindConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestDeriveVaultIdentityStable(t *testing.T) {
	a := DeriveVaultIdentity("/home/u/Vaults/Main")
	variants := []string{
		"/home/u/Vaults/Main/",
		"/home/u/Vaults/./Main",
		"/home/u/Vaults/Other/../Main",
		"  /home/u/Vaults/Main  ",
	}
	for _, v := range variants {
		if got := DeriveVaultIdentity(v); got != a {
			t.Errorf("DeriveVaultIdentity(%q) = %s, want %s", v, got, a)
		}
	}
	if b := DeriveVaultIdentity("/home/u/Vaults/Other"); b == a {
		t.Fatalf("distinct vaults derived the same identity")
	}
	if len(a) != 16 {
		t.Fatalf("identity length = %d, want 16", len(a))
	}
	for _, r := range a {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("identity %q is not lowercase hex", a)
		}
	}
}

func TestNewOwnershipTokenUnique(t *testing.T) {
	a, b := NewOwnershipToken(), NewOwnershipToken()
	if a == b {
		t.Fatalf("two generated tokens collided")
	}
	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(a))
	}
}

func TestWatchConfigDeliversReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFileName)
	cfg := testVaultConfig(t)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloads := make(chan Config, 4)
	if err := WatchConfig(ctx, path, nil, func(c Config) { reloads <- c }); err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}

	cfg.OwnershipToken = NewOwnershipToken()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save rotated: %v", err)
	}
	select {
	case got := <-reloads:
		if got.OwnershipToken != cfg.OwnershipToken {
			t.Fatalf("reload delivered stale token")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload delivered after config rewrite")
	}

	// An invalid rewrite must be skipped, not delivered.
	if err := os.WriteFile(path, []byte(`{"broken`), 0o600); err != nil {
		t.Fatalf("write broken: %v", err)
	}
	select {
	case got := <-reloads:
		t.Fatalf("invalid config delivered: %+v", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func FuzzDeriveVaultIdentity(f *testing.F) {
	f.Add("/home/u/Vaults/Main")
	f.Add("relative/path")
	f.Add("")
	f.Add("Vaults/Ünïcode/Nøtes")
	f.Fuzz(func(t *testing.T, p string) {
		a := DeriveVaultIdentity(p)
		if len(a) != 16 {
			t.Fatalf("identity length = %d for %q", len(a), p)
		}
		if b := DeriveVaultIdentity(p); b != a {
			t.Fatalf("identity not deterministic for %q", p)
		}
	})
}
