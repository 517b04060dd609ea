package vaultd

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd/api"
	"github.com/megamem/vaultd/internal/svcfields"
)

const (
	// DefaultListenerPort is the well-known ownership listener port. Every
	// process targeting the same vault must read the same port from the
	// shared configuration file.
	DefaultListenerPort = 41484
	// DefaultHostPort is the loopback port the vault host channel dials.
	DefaultHostPort = 41485
	// DefaultConfigFileName is the per-vault configuration file name.
	DefaultConfigFileName = "vaultd.json"
	// DefaultProbeTimeout bounds the bootstrap liveness probe.
	DefaultProbeTimeout = 1500 * time.Millisecond
	// DefaultRelayTimeout applies to relay dispatches without an explicit
	// timeoutMs.
	DefaultRelayTimeout = 30 * time.Second
	// MaxRelayTimeout caps client-supplied relay deadlines.
	MaxRelayTimeout = 60 * time.Second
	// RelayBodyLimit bounds relay request payloads.
	RelayBodyLimit = 2 << 20
	// DefaultDegradedBacklog caps callers waiting out a degraded host channel.
	DefaultDegradedBacklog = 32
	// DefaultDegradedWait bounds how long such callers wait before failing.
	DefaultDegradedWait = 2 * time.Second

	ownershipTokenBytes = 32
	vaultIdentityHexLen = 16
)

// Config is the vault-scoped configuration shared by every client process.
// All processes targeting the same vault must read an identical file;
// mismatched tokens or ports are a configuration error, not a protocol fault.
type Config struct {
	// ListenerPort is the well-known ownership listener port for this vault.
	ListenerPort int `json:"listenerPort"`
	// OwnershipToken is the bearer secret presented on every request.
	OwnershipToken string `json:"ownershipToken"`
	// DefaultVaultPath is the vault root on disk; VaultIdentity derives from it.
	DefaultVaultPath string `json:"defaultVaultPath"`
	// HostPort is the loopback port the vault host channel listens on.
	HostPort int `json:"hostPort,omitempty"`
	// HostLaunchURI is handed to the OS opener when the vault host must be
	// started (e.g. "obsidian://open?vault=Main"). Empty disables launching.
	HostLaunchURI string `json:"hostLaunchUri,omitempty"`
	// HostLaunchCommand overrides the platform opener with an explicit argv.
	HostLaunchCommand []string `json:"hostLaunchCommand,omitempty"`
	// DegradedBacklog caps callers queued while the host channel reconnects.
	// Zero uses DefaultDegradedBacklog.
	DegradedBacklog int `json:"degradedBacklog,omitempty"`
	// DegradedWaitMs bounds how long queued callers wait, in milliseconds.
	// Zero uses DefaultDegradedWait.
	DegradedWaitMs int64 `json:"degradedWaitMs,omitempty"`
}

// ApplyDefaults fills zero fields with package defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.ListenerPort == 0 {
		cfg.ListenerPort = DefaultListenerPort
	}
	if cfg.HostPort == 0 {
		cfg.HostPort = DefaultHostPort
	}
	if cfg.DegradedBacklog == 0 {
		cfg.DegradedBacklog = DefaultDegradedBacklog
	}
	if cfg.DegradedWaitMs == 0 {
		cfg.DegradedWaitMs = DefaultDegradedWait.Milliseconds()
	}
}

// Validate rejects configurations that cannot interoperate.
func (cfg Config) Validate() error {
	if cfg.ListenerPort <= 0 || cfg.ListenerPort > 65535 {
		return api.Errorf(api.KindConfig, "listenerPort %d out of range", cfg.ListenerPort)
	}
	if cfg.HostPort <= 0 || cfg.HostPort > 65535 {
		return api.Errorf(api.KindConfig, "hostPort %d out of range", cfg.HostPort)
	}
	if cfg.ListenerPort == cfg.HostPort {
		return api.Errorf(api.KindConfig, "listenerPort and hostPort collide on %d", cfg.ListenerPort)
	}
	if strings.TrimSpace(cfg.OwnershipToken) == "" {
		return api.Errorf(api.KindConfig, "ownershipToken missing: run 'vaultd config init'")
	}
	if strings.TrimSpace(cfg.DefaultVaultPath) == "" {
		return api.Errorf(api.KindConfig, "defaultVaultPath missing")
	}
	return nil
}

// VaultIdentity returns the stable identity key for the configured vault.
func (cfg Config) VaultIdentity() string {
	return DeriveVaultIdentity(cfg.DefaultVaultPath)
}

// ListenerAddr returns the loopback listener address.
func (cfg Config) ListenerAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", cfg.ListenerPort)
}

// HostAddr returns the loopback vault host channel address.
func (cfg Config) HostAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", cfg.HostPort)
}

// DegradedWait returns the configured degraded-wait duration.
func (cfg Config) DegradedWait() time.Duration {
	if cfg.DegradedWaitMs <= 0 {
		return DefaultDegradedWait
	}
	return time.Duration(cfg.DegradedWaitMs) * time.Millisecond
}

// DeriveVaultIdentity maps a vault path to its stable identity key. Two
// processes pointing at the same vault derive the same identity regardless of
// trailing slashes or relative segments; different vaults never collide in
// practice.
func DeriveVaultIdentity(vaultPath string) string {
	cleaned := filepath.Clean(strings.TrimSpace(vaultPath))
	if abs, err := filepath.Abs(cleaned); err == nil {
		cleaned = abs
	}
	sum := sha256.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:])[:vaultIdentityHexLen]
}

// NewOwnershipToken generates a fresh random bearer secret.
func NewOwnershipToken() string {
	buf := make([]byte, ownershipTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("vaultd: read random: %v", err))
	}
	return hex.EncodeToString(buf)
}

// DefaultConfigDir resolves the per-user vaultd configuration directory.
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "vaultd"), nil
}

// DefaultConfigPath resolves the default configuration file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}

// LoadConfig reads and validates the vault configuration at path.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, api.Errorf(api.KindConfig, "config file %s not found: run 'vaultd config init'", path)
		}
		return Config{}, api.Errorf(api.KindConfig, "read config %s: %v", path, err)
	}
	var cfg Config
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, api.Errorf(api.KindConfig, "parse config %s: %v", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration to path with owner-only permissions, creating
// parent directories as needed. The token is a secret; 0600 is deliberate.
func (cfg Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	out = append(out, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// WatchConfig invokes fn with the freshly loaded configuration every time the
// file at path changes, until ctx is done. The vault host plugin rotates the
// token by rewriting this file, so long-running processes watch it. Reload
// failures are logged and skipped; fn only sees valid configurations.
func WatchConfig(ctx context.Context, path string, logger pslog.Logger, fn func(Config)) error {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	log := svcfields.WithSubsystem(logger, "config.watch")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	// Watch the directory: editors and atomic saves replace the file inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	go func() {
		defer watcher.Close()
		base := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					log.Warn("config reload skipped", "error", err)
					continue
				}
				log.Info("config reloaded", "listener_port", cfg.ListenerPort)
				fn(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
