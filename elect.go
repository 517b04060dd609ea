package vaultd

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/megamem/vaultd/api"
	"github.com/megamem/vaultd/client"
	"github.com/megamem/vaultd/dispatch"
	"github.com/megamem/vaultd/internal/correlation"
	"github.com/megamem/vaultd/internal/hostlink"
	"github.com/megamem/vaultd/internal/svcfields"
	"github.com/megamem/vaultd/internal/telemetry"
)

// Role is the outcome of an election for this process.
type Role string

const (
	// RoleOwner means this process bound the listener port and holds the vault
	// host channel.
	RoleOwner Role = "owner"
	// RoleRelay means another process owns the channel; calls go through its
	// ownership listener.
	RoleRelay Role = "relay"
)

// ownerDrainTimeout bounds how long a teardown waits for the listener to
// drain. In-flight relays fail fast once the host channel closes, so this is
// a backstop, not the expected drain time.
const ownerDrainTimeout = 5 * time.Second

// Session is a process's attachment to one vault: either the owner (listener
// plus host channel plus dispatcher) or a relay client of the current owner.
// Do hides the difference; when the owner vanishes mid-call the session
// re-runs the election transparently and may itself become the owner.
type Session struct {
	cfg      Config
	log      pslog.Logger
	metrics  *telemetry.Metrics
	reloadFn func() (Config, error)

	// electMu serializes elections, re-elections, and Close. It is never
	// taken on the dispatch path, so relay handlers stay runnable while a
	// teardown drains the listener.
	electMu sync.Mutex

	mu     sync.Mutex
	role   Role
	server *Server
	conn   *hostlink.Conn
	disp   *dispatch.Dispatcher
	bridge *client.Client
	closed bool
}

// SessionOption configures Connect.
type SessionOption func(*Session)

// WithSessionLogger supplies a custom logger.
func WithSessionLogger(l pslog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithSessionMetrics attaches an instrument set; as owner the session exposes
// it on the listener's /metrics endpoint.
func WithSessionMetrics(m *telemetry.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithConfigReload supplies a loader invoked before each re-election, so a
// rotated token or port on disk takes effect without restarting the process.
func WithConfigReload(fn func() (Config, error)) SessionOption {
	return func(s *Session) { s.reloadFn = fn }
}

// Connect runs the election for cfg's vault and returns an attached session.
//
// The sequence is probe, then bind, then probe again: a healthy listener on
// the well-known port means relay mode; otherwise this process races to bind
// the port, and the loser of that race relays to whoever won it.
func Connect(ctx context.Context, cfg Config, opts ...SessionOption) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg, log: pslog.NoopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = svcfields.WithSubsystem(s.log, "election")
	if err := s.elect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Role reports the current election outcome.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Owner reports whether this process currently owns the vault host channel.
func (s *Session) Owner() bool { return s.Role() == RoleOwner }

// ConnectionState reports the host channel state as seen from this session.
// Relays report "connected" while the owner's listener answers.
func (s *Session) ConnectionState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.State().String()
	}
	return hostlink.StateConnected.String()
}

// Do executes one catalog operation, owner-side or relayed, and returns the
// raw JSON result. On ownership loss it re-runs the election once and retries
// the call against the new topology.
func (s *Session) Do(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	if correlation.ID(ctx) == "" {
		ctx = correlation.With(ctx, correlation.Generate())
	}
	result, err := s.dispatch(ctx, op, args)
	if err == nil || !api.IsKind(err, api.KindOwnershipLost) {
		return result, err
	}
	s.log.Info("ownership lost, re-running election", "op", op, "correlation_id", correlation.ID(ctx))
	if rerr := s.reelect(ctx); rerr != nil {
		return nil, rerr
	}
	return s.dispatch(ctx, op, args)
}

func (s *Session) dispatch(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	role, disp, bridge := s.role, s.disp, s.bridge
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, api.Errorf(api.KindConnectivity, "session closed")
	}
	if role == RoleOwner {
		if disp == nil {
			// Mid re-election; the retry path serializes on it.
			return nil, api.Errorf(api.KindOwnershipLost, "election in progress")
		}
		return disp.Do(ctx, op, args)
	}
	if bridge == nil {
		return nil, api.Errorf(api.KindOwnershipLost, "election in progress")
	}
	// Validate on the relay side too, so bad arguments never cross the wire.
	canonical, err := dispatch.ValidateArgs(op, args)
	if err != nil {
		return nil, err
	}
	return bridge.Call(ctx, op, canonical)
}

// Close detaches from the vault. As owner this releases the listener port,
// triggering re-election among surviving relays on their next call. The host
// channel closes before the listener drains, so relay handlers blocked on the
// vault host return immediately instead of running out their deadlines.
func (s *Session) Close() error {
	s.electMu.Lock()
	defer s.electMu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv, conn, bridge := s.detachLocked()
	s.mu.Unlock()
	return teardown(srv, conn, bridge)
}

// detachLocked clears the topology fields and hands the previous ones to the
// caller for teardown outside s.mu. Relay handlers entering ownerDo during a
// drain must never find s.mu held across a blocking shutdown.
func (s *Session) detachLocked() (*Server, *hostlink.Conn, *client.Client) {
	srv, conn, bridge := s.server, s.conn, s.bridge
	s.server = nil
	s.conn = nil
	s.bridge = nil
	s.disp = nil
	return srv, conn, bridge
}

// teardown closes the host channel first: pending dispatches fail fast, so
// the bounded listener drain that follows finishes promptly.
func teardown(srv *Server, conn *hostlink.Conn, bridge *client.Client) error {
	var firstErr error
	if conn != nil {
		if err := conn.Close(); err != nil {
			firstErr = err
		}
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ownerDrainTimeout)
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	if bridge != nil {
		if err := bridge.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) reelect(ctx context.Context) error {
	s.electMu.Lock()
	defer s.electMu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.Errorf(api.KindConnectivity, "session closed")
	}
	if s.reloadFn != nil {
		if cfg, err := s.reloadFn(); err == nil {
			cfg.ApplyDefaults()
			if verr := cfg.Validate(); verr == nil {
				s.cfg = cfg
			} else {
				s.log.Warn("reloaded config invalid, keeping previous", "error", verr)
			}
		} else {
			s.log.Warn("config reload failed, keeping previous", "error", err)
		}
	}
	srv, conn, bridge := s.detachLocked()
	s.mu.Unlock()
	_ = teardown(srv, conn, bridge)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.electLocked(ctx)
}

func (s *Session) elect(ctx context.Context) error {
	s.electMu.Lock()
	defer s.electMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.electLocked(ctx)
}

func (s *Session) electLocked(ctx context.Context) error {
	bridge, err := client.New(s.cfg.ListenerAddr(), s.cfg.OwnershipToken, client.WithLogger(s.log))
	if err != nil {
		return err
	}

	if ok, err := s.probeLocked(ctx, bridge); err != nil {
		return err
	} else if ok {
		s.becomeRelayLocked(bridge)
		return nil
	}

	// No healthy owner: race for the port.
	srv, bindErr := s.bindLocked()
	if bindErr == nil {
		if err := s.becomeOwnerLocked(srv); err != nil {
			return err
		}
		_ = bridge.Close()
		return nil
	}

	// Lost the bind race: someone else just became owner. Probe once more
	// before giving up.
	if ok, err := s.probeLocked(ctx, bridge); err != nil {
		return err
	} else if ok {
		s.becomeRelayLocked(bridge)
		return nil
	}
	_ = bridge.Close()
	return api.Errorf(api.KindConnectivity,
		"port %d is taken but its holder answers no health probe; is another program using it?", s.cfg.ListenerPort)
}

// probeLocked checks for a healthy owner. It returns (true, nil) when a
// compatible owner answers, (false, nil) when nobody does, and an error for
// conditions that must stop the election (bad token, foreign vault).
func (s *Session) probeLocked(ctx context.Context, bridge *client.Client) (bool, error) {
	health, err := bridge.Health(ctx)
	if err != nil {
		switch api.KindOf(err) {
		case api.KindAuth:
			// A listener answered but rejected our token: the shared config
			// file has diverged. Fatal, not a reason to fight for the port.
			return false, api.Errorf(api.KindConfig, "existing owner rejected the ownership token; reload the shared config")
		case api.KindOwnershipLost, api.KindConnectivity:
			return false, nil
		default:
			return false, err
		}
	}
	if health.VaultIdentity != s.cfg.VaultIdentity() {
		return false, api.Errorf(api.KindConfig,
			"port %d is owned for a different vault (identity %s)", s.cfg.ListenerPort, health.VaultIdentity)
	}
	s.log.Debug("healthy owner found",
		"owner_pid", health.PID,
		"owner_instance", health.InstanceID,
		"connection_state", health.ConnectionState)
	return true, nil
}

func (s *Session) bindLocked() (*Server, error) {
	srv, err := NewServer(s.cfg, executorFunc(s.ownerDo), WithServerLogger(s.log), WithMetrics(s.metrics), WithConnectionState(s.connectorState))
	if err != nil {
		return nil, err
	}
	if err := srv.Bind(); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *Session) becomeOwnerLocked(srv *Server) error {
	var launcher *hostlink.Launcher
	if s.cfg.HostLaunchURI != "" || len(s.cfg.HostLaunchCommand) > 0 {
		launcher = &hostlink.Launcher{
			Command: s.cfg.HostLaunchCommand,
			URI:     s.cfg.HostLaunchURI,
			Logger:  s.log,
		}
	}
	conn, err := hostlink.Open(hostlink.Config{
		Addr:            s.cfg.HostAddr(),
		Token:           s.cfg.OwnershipToken,
		VaultIdentity:   s.cfg.VaultIdentity(),
		Launcher:        launcher,
		DegradedBacklog: s.cfg.DegradedBacklog,
		DegradedWait:    s.cfg.DegradedWait(),
		Logger:          s.log,
		Metrics:         s.metrics,
	})
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}
	s.role = RoleOwner
	s.server = srv
	s.conn = conn
	s.disp = dispatch.New(conn, s.log)
	s.bridge = nil
	go func() {
		if err := srv.Serve(); err != nil {
			s.log.Error("ownership listener stopped", "error", err)
		}
	}()
	s.log.Info("elected owner", "addr", srv.Addr(), "instance_id", srv.InstanceID())
	return nil
}

func (s *Session) becomeRelayLocked(bridge *client.Client) {
	s.role = RoleRelay
	s.server = nil
	s.conn = nil
	s.disp = nil
	s.bridge = bridge
	s.log.Info("joined as relay", "listener", s.cfg.ListenerAddr())
}

// ownerDo is the executor wired into this session's listener: relayed calls
// from sibling processes run through the same dispatcher as local ones.
func (s *Session) ownerDo(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	disp := s.disp
	s.mu.Unlock()
	if disp == nil {
		return nil, api.Errorf(api.KindOwnershipLost, "owner session detached")
	}
	return disp.Do(ctx, op, args)
}

func (s *Session) connectorState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return hostlink.StateDisconnected.String()
	}
	return s.conn.State().String()
}

type executorFunc func(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error)

func (f executorFunc) Do(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, op, args)
}
