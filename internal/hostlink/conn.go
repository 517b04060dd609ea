// Package hostlink maintains the single persistent control channel between an
// owner process and the vault host. The channel speaks newline-delimited JSON
// frames over loopback TCP and pipelines concurrent requests by frame id.
package hostlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/megamem/vaultd/api"
	"github.com/megamem/vaultd/internal/correlation"
	"github.com/megamem/vaultd/internal/svcfields"
	"github.com/megamem/vaultd/internal/telemetry"
	"github.com/megamem/vaultd/internal/uuidv7"
)

const (
	// DefaultCallTimeout bounds Roundtrip when the caller supplied no deadline.
	DefaultCallTimeout = 30 * time.Second

	defaultDialTimeout      = 2 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultBackoffBase      = 250 * time.Millisecond
	defaultBackoffMax       = 15 * time.Second
	backoffMultiplier       = 2.0
	backoffJitter           = 100 * time.Millisecond
	defaultDegradedBacklog  = 32
	defaultDegradedWait     = 2 * time.Second
	defaultLaunchRetries    = 5
)

// Config controls the host channel.
type Config struct {
	// Addr is the loopback address the vault host listens on.
	Addr string
	// Token authenticates the hello handshake.
	Token string
	// VaultIdentity scopes the handshake to one vault.
	VaultIdentity string
	// Launcher optionally starts the vault host when the first dial fails.
	Launcher *Launcher
	// DialTimeout bounds each dial attempt.
	DialTimeout time.Duration
	// HandshakeTimeout bounds the hello/ready exchange.
	HandshakeTimeout time.Duration
	// PingInterval paces keepalive pings on an idle channel.
	PingInterval time.Duration
	// BackoffBase/BackoffMax bound the reconnect backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// DegradedBacklog caps callers allowed to wait for a reconnect; excess
	// callers fail immediately with a retryable error.
	DegradedBacklog int
	// DegradedWait bounds how long a backlogged caller waits for reconnect.
	DegradedWait time.Duration
	// Logger receives channel lifecycle logs. Nil means no logging.
	Logger pslog.Logger
	// Metrics optionally records roundtrip and state instrumentation.
	Metrics *telemetry.Metrics
}

func (cfg *Config) applyDefaults() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.DegradedBacklog <= 0 {
		cfg.DegradedBacklog = defaultDegradedBacklog
	}
	if cfg.DegradedWait <= 0 {
		cfg.DegradedWait = defaultDegradedWait
	}
}

// Conn is the single logical channel to the vault host. Submission is safe
// from any goroutine; the channel pipelines in-flight requests by frame id.
type Conn struct {
	cfg Config
	log pslog.Logger

	state stateVar

	writeMu sync.Mutex
	netConn net.Conn
	enc     *json.Encoder

	inflightMu sync.Mutex
	inflight   map[string]chan Frame

	// connected is replaced each disconnect and closed on handshake success,
	// releasing backlogged callers.
	connMu    sync.Mutex
	connected chan struct{}

	backlog chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// Open starts the channel manager and returns immediately; the first connect
// attempt proceeds in the background. Use WaitConnected to block on readiness.
func Open(cfg Config) (*Conn, error) {
	if cfg.Addr == "" {
		return nil, api.Errorf(api.KindConfig, "hostlink: missing vault host address")
	}
	cfg.applyDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	c := &Conn{
		cfg:       cfg,
		log:       svcfields.WithSubsystem(logger, "hostlink"),
		inflight:  make(map[string]chan Frame),
		connected: make(chan struct{}),
		backlog:   make(chan struct{}, cfg.DegradedBacklog),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.setState(StateConnecting)
	go c.run()
	return c, nil
}

// State reports the current channel state.
func (c *Conn) State() State {
	return c.state.load()
}

// WaitConnected blocks until the handshake completes, ctx expires, or the
// connector is closed.
func (c *Conn) WaitConnected(ctx context.Context) error {
	for {
		c.connMu.Lock()
		ch := c.connected
		c.connMu.Unlock()
		if c.State() == StateConnected {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return api.Errorf(api.KindConnectivity, "vault host not connected: %v", ctx.Err())
		case <-c.closed:
			return api.Errorf(api.KindConnectivity, "connector closed")
		}
	}
}

// Close shuts the channel down for good. Pending calls fail with a
// connectivity error; the state becomes Disconnected.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.netConn != nil {
			_ = c.netConn.Close()
		}
		c.writeMu.Unlock()
		<-c.done
		c.setState(StateDisconnected)
	})
	return nil
}

// Roundtrip submits one operation and blocks until the response, the ctx
// deadline, or channel shutdown. A deadline is mandatory: when ctx carries
// none, DefaultCallTimeout applies.
func (c *Conn) Roundtrip(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}
	if err := c.gate(ctx); err != nil {
		c.countRoundtrip("gated")
		return nil, err
	}

	id := uuidv7.NewString()
	ch := make(chan Frame, 1)
	c.inflightMu.Lock()
	c.inflight[id] = ch
	c.inflightMu.Unlock()
	defer func() {
		c.inflightMu.Lock()
		delete(c.inflight, id)
		c.inflightMu.Unlock()
	}()

	if err := c.send(Frame{ID: id, Op: op, Args: args}); err != nil {
		c.countRoundtrip("send_error")
		return nil, err
	}
	c.log.Debug("hostlink.sent", "op", op, "frame_id", id, "correlation_id", correlation.ID(ctx))

	select {
	case resp := <-ch:
		if resp.OK != nil && *resp.OK {
			c.countRoundtrip("ok")
			return resp.Result, nil
		}
		c.countRoundtrip("host_error")
		if resp.Error != nil {
			if resp.Error.Kind == "" {
				resp.Error.Kind = api.KindOperation
			}
			if resp.Error.Op == "" {
				resp.Error.Op = op
			}
			return nil, resp.Error
		}
		return nil, &api.Error{Kind: api.KindOperation, Op: op, Message: "vault host rejected the operation"}
	case <-ctx.Done():
		c.countRoundtrip("deadline")
		if errors.Is(ctx.Err(), context.Canceled) {
			// Caller went away; abort without retry.
			return nil, ctx.Err()
		}
		return nil, &api.Error{Kind: api.KindConnectivity, Op: op, Message: "vault host did not respond before the deadline", RetryAfterSeconds: 1}
	case <-c.closed:
		c.countRoundtrip("closed")
		return nil, &api.Error{Kind: api.KindConnectivity, Op: op, Message: "connector closed"}
	}
}

// gate admits the call once the channel is Connected. While Degraded or
// Connecting, up to DegradedBacklog callers wait at most DegradedWait; the
// rest fail fast with a retryable error.
func (c *Conn) gate(ctx context.Context) error {
	if c.State() == StateConnected {
		return nil
	}
	select {
	case c.backlog <- struct{}{}:
	default:
		return &api.Error{Kind: api.KindConnectivity, Message: "vault host unavailable and reconnect backlog full", RetryAfterSeconds: 1}
	}
	defer func() { <-c.backlog }()

	wait := time.NewTimer(c.cfg.DegradedWait)
	defer wait.Stop()
	for {
		c.connMu.Lock()
		ch := c.connected
		c.connMu.Unlock()
		if c.State() == StateConnected {
			return nil
		}
		select {
		case <-ch:
		case <-wait.C:
			return &api.Error{Kind: api.KindConnectivity, Message: "vault host unavailable (" + c.State().String() + ")", RetryAfterSeconds: 1}
		case <-ctx.Done():
			return &api.Error{Kind: api.KindConnectivity, Message: "vault host unavailable: " + ctx.Err().Error(), RetryAfterSeconds: 1}
		case <-c.closed:
			return &api.Error{Kind: api.KindConnectivity, Message: "connector closed"}
		}
	}
}

func (c *Conn) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.enc == nil {
		return &api.Error{Kind: api.KindConnectivity, Message: "vault host channel not established", RetryAfterSeconds: 1}
	}
	if err := c.enc.Encode(f); err != nil {
		return &api.Error{Kind: api.KindConnectivity, Message: "write to vault host: " + err.Error(), RetryAfterSeconds: 1}
	}
	return nil
}

func (c *Conn) setState(next State) {
	prev := c.state.load()
	c.state.store(next)
	if prev != next {
		c.log.Info("hostlink.state", "from", prev.String(), "to", next.String())
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SetConnectorState(next.String())
		}
	}
}

func (c *Conn) countRoundtrip(outcome string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.HostRoundtrips.WithLabelValues(outcome).Inc()
	}
}

// run is the channel manager loop: dial, handshake, read until failure,
// backoff, repeat. It exits only when Close fires.
func (c *Conn) run() {
	defer close(c.done)
	attempt := 0
	launched := false
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		c.setState(StateConnecting)
		conn, err := c.dialAndHandshake()
		if err != nil && !launched && c.cfg.Launcher != nil {
			launched = true
			c.log.Info("hostlink.launching_vault_host", "error", err)
			if lerr := c.cfg.Launcher.Launch(context.Background()); lerr != nil {
				c.log.Warn("hostlink.launch_failed", "error", lerr)
			} else {
				conn, err = c.retryHandshake(defaultLaunchRetries)
			}
		}
		if err != nil {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.Reconnects.Inc()
			}
			attempt++
			c.setState(StateDegraded)
			c.log.Warn("hostlink.connect_failed", "attempt", attempt, "error", err)
			if !c.sleepBackoff(attempt) {
				return
			}
			continue
		}
		attempt = 0
		c.attach(conn)
		c.setState(StateConnected)
		c.readLoop(conn)
		c.detach(conn)
		select {
		case <-c.closed:
			return
		default:
		}
		c.setState(StateDegraded)
	}
}

func (c *Conn) dialAndHandshake() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Conn) retryHandshake(attempts int) (net.Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if !c.sleepBackoff(i + 1) {
			return nil, errors.New("connector closed")
		}
		conn, err := c.dialAndHandshake()
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Conn) handshake(conn net.Conn) error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	enc := json.NewEncoder(conn)
	if err := enc.Encode(Frame{Type: frameHello, Token: c.cfg.Token, Vault: c.cfg.VaultIdentity, PID: os.Getpid()}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	var ready Frame
	if err := json.NewDecoder(conn).Decode(&ready); err != nil {
		return fmt.Errorf("read ready: %w", err)
	}
	if ready.Type != frameReady {
		return fmt.Errorf("unexpected handshake frame %q", ready.Type)
	}
	if ready.Vault != "" && c.cfg.VaultIdentity != "" && ready.Vault != c.cfg.VaultIdentity {
		return api.Errorf(api.KindConfig, "vault host serves identity %s, expected %s", ready.Vault, c.cfg.VaultIdentity)
	}
	return nil
}

func (c *Conn) attach(conn net.Conn) {
	c.writeMu.Lock()
	c.netConn = conn
	c.enc = json.NewEncoder(conn)
	c.writeMu.Unlock()
	c.log.Info("hostlink.connected", "addr", c.cfg.Addr)
}

func (c *Conn) detach(conn net.Conn) {
	_ = conn.Close()
	c.writeMu.Lock()
	if c.netConn == conn {
		c.netConn = nil
		c.enc = nil
	}
	c.writeMu.Unlock()
	c.connMu.Lock()
	c.connected = make(chan struct{})
	c.connMu.Unlock()
	c.failInflight()
}

// readLoop pumps frames off the channel until it breaks. A keepalive ping
// rides alongside so half-open loopback sockets surface promptly.
func (c *Conn) readLoop(conn net.Conn) {
	c.connMu.Lock()
	close(c.connected)
	c.connMu.Unlock()

	stopPing := make(chan struct{})
	go func() {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				_ = c.send(Frame{Type: framePing})
			case <-stopPing:
				return
			case <-c.closed:
				return
			}
		}
	}()
	defer close(stopPing)

	dec := json.NewDecoder(conn)
	for {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn("hostlink.channel_lost", "error", err)
			}
			return
		}
		switch {
		case f.Type == framePing:
			_ = c.send(Frame{Type: framePong})
		case f.Type == framePong:
			// keepalive answered
		case f.ID != "":
			c.inflightMu.Lock()
			ch, ok := c.inflight[f.ID]
			c.inflightMu.Unlock()
			if !ok {
				c.log.Debug("hostlink.orphan_response", "frame_id", f.ID)
				continue
			}
			select {
			case ch <- f:
			default:
				// Duplicate response, or the caller already settled.
			}
		}
	}
}

// failInflight resolves every pending call with a connectivity error so no
// caller hangs across a channel loss. Sends never block: a call whose
// response already landed (caller gone, buffer full, deferred delete not yet
// run) is skipped, otherwise this would wedge the reconnect loop.
func (c *Conn) failInflight() {
	c.inflightMu.Lock()
	pending := c.inflight
	c.inflight = make(map[string]chan Frame)
	c.inflightMu.Unlock()
	no := false
	for id, ch := range pending {
		select {
		case ch <- Frame{ID: id, OK: &no, Error: &api.Error{Kind: api.KindConnectivity, Message: "vault host channel lost", RetryAfterSeconds: 1}}:
		default:
		}
	}
}

func (c *Conn) sleepBackoff(attempt int) bool {
	d := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * backoffMultiplier)
		if d >= c.cfg.BackoffMax {
			d = c.cfg.BackoffMax
			break
		}
	}
	d += time.Duration(rand.Int63n(int64(backoffJitter)))
	select {
	case <-time.After(d):
		return true
	case <-c.closed:
		return false
	}
}
