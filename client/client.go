package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd/api"
	"github.com/megamem/vaultd/internal/correlation"
	"github.com/megamem/vaultd/internal/svcfields"
)

const (
	// DefaultCallTimeout applies when the caller supplies no deadline.
	DefaultCallTimeout = 30 * time.Second
	// DefaultProbeTimeout bounds liveness probes during bootstrap.
	DefaultProbeTimeout = 1500 * time.Millisecond

	headerCorrelationID = "X-Correlation-Id"
	maxErrorBodyBytes   = 64 << 10
)

// Client is the remote-call bridge used by relay (non-owner) processes. It
// translates local operation calls into authenticated relay requests against
// the ownership listener and maps transport failures into the error taxonomy,
// most importantly KindOwnershipLost when the owner has vanished.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	log         pslog.Logger
	callTimeout time.Duration
}

// Option configures the bridge.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client (useful for tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithCallTimeout overrides the default per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// New constructs a bridge against the listener at addr ("127.0.0.1:41484" or a
// full http:// URL).
func New(addr, token string, opts ...Option) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, api.Errorf(api.KindConfig, "client: missing listener address")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, api.Errorf(api.KindConfig, "client: bad listener address %q: %v", addr, err)
	}
	c := &Client{
		baseURL:     strings.TrimRight(u.String(), "/"),
		token:       token,
		httpClient:  defaultHTTPClient(),
		log:         pslog.NoopLogger(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = svcfields.WithSubsystem(c.log, "bridge")
	return c, nil
}

// defaultHTTPClient speaks prior-knowledge HTTP/2 over cleartext TCP, the
// counterpart of the listener's h2c handler. Concurrent relay calls from one
// process then multiplex a single loopback connection instead of opening one
// TCP connection each.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

// Close releases idle transport connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Health fetches the listener liveness payload. Used by the bootstrap probe
// and the status CLI. The probe bound always applies: a bound-but-unresponsive
// port must not stall bootstrap for the caller's whole deadline.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.mapTransportError("health", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, api.Errorf(api.KindAuth, "listener rejected health token")
	default:
		return nil, api.Errorf(api.KindConnectivity, "health probe: unexpected status %d", resp.StatusCode)
	}
	var health api.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodyBytes)).Decode(&health); err != nil {
		return nil, api.Errorf(api.KindConnectivity, "decode health payload: %v", err)
	}
	return &health, nil
}

// Call relays one operation through the owner and blocks until the result,
// the error, or the deadline. A deadline is mandatory: when ctx carries none,
// the client's call timeout applies.
func (c *Client) Call(ctx context.Context, operation string, args json.RawMessage) (json.RawMessage, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		deadline, _ = ctx.Deadline()
	}
	corrID := correlation.ID(ctx)
	if corrID == "" {
		corrID = correlation.Generate()
	}
	body, err := json.Marshal(api.RelayRequest{
		Operation:     operation,
		Args:          args,
		CorrelationID: corrID,
		TimeoutMs:     time.Until(deadline).Milliseconds(),
	})
	if err != nil {
		return nil, api.ValidationErrorf(operation, "encode relay request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/relay", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerCorrelationID, corrID)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.mapTransportError(operation, err)
	}
	defer resp.Body.Close()

	var envelope api.RelayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&envelope); err != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, api.Errorf(api.KindAuth, "listener rejected relay token")
		}
		return nil, api.Errorf(api.KindConnectivity, "%s: decode relay response (status %d): %v", operation, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		c.log.Debug("bridge.relay_error", "op", operation, "correlation_id", corrID, "kind", envelope.Error.Kind)
		return nil, envelope.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, api.Errorf(api.KindConnectivity, "%s: unexpected relay status %d", operation, resp.StatusCode)
	}
	return envelope.Result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// mapTransportError distinguishes "the owner is gone" from "the call ran out
// of time". Connection-level failures mean the listener no longer exists and
// the caller should re-run the election.
func (c *Client) mapTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &api.Error{Kind: api.KindConnectivity, Op: op, Message: "relay call deadline exceeded", RetryAfterSeconds: 1}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &api.Error{Kind: api.KindConnectivity, Op: op, Message: "relay call timed out", RetryAfterSeconds: 1}
	}
	return &api.Error{Kind: api.KindOwnershipLost, Op: op, Message: fmt.Sprintf("listener unreachable: %v", err)}
}
