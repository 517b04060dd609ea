package vaultd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd/api"
	"github.com/megamem/vaultd/internal/correlation"
	"github.com/megamem/vaultd/internal/svcfields"
	"github.com/megamem/vaultd/internal/telemetry"
)

const headerCorrelationID = "X-Correlation-Id"

// Executor runs one validated catalog operation. The dispatch.Dispatcher
// satisfies it; tests substitute stubs.
type Executor interface {
	Do(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error)
}

// Server is the ownership listener: the loopback HTTP surface the owner
// process exposes so sibling processes can relay vault operations and probe
// liveness. Binding its port is the election primitive — whichever process
// holds the bind is the owner, and losing the process releases the port for
// the next election.
type Server struct {
	cfg      Config
	exec     Executor
	log      pslog.Logger
	metrics  *telemetry.Metrics
	stateFn  func() string
	httpSrv  *http.Server
	listener net.Listener

	instanceID   string
	startedAt    time.Time
	activeRelays atomic.Int64
}

// ServerOption configures the listener.
type ServerOption func(*Server)

// WithServerLogger supplies a custom logger.
func WithServerLogger(l pslog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithMetrics attaches an instrument set and enables GET /metrics.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithConnectionState supplies the host channel state reported by /v1/health.
func WithConnectionState(fn func() string) ServerOption {
	return func(s *Server) { s.stateFn = fn }
}

// NewServer builds an ownership listener for cfg, executing relayed
// operations through exec. The listener does not bind until Bind is called.
func NewServer(cfg Config, exec Executor, opts ...ServerOption) (*Server, error) {
	if exec == nil {
		return nil, fmt.Errorf("vaultd: NewServer requires an executor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		exec:       exec,
		log:        pslog.NoopLogger(),
		stateFn:    func() string { return "disconnected" },
		instanceID: xid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = svcfields.WithSubsystem(s.log, "listener")
	return s, nil
}

// InstanceID identifies this owner incarnation.
func (s *Server) InstanceID() string { return s.instanceID }

// Addr returns the bound listener address, or "" before Bind.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ActiveRelayCount reports relay requests currently executing.
func (s *Server) ActiveRelayCount() int64 { return s.activeRelays.Load() }

// Bind attempts to take ownership by binding the well-known loopback port.
// The OS guarantees at most one winner; a bind failure means another process
// already owns the vault and is not an error to retry blindly.
func (s *Server) Bind() error {
	ln, err := net.Listen("tcp", s.cfg.ListenerAddr())
	if err != nil {
		return api.Errorf(api.KindConnectivity, "bind %s: %v", s.cfg.ListenerAddr(), err)
	}
	s.listener = ln
	s.startedAt = time.Now()
	s.log.Info("ownership acquired",
		"addr", ln.Addr().String(),
		"vault", s.cfg.VaultIdentity(),
		"instance_id", s.instanceID,
		"pid", os.Getpid())
	return nil
}

// Serve runs the HTTP server on the bound listener until Shutdown. It blocks;
// call it from a goroutine after a successful Bind.
func (s *Server) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("vaultd: Serve before Bind")
	}
	h2s := &http2.Server{}
	s.httpSrv = &http.Server{
		Handler:           h2c.NewHandler(s.routes(), h2s),
		ReadHeaderTimeout: 5 * time.Second,
	}
	err := s.httpSrv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener, releasing the port for the next election.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.guard(s.handleHealth))
	mux.HandleFunc("POST /v1/relay", s.guard(s.handleRelay))
	if s.metrics != nil {
		metricsHandler := s.metrics.Handler()
		mux.HandleFunc("GET /metrics", s.guard(func(w http.ResponseWriter, r *http.Request) {
			metricsHandler.ServeHTTP(w, r)
		}))
	}
	return mux
}

// guard enforces the two preconditions shared by every endpoint: the peer is
// loopback-local and presents the ownership token. Both run before any
// dispatch work.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil || !net.ParseIP(host).IsLoopback() {
			s.log.Warn("non-loopback request rejected", "remote", r.RemoteAddr, "path", r.URL.Path)
			s.writeError(w, "", api.Errorf(api.KindAuth, "loopback clients only"), http.StatusForbidden)
			return
		}
		if !s.authenticated(r) {
			if s.metrics != nil {
				s.metrics.AuthFailures.Inc()
			}
			s.log.Warn("auth failure", "remote", r.RemoteAddr, "path", r.URL.Path)
			s.writeError(w, "", api.Errorf(api.KindAuth, "missing or invalid ownership token"), http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) authenticated(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.OwnershipToken)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:           api.HealthStatusOK,
		VaultIdentity:    s.cfg.VaultIdentity(),
		PID:              os.Getpid(),
		InstanceID:       s.instanceID,
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ActiveRelayCount: s.activeRelays.Load(),
		ConnectionState:  s.stateFn(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, RelayBodyLimit+1))
	if err != nil {
		s.writeRelayError(w, "", "", api.Errorf(api.KindConnectivity, "read relay body: %v", err))
		return
	}
	if len(body) > RelayBodyLimit {
		s.writeRelayError(w, "", "", api.ValidationErrorf("", "relay body exceeds %d bytes", RelayBodyLimit))
		return
	}
	var req api.RelayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeRelayError(w, "", "", api.ValidationErrorf("", "decode relay request: %v", err))
		return
	}
	if strings.TrimSpace(req.Operation) == "" {
		s.writeRelayError(w, "", "", api.ValidationErrorf("", "operation is required"))
		return
	}

	corrID, ok := correlation.Normalize(req.CorrelationID)
	if !ok {
		corrID, ok = correlation.Normalize(r.Header.Get(headerCorrelationID))
	}
	if !ok {
		corrID = correlation.Generate()
	}

	timeout := DefaultRelayTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		if timeout > MaxRelayTimeout {
			timeout = MaxRelayTimeout
		}
	}
	ctx, cancel := context.WithTimeout(correlation.With(r.Context(), corrID), timeout)
	defer cancel()

	s.activeRelays.Add(1)
	if s.metrics != nil {
		s.metrics.RelayInFlight.Inc()
	}
	start := time.Now()
	result, err := s.exec.Do(ctx, req.Operation, req.Args)
	s.activeRelays.Add(-1)
	if s.metrics != nil {
		s.metrics.RelayInFlight.Dec()
	}

	if err != nil {
		s.countRelay(req.Operation, err)
		s.log.Debug("relay failed",
			"op", req.Operation,
			"correlation_id", corrID,
			"elapsed", time.Since(start),
			"error", err)
		s.writeRelayError(w, corrID, req.Operation, err)
		return
	}
	s.countRelay(req.Operation, nil)
	s.log.Debug("relay ok", "op", req.Operation, "correlation_id", corrID, "elapsed", time.Since(start))
	w.Header().Set(headerCorrelationID, corrID)
	s.writeJSON(w, http.StatusOK, api.RelayResponse{Result: result, CorrelationID: corrID})
}

func (s *Server) countRelay(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(api.KindOf(err))
		if outcome == "" {
			outcome = "internal"
		}
	}
	s.metrics.RelayRequests.WithLabelValues(op, outcome).Inc()
}

// writeRelayError serializes err into the relay envelope. Non-taxonomy errors
// (including dispatch deadline overruns) are folded into KindConnectivity so
// callers always see a classified failure.
func (s *Server) writeRelayError(w http.ResponseWriter, corrID, op string, err error) {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		kind := api.KindConnectivity
		if errors.Is(err, context.DeadlineExceeded) {
			apiErr = &api.Error{Kind: kind, Op: op, Message: "dispatch deadline exceeded", RetryAfterSeconds: 1}
		} else {
			apiErr = &api.Error{Kind: kind, Op: op, Message: err.Error()}
		}
	}
	if corrID != "" {
		w.Header().Set(headerCorrelationID, corrID)
	}
	status := api.HTTPStatus(apiErr.Kind)
	s.writeJSON(w, status, api.RelayResponse{Error: apiErr, CorrelationID: corrID})
}

func (s *Server) writeError(w http.ResponseWriter, corrID string, apiErr *api.Error, status int) {
	if corrID != "" {
		w.Header().Set(headerCorrelationID, corrID)
	}
	s.writeJSON(w, status, api.RelayResponse{Error: apiErr})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", "error", err)
	}
}
