package vaultd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/megamem/vaultd/api"
	"github.com/megamem/vaultd/client"
)

type stubExecutor struct {
	calls  atomic.Int64
	result json.RawMessage
	err    error
	block  chan struct{}
}

func (s *stubExecutor) Do(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return json.RawMessage(`{}`), nil
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func startListener(t *testing.T, exec Executor) (Config, *Server) {
	t.Helper()
	cfg := Config{
		ListenerPort:     freePort(t),
		HostPort:         freePort(t),
		OwnershipToken:   NewOwnershipToken(),
		DefaultVaultPath: t.TempDir(),
	}
	cfg.ApplyDefaults()
	srv, err := NewServer(cfg, exec, WithConnectionState(func() string { return "connected" }))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return cfg, srv
}

func TestHealthReportsOwnerState(t *testing.T) {
	cfg, srv := startListener(t, &stubExecutor{})
	bridge, err := client.New(cfg.ListenerAddr(), cfg.OwnershipToken)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	defer bridge.Close()

	health, err := bridge.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != api.HealthStatusOK {
		t.Fatalf("status = %q", health.Status)
	}
	if health.VaultIdentity != cfg.VaultIdentity() {
		t.Fatalf("identity = %q, want %q", health.VaultIdentity, cfg.VaultIdentity())
	}
	if health.InstanceID != srv.InstanceID() {
		t.Fatalf("instance id = %q, want %q", health.InstanceID, srv.InstanceID())
	}
	if health.ConnectionState != "connected" {
		t.Fatalf("connection state = %q", health.ConnectionState)
	}
}

func TestRelayExecutesOperation(t *testing.T) {
	exec := &stubExecutor{result: json.RawMessage(`{"content":"body"}`)}
	cfg, _ := startListener(t, exec)
	bridge, err := client.New(cfg.ListenerAddr(), cfg.OwnershipToken)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	defer bridge.Close()

	result, err := bridge.Call(context.Background(), "note.read", json.RawMessage(`{"path":"a.md"}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `{"content":"body"}` {
		t.Fatalf("result = %s", result)
	}
	if exec.calls.Load() != 1 {
		t.Fatalf("executor calls = %d", exec.calls.Load())
	}
}

func TestAuthRejectedBeforeDispatch(t *testing.T) {
	exec := &stubExecutor{}
	cfg, _ := startListener(t, exec)

	bad, err := client.New(cfg.ListenerAddr(), "wrong-token")
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	defer bad.Close()

	if _, err := bad.Health(context.Background()); !api.IsKind(err, api.KindAuth) {
		t.Fatalf("health with bad token: expected auth error, got %v", err)
	}
	if _, err := bad.Call(context.Background(), "note.read", json.RawMessage(`{"path":"a.md"}`)); !api.IsKind(err, api.KindAuth) {
		t.Fatalf("relay with bad token: expected auth error, got %v", err)
	}
	// No token at all.
	resp, err := http.Post("http://"+cfg.ListenerAddr()+"/v1/relay", "application/json",
		bytes.NewReader([]byte(`{"operation":"note.read"}`)))
	if err != nil {
		t.Fatalf("raw post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	if got := exec.calls.Load(); got != 0 {
		t.Fatalf("executor ran %d times despite failed auth", got)
	}
}

func TestRelayErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err        *api.Error
		wantStatus int
	}{
		{&api.Error{Kind: api.KindValidation, Message: "bad args"}, http.StatusBadRequest},
		{&api.Error{Kind: api.KindConnectivity, Message: "host down"}, http.StatusServiceUnavailable},
		{&api.Error{Kind: api.KindOperation, Message: "not found"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Kind), func(t *testing.T) {
			cfg, _ := startListener(t, &stubExecutor{err: tc.err})
			req, _ := http.NewRequest(http.MethodPost, "http://"+cfg.ListenerAddr()+"/v1/relay",
				bytes.NewReader([]byte(`{"operation":"note.read","args":{"path":"a.md"}}`)))
			req.Header.Set("Authorization", "Bearer "+cfg.OwnershipToken)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			var envelope api.RelayResponse
			if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if envelope.Error == nil || envelope.Error.Kind != tc.err.Kind {
				t.Fatalf("envelope = %+v", envelope)
			}
		})
	}
}

func TestRelayRejectsOversizedBody(t *testing.T) {
	cfg, _ := startListener(t, &stubExecutor{})
	big := bytes.Repeat([]byte("x"), RelayBodyLimit+1024)
	req, _ := http.NewRequest(http.MethodPost, "http://"+cfg.ListenerAddr()+"/v1/relay", bytes.NewReader(big))
	req.Header.Set("Authorization", "Bearer "+cfg.OwnershipToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRelayEchoesCorrelationID(t *testing.T) {
	cfg, _ := startListener(t, &stubExecutor{})
	body := []byte(`{"operation":"note.read","args":{"path":"a.md"},"correlationId":"trace-9"}`)
	req, _ := http.NewRequest(http.MethodPost, "http://"+cfg.ListenerAddr()+"/v1/relay", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+cfg.OwnershipToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-Id"); got != "trace-9" {
		t.Fatalf("correlation header = %q", got)
	}
	var envelope api.RelayResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.CorrelationID != "trace-9" {
		t.Fatalf("envelope correlation id = %q", envelope.CorrelationID)
	}
}

func TestBindIsExclusive(t *testing.T) {
	cfg, _ := startListener(t, &stubExecutor{})
	second, err := NewServer(cfg, &stubExecutor{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := second.Bind(); err == nil {
		_ = second.Shutdown(context.Background())
		t.Fatalf("second Bind on %s should fail", cfg.ListenerAddr())
	} else if !api.IsKind(err, api.KindConnectivity) {
		t.Fatalf("bind conflict kind = %v", err)
	}
}

func TestConcurrentRelays(t *testing.T) {
	exec := &stubExecutor{result: json.RawMessage(`{"ok":true}`)}
	cfg, srv := startListener(t, exec)
	bridge, err := client.New(cfg.ListenerAddr(), cfg.OwnershipToken)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	defer bridge.Close()

	const callers = 24
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			args := json.RawMessage(fmt.Sprintf(`{"path":"n%d.md"}`, n))
			if _, err := bridge.Call(context.Background(), "note.read", args); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("relay: %v", err)
	}
	if got := exec.calls.Load(); got != callers {
		t.Fatalf("executor calls = %d, want %d", got, callers)
	}
	if got := srv.ActiveRelayCount(); got != 0 {
		t.Fatalf("active relays after drain = %d", got)
	}
}
