package vaultd

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/megamem/vaultd/api"
)

// hostFrame mirrors the host channel wire frames for the fake vault host.
type hostFrame struct {
	Type   string          `json:"type,omitempty"`
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	OK     *bool           `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Vault  string          `json:"vault,omitempty"`
}

// hostAnswer produces the result for one operation frame. Returning false
// leaves the frame unanswered.
type hostAnswer func(op string, args json.RawMessage) (json.RawMessage, bool)

// echoAnswer answers every operation with {"op": <name>}.
func echoAnswer(op string, _ json.RawMessage) (json.RawMessage, bool) {
	result, _ := json.Marshal(map[string]string{"op": op})
	return result, true
}

// silentAnswer completes the handshake but never answers an operation.
func silentAnswer(string, json.RawMessage) (json.RawMessage, bool) {
	return nil, false
}

// storingAnswer keeps notes in memory: note.write replace/frontmatter mutate
// them, note.read returns them, everything else echoes.
func storingAnswer() hostAnswer {
	type note struct {
		content     string
		frontmatter map[string]any
	}
	var mu sync.Mutex
	notes := map[string]*note{}
	return func(op string, raw json.RawMessage) (json.RawMessage, bool) {
		mu.Lock()
		defer mu.Unlock()
		switch op {
		case api.OpNoteWrite:
			var args api.NoteWriteArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, false
			}
			n := notes[args.Path]
			if n == nil {
				n = &note{}
				notes[args.Path] = n
			}
			if args.Mode == api.WriteModeFrontmatter {
				if n.frontmatter == nil {
					n.frontmatter = map[string]any{}
				}
				for k, v := range args.Frontmatter {
					n.frontmatter[k] = v
				}
			} else {
				n.content = args.Content
			}
			result, _ := json.Marshal(api.WriteAck{Path: args.Path, Saved: true})
			return result, true
		case api.OpNoteRead:
			var args api.NoteReadArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, false
			}
			n := notes[args.Path]
			if n == nil {
				return nil, false
			}
			result, _ := json.Marshal(api.NoteReadResult{Path: args.Path, Content: n.content, Frontmatter: n.frontmatter})
			return result, true
		default:
			return echoAnswer(op, raw)
		}
	}
}

// startFakeVaultHost serves the ndjson host protocol on cfg's host port,
// resolving operation frames through answer.
func startFakeVaultHost(t *testing.T, cfg Config, answer hostAnswer) {
	t.Helper()
	ln, err := net.Listen("tcp", cfg.HostAddr())
	if err != nil {
		t.Fatalf("fake vault host listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				dec := json.NewDecoder(conn)
				enc := json.NewEncoder(conn)
				var hello hostFrame
				if err := dec.Decode(&hello); err != nil || hello.Type != "hello" {
					return
				}
				if err := enc.Encode(hostFrame{Type: "ready", Vault: cfg.VaultIdentity()}); err != nil {
					return
				}
				for {
					var f hostFrame
					if err := dec.Decode(&f); err != nil {
						return
					}
					if f.Type == "ping" {
						_ = enc.Encode(hostFrame{Type: "pong"})
						continue
					}
					if f.ID == "" {
						continue
					}
					result, reply := answer(f.Op, f.Args)
					if !reply {
						continue
					}
					ok := true
					_ = enc.Encode(hostFrame{ID: f.ID, OK: &ok, Result: result})
				}
			}(conn)
		}
	}()
}

func electionConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		ListenerPort:     freePort(t),
		HostPort:         freePort(t),
		OwnershipToken:   NewOwnershipToken(),
		DefaultVaultPath: t.TempDir(),
		DegradedWaitMs:   3000,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestElectionProducesExactlyOneOwner(t *testing.T) {
	cfg := electionConfig(t)
	startFakeVaultHost(t, cfg, echoAnswer)

	const procs = 5
	sessions := make([]*Session, procs)
	var wg sync.WaitGroup
	for i := 0; i < procs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s, err := Connect(ctx, cfg)
			if err != nil {
				t.Errorf("session %d: Connect: %v", n, err)
				return
			}
			sessions[n] = s
		}(i)
	}
	wg.Wait()
	defer func() {
		for _, s := range sessions {
			if s != nil {
				_ = s.Close()
			}
		}
	}()

	owners := 0
	for _, s := range sessions {
		if s == nil {
			t.Fatalf("a session failed to connect")
		}
		if s.Owner() {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("owners = %d, want exactly 1", owners)
	}

	// Every session, owner or relay, performs operations identically.
	for i, s := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		result, err := s.Do(ctx, api.OpNoteRead, json.RawMessage(`{"path":"a.md"}`))
		cancel()
		if err != nil {
			t.Fatalf("session %d: Do: %v", i, err)
		}
		var decoded struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(result, &decoded); err != nil || decoded.Op != api.OpNoteRead {
			t.Fatalf("session %d: result = %s (err %v)", i, result, err)
		}
	}
}

func TestRelayTakesOverWhenOwnerDies(t *testing.T) {
	cfg := electionConfig(t)
	startFakeVaultHost(t, cfg, echoAnswer)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	owner, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("owner Connect: %v", err)
	}
	if !owner.Owner() {
		t.Fatalf("first session should win the election")
	}

	relay, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("relay Connect: %v", err)
	}
	defer relay.Close()
	if relay.Owner() {
		t.Fatalf("second session should relay, not own")
	}
	if _, err := relay.Do(ctx, api.OpVaultInfo, nil); err != nil {
		t.Fatalf("relay Do before takeover: %v", err)
	}

	// Owner disappears; the relay's next call must re-elect transparently.
	if err := owner.Close(); err != nil {
		t.Fatalf("owner Close: %v", err)
	}
	if _, err := relay.Do(ctx, api.OpVaultInfo, nil); err != nil {
		t.Fatalf("relay Do after owner death: %v", err)
	}
	if !relay.Owner() {
		t.Fatalf("surviving session should have taken ownership, role = %s", relay.Role())
	}
}

func TestConnectRejectsForeignVaultOnSharedPort(t *testing.T) {
	cfg := electionConfig(t)
	startFakeVaultHost(t, cfg, echoAnswer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	owner, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("owner Connect: %v", err)
	}
	defer owner.Close()

	other := cfg
	other.DefaultVaultPath = t.TempDir() // different vault, same ports
	if _, err := Connect(ctx, other); !api.IsKind(err, api.KindConfig) {
		t.Fatalf("expected config error for foreign vault, got %v", err)
	}
}

func TestConnectRejectsDivergedToken(t *testing.T) {
	cfg := electionConfig(t)
	startFakeVaultHost(t, cfg, echoAnswer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	owner, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("owner Connect: %v", err)
	}
	defer owner.Close()

	stale := cfg
	stale.OwnershipToken = NewOwnershipToken()
	if _, err := Connect(ctx, stale); !api.IsKind(err, api.KindConfig) {
		t.Fatalf("expected config error for diverged token, got %v", err)
	}
}

func TestSessionValidatesBeforeRelaying(t *testing.T) {
	cfg := electionConfig(t)
	startFakeVaultHost(t, cfg, echoAnswer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	owner, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer owner.Close()

	if _, err := owner.Do(ctx, api.OpNoteRead, json.RawMessage(`{"path":"../escape.md"}`)); !api.IsKind(err, api.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := owner.Do(ctx, "no.such.op", nil); !api.IsKind(err, api.KindValidation) {
		t.Fatalf("expected validation error for unknown op, got %v", err)
	}
}

func TestWriteReadRoundTripPreservesContent(t *testing.T) {
	cfg := electionConfig(t)
	startFakeVaultHost(t, cfg, storingAnswer())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	owner, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("owner Connect: %v", err)
	}
	defer owner.Close()
	relay, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("relay Connect: %v", err)
	}
	defer relay.Close()

	content := "# Title\n\n\ttabbed line\n\"quotes\" and \\backslashes\nunicode: タブ ✓\nno trailing newline"
	writeArgs, err := json.Marshal(api.NoteWriteArgs{Path: "notes/rt.md", Mode: api.WriteModeReplace, Content: content})
	if err != nil {
		t.Fatalf("marshal write args: %v", err)
	}
	if _, err := owner.Do(ctx, api.OpNoteWrite, writeArgs); err != nil {
		t.Fatalf("write: %v", err)
	}

	readBack := func(s *Session, who string) api.NoteReadResult {
		t.Helper()
		raw, err := s.Do(ctx, api.OpNoteRead, json.RawMessage(`{"path":"notes/rt.md"}`))
		if err != nil {
			t.Fatalf("%s read: %v", who, err)
		}
		var res api.NoteReadResult
		if err := json.Unmarshal(raw, &res); err != nil {
			t.Fatalf("%s decode read result: %v", who, err)
		}
		return res
	}

	if got := readBack(owner, "owner"); got.Content != content {
		t.Fatalf("owner read content = %q, want %q", got.Content, content)
	}
	if got := readBack(relay, "relay"); got.Content != content {
		t.Fatalf("relay read content = %q, want %q", got.Content, content)
	}

	// A frontmatter merge must leave the body byte-identical.
	fmArgs, err := json.Marshal(api.NoteWriteArgs{
		Path:        "notes/rt.md",
		Mode:        api.WriteModeFrontmatter,
		Frontmatter: map[string]any{"status": "draft", "tags": []any{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("marshal frontmatter args: %v", err)
	}
	if _, err := relay.Do(ctx, api.OpNoteWrite, fmArgs); err != nil {
		t.Fatalf("frontmatter write: %v", err)
	}
	got := readBack(owner, "owner")
	if got.Content != content {
		t.Fatalf("frontmatter merge changed the body: %q", got.Content)
	}
	if got.Frontmatter["status"] != "draft" {
		t.Fatalf("frontmatter not merged: %+v", got.Frontmatter)
	}
}

func TestOwnerCloseDoesNotWaitForInFlightRelays(t *testing.T) {
	cfg := electionConfig(t)
	startFakeVaultHost(t, cfg, silentAnswer)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	owner, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("owner Connect: %v", err)
	}
	relay, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("relay Connect: %v", err)
	}
	defer relay.Close()

	// Park one relay call on the unresponsive host with a long deadline.
	errc := make(chan error, 1)
	go func() {
		callCtx, callCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer callCancel()
		_, err := relay.Do(callCtx, api.OpVaultInfo, nil)
		errc <- err
	}()
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	if err := owner.Close(); err != nil {
		t.Fatalf("owner Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Close took %v; it must not drain at the relay deadline", elapsed)
	}
	select {
	case err := <-errc:
		if err == nil {
			t.Fatalf("in-flight relay should fail when the owner closes")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("in-flight relay never returned")
	}
}
