package hostlink

import (
	"encoding/json"

	"github.com/megamem/vaultd/api"
)

// Frame is one newline-delimited JSON message on the host channel. Control
// frames carry Type; operation frames carry ID+Op on the way out and
// ID+OK/Result/Error on the way back.
type Frame struct {
	// Type marks control frames: "hello", "ready", "ping", "pong".
	Type string `json:"type,omitempty"`
	// ID correlates an operation frame with its response frame.
	ID string `json:"id,omitempty"`
	// Op is the catalog operation name on request frames.
	Op string `json:"op,omitempty"`
	// Args carries operation arguments on request frames.
	Args json.RawMessage `json:"args,omitempty"`
	// OK reports operation success on response frames.
	OK *bool `json:"ok,omitempty"`
	// Result carries the operation result when OK is true.
	Result json.RawMessage `json:"result,omitempty"`
	// Error describes the failure when OK is false.
	Error *api.Error `json:"error,omitempty"`
	// Token authenticates the hello frame.
	Token string `json:"token,omitempty"`
	// Vault is the VaultIdentity on hello/ready frames.
	Vault string `json:"vault,omitempty"`
	// PID identifies the connecting process on hello frames.
	PID int `json:"pid,omitempty"`
}

const (
	frameHello = "hello"
	frameReady = "ready"
	framePing  = "ping"
	framePong  = "pong"
)
