package api

import "encoding/json"

// RelayRequest models the JSON payload for POST /v1/relay.
type RelayRequest struct {
	// Operation is the catalog operation name (e.g. "note.read").
	Operation string `json:"operation"`
	// Args carries the operation arguments as raw JSON.
	Args json.RawMessage `json:"args,omitempty"`
	// CorrelationID links the relay call across caller and owner logs.
	// Empty lets the listener generate one.
	CorrelationID string `json:"correlationId,omitempty"`
	// TimeoutMs bounds the dispatch on the owner side. Zero uses the server
	// default; the server caps the value regardless.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`
}

// RelayResponse is the envelope returned by POST /v1/relay.
type RelayResponse struct {
	// Result is the operation result as raw JSON when the call succeeded.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is populated instead of Result when the call failed.
	Error *Error `json:"error,omitempty"`
	// CorrelationID echoes the id the listener used for this call.
	CorrelationID string `json:"correlationId,omitempty"`
}

// HealthResponse is returned by GET /v1/health and consumed by the bootstrap
// probe and the status CLI.
type HealthResponse struct {
	// Status is "ok" while the listener accepts relay traffic.
	Status string `json:"status"`
	// VaultIdentity scopes this listener to one vault. Probes reject
	// mismatches as a configuration error.
	VaultIdentity string `json:"vaultIdentity"`
	// PID is the owner process id.
	PID int `json:"pid"`
	// InstanceID uniquely identifies this owner incarnation.
	InstanceID string `json:"instanceId"`
	// UptimeSeconds counts seconds since the listener bound its port.
	UptimeSeconds int64 `json:"uptimeSeconds"`
	// ActiveRelayCount is the number of relay requests currently in flight.
	ActiveRelayCount int64 `json:"activeRelayCount"`
	// ConnectionState reports the vault host channel state
	// (disconnected/connecting/connected/degraded).
	ConnectionState string `json:"connectionState"`
}

// HealthStatusOK is the Status value reported by a serving listener.
const HealthStatusOK = "ok"
