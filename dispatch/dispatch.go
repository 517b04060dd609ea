// Package dispatch holds the canonical catalog of vault operations and their
// argument validation. It is transport-agnostic: the ownership listener's
// relay path and the owner's local path both execute through the same
// Dispatcher, which is the only component that understands operation
// semantics.
package dispatch

import (
	"context"
	"encoding/json"
	"sort"

	"pkt.systems/pslog"

	"github.com/megamem/vaultd/internal/correlation"
	"github.com/megamem/vaultd/internal/svcfields"
)

// Link is the transport the dispatcher executes against — in practice the
// vault host connector.
type Link interface {
	Roundtrip(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error)
}

// Dispatcher validates and executes catalog operations.
type Dispatcher struct {
	link Link
	log  pslog.Logger
}

// New wires a dispatcher to its transport.
func New(link Link, logger pslog.Logger) *Dispatcher {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Dispatcher{link: link, log: svcfields.WithSubsystem(logger, "dispatch")}
}

// Do validates args for op and, only when validation passes, executes the
// operation over the link. Validation failures never reach the vault host.
func (d *Dispatcher) Do(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	canonical, err := ValidateArgs(op, args)
	if err != nil {
		d.log.Debug("dispatch.rejected", "op", op, "correlation_id", correlation.ID(ctx), "error", err)
		return nil, err
	}
	result, err := d.link.Roundtrip(ctx, op, canonical)
	if err != nil {
		d.log.Debug("dispatch.failed", "op", op, "correlation_id", correlation.ID(ctx), "error", err)
		return nil, err
	}
	return result, nil
}

// Operations returns the sorted catalog operation names.
func Operations() []string {
	ops := make([]string, 0, len(validators))
	for op := range validators {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Known reports whether op is part of the catalog.
func Known(op string) bool {
	_, ok := validators[op]
	return ok
}
