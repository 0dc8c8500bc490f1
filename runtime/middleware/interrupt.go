package middleware

import (
	"errors"

	"github.com/xpert-ai/agentgraph/runtime/interrupt"
)

// Interrupt is the typed error a before*/after*/wrap* hook raises to pause
// the Run (spec §4.F: "hooks and tool wrappers raise a typed Interrupt
// {payload}"). The Scheduler/Runner catches it, persists a checkpoint and an
// Interrupt Record from Payload, and terminates the Run INTERRUPTED.
type Interrupt struct {
	Payload interrupt.Record
}

func (e *Interrupt) Error() string {
	return "middleware: run interrupted (" + string(e.Payload.Kind) + ")"
}

// AsInterrupt reports whether err (or one it wraps) is a raised Interrupt,
// returning its payload.
func AsInterrupt(err error) (*Interrupt, bool) {
	var in *Interrupt
	if errors.As(err, &in) {
		return in, true
	}
	return nil, false
}
