package model

import (
	"github.com/pulseapm/pulse-go/pkg/stacktrace"
	"github.com/pulseapm/pulse-go/pkg/timer"
)

// Span is a timed sub-operation inside a transaction. ParentID is
// fixed at creation: the innermost open span at start time, or the
// transaction itself when the stack was empty.
type Span struct {
	timer.Timer

	ID            string
	ParentID      string
	TransactionID string
	TraceID       string
	Name          string
	Type          string
	Action        string
	Stacktrace    []stacktrace.Frame
}
