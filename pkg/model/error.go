package model

import (
	"time"

	"github.com/pulseapm/pulse-go/pkg/stacktrace"
)

// ErrorRecord captures one fault bound to the transaction that was
// active when it was caught. Records are forwarded to the exporter
// immediately and never retained.
type ErrorRecord struct {
	ID            string
	ParentID      string
	TransactionID string
	TraceID       string
	Type          string
	Message       string
	Culprit       string
	Stacktrace    []stacktrace.Frame
	Timestamp     time.Time
}
