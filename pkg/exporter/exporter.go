package exporter

import (
	"context"
	"sync/atomic"

	"github.com/pulseapm/pulse-go/pkg/model"
)

// Exporter receives completed trace units. Implementations may buffer;
// Flush ships whatever is buffered and runs once per completed
// transaction. Delivery success is the exporter's concern alone.
type Exporter interface {
	ExportSpan(span *model.Span)
	ExportTransaction(tx *model.Transaction)
	ExportError(rec *model.ErrorRecord)
	Flush(ctx context.Context) error
}

// Stats is a snapshot of an exporter's traffic counters.
type Stats struct {
	Transactions uint64
	Spans        uint64
	Errors       uint64
	// units withheld by sampling or filters
	Dropped uint64
	// failed delivery attempts
	Failures uint64
}

// StatsProvider is implemented by exporters that count their traffic.
type StatsProvider interface {
	Stats() Stats
}

type counters struct {
	transactions atomic.Uint64
	spans        atomic.Uint64
	errors       atomic.Uint64
	dropped      atomic.Uint64
	failures     atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Transactions: c.transactions.Load(),
		Spans:        c.spans.Load(),
		Errors:       c.errors.Load(),
		Dropped:      c.dropped.Load(),
		Failures:     c.failures.Load(),
	}
}
