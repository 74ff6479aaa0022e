package exporter

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/zeromicro/go-zero/core/executors"

	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/model"
)

const intakePath = "/intake/v1/events"

// Intake ships completed units to the collector over HTTP, batching
// them through a bulk executor (by count or by interval, whichever
// trips first). Delivery is best-effort: a failed POST is logged and
// counted, never retried.
type Intake struct {
	cfg        *config.Config
	client     *resty.Client
	bulk       *executors.BulkExecutor
	sampler    *sampler
	spanCounts *lru.Cache[string, int]
	meta       metadataPayload
	stats      counters
}

// NewIntake builds the HTTP exporter for cfg.
func NewIntake(cfg *config.Config) *Intake {
	client := resty.New().
		SetBaseURL(cfg.ServerURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", userAgent)
	if cfg.SecretToken != "" {
		client.SetAuthToken(cfg.SecretToken)
	}

	spanCounts, _ := lru.New[string, int](config.MaxTrackedTraces)

	e := &Intake{
		cfg:        cfg,
		client:     client,
		sampler:    newSampler(cfg.SampleRate),
		spanCounts: spanCounts,
		meta:       newMetadataPayload(cfg.AppName),
	}
	e.bulk = executors.NewBulkExecutor(e.ship,
		executors.WithBulkTasks(config.BatchUnits),
		executors.WithBulkInterval(config.BatchInterval))
	return e
}

// ExportSpan enqueues span unless the trace is unsampled, the span is
// shorter than MinSpanDuration, or its transaction hit the MaxSpans cap.
func (e *Intake) ExportSpan(span *model.Span) {
	if !e.sampler.Sampled(span.TraceID) {
		e.stats.dropped.Add(1)
		return
	}
	if span.Duration() < e.cfg.MinSpanDuration {
		e.stats.dropped.Add(1)
		return
	}
	count, _ := e.spanCounts.Get(span.TransactionID)
	if e.cfg.MaxSpans > 0 && count >= e.cfg.MaxSpans {
		e.stats.dropped.Add(1)
		return
	}
	e.spanCounts.Add(span.TransactionID, count+1)

	e.enqueue(newSpanPayload(span))
	e.stats.spans.Add(1)
}

// ExportTransaction enqueues tx. Unsampled transactions still ship,
// flagged sampled=false, with their spans withheld.
func (e *Intake) ExportTransaction(tx *model.Transaction) {
	e.enqueue(newTransactionPayload(tx, e.sampler.Sampled(tx.TraceID)))
	e.stats.transactions.Add(1)
}

// ExportError enqueues rec. Errors are never sampled away.
func (e *Intake) ExportError(rec *model.ErrorRecord) {
	e.enqueue(newErrorPayload(rec))
	e.stats.errors.Add(1)
}

// Flush forces buffered units onto the wire. Delivery failures don't
// surface here; they are logged and counted in Stats.
func (e *Intake) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.bulk.Flush()
	return nil
}

// Close flushes and waits for in-flight batches.
func (e *Intake) Close() {
	e.bulk.Wait()
}

// Stats reports delivery counters.
func (e *Intake) Stats() Stats {
	return e.stats.snapshot()
}

func (e *Intake) enqueue(unit any) {
	if err := e.bulk.Add(unit); err != nil {
		e.stats.failures.Add(1)
		logrus.WithError(err).Warn("Pulse couldn't buffer an intake unit")
	}
}

// ship is the bulk callback: packs one batch into a payload envelope
// and POSTs it to the collector.
func (e *Intake) ship(units []any) {
	p := payload{Metadata: e.meta}
	for _, unit := range units {
		switch u := unit.(type) {
		case transactionPayload:
			p.Transactions = append(p.Transactions, u)
		case spanPayload:
			p.Spans = append(p.Spans, u)
		case errorPayload:
			p.Errors = append(p.Errors, u)
		}
	}

	body, err := sonic.Marshal(p)
	if err != nil {
		e.stats.failures.Add(1)
		logrus.WithError(err).Error("Pulse couldn't encode an intake payload")
		return
	}
	if config.Debug {
		config.PayloadLog().Debug(string(body))
	}

	resp, err := e.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(intakePath)
	if err != nil {
		e.stats.failures.Add(1)
		logrus.WithError(err).Warn("Pulse couldn't reach the collector")
		return
	}
	if !resp.IsSuccess() {
		e.stats.failures.Add(1)
		logrus.WithField("status", resp.Status()).Warn("Pulse couldn't deliver an intake payload")
	}
}
