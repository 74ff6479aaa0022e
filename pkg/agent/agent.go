package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/exporter"
	"github.com/pulseapm/pulse-go/pkg/model"
	"github.com/pulseapm/pulse-go/pkg/stacktrace"
	"github.com/pulseapm/pulse-go/pkg/timer"
)

var (
	// ErrNoActiveTransaction reports a span started with no
	// transaction to hang it on.
	ErrNoActiveTransaction = errors.New("no active transaction")
	// ErrNoActiveSpan reports a stop with nothing on the span stack.
	ErrNoActiveSpan = errors.New("no active span")
	// ErrOutOfOrderStop reports a stop whose handle is not the
	// innermost open span. Spans close in reverse start order.
	ErrOutOfOrderStop = errors.New("span stopped out of order")
)

// Agent tracks one in-flight transaction and the stack of spans open
// inside it. It holds per-request state with no internal locking:
// concurrent requests each get their own Agent over a shared exporter.
type Agent struct {
	cfg      *config.Config
	exporter exporter.Exporter
	clock    clockz.Clock
	capturer stacktrace.Capturer
	binder   *ErrorBinder

	ShutdownCtx context.Context

	// active transaction, nil between requests
	transaction *model.Transaction

	// open spans, innermost last
	spans []*model.Span

	// id override staged for the next transaction
	pendingID string
}

// Option adjusts an Agent at construction.
type Option func(*Agent)

// WithClock swaps the wall clock, for tests.
func WithClock(clk clockz.Clock) Option {
	return func(a *Agent) { a.clock = clk }
}

// WithCapturer swaps the stack capturer. stacktrace.NoopCapturer
// disables capture entirely.
func WithCapturer(c stacktrace.Capturer) Option {
	return func(a *Agent) { a.capturer = c }
}

// New builds an Agent that hands completed units to exp. A nil cfg
// loads defaults without file or env sources.
func New(cfg *config.Config, exp exporter.Exporter, opts ...Option) (*Agent, error) {
	if cfg == nil {
		var err error
		cfg, err = config.New(nil) // defaults, under testing
		if err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:         cfg,
		exporter:    exp,
		clock:       clockz.RealClock,
		capturer:    stacktrace.RuntimeCapturer{},
		ShutdownCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.binder = &ErrorBinder{Capturer: a.capturer, Clock: a.clock}
	return a, nil
}

// StartTransaction opens the root unit for a request. A non-empty
// traceID correlates the transaction with an upstream caller,
// otherwise a fresh one is generated. A staged id override (see
// SetTransactionID) is applied and cleared. Starting while another
// transaction is active fails and keeps the active one.
func (a *Agent) StartTransaction(name, typ, traceID string) (*model.Transaction, error) {
	if a.transaction != nil {
		return nil, fmt.Errorf("transaction %q still active: %w",
			a.transaction.Name, timer.ErrTimerAlreadyRunning)
	}

	tx := &model.Transaction{
		Timer:   timer.New(a.clock),
		ID:      model.NewUnitID(),
		TraceID: traceID,
		Name:    name,
		Type:    typ,
	}
	if tx.TraceID == "" {
		tx.TraceID = model.NewTraceID()
	}
	if a.pendingID != "" {
		tx.ID = a.pendingID
		a.pendingID = ""
	}
	if err := tx.Start(time.Time{}); err != nil {
		return nil, err
	}

	a.transaction = tx
	logrus.Debugf("started transaction %s for trace %s", tx.ID, tx.TraceID)
	return tx, nil
}

// SetTransactionID overrides the active transaction's id, or stages
// the override for the next StartTransaction when none is active.
func (a *Agent) SetTransactionID(id string) {
	if a.transaction != nil {
		a.transaction.ID = id
		return
	}
	a.pendingID = id
}

// TransactionID reports the active transaction's id, falling back to
// the staged override.
func (a *Agent) TransactionID() string {
	if a.transaction != nil {
		return a.transaction.ID
	}
	return a.pendingID
}

// Config reports the configuration the Agent was built with.
func (a *Agent) Config() *config.Config {
	return a.cfg
}

// Transaction reports the active transaction, nil between requests.
func (a *Agent) Transaction() *model.Transaction {
	return a.transaction
}

// SetTransaction replaces the active transaction wholesale, for
// handing one between stages of the same request.
func (a *Agent) SetTransaction(tx *model.Transaction) {
	a.transaction = tx
}

// Spans reports the currently open spans, outermost first.
func (a *Agent) Spans() []*model.Span {
	return a.spans
}

// SpanOption adjusts a span at start.
type SpanOption func(*spanOptions)

type spanOptions struct {
	startTime time.Time
	action    string
}

// WithStartTime backdates the span to at instead of clock-now.
func WithStartTime(at time.Time) SpanOption {
	return func(o *spanOptions) { o.startTime = at }
}

// WithAction tags the span with a sub-classification, like "query".
func WithAction(action string) SpanOption {
	return func(o *spanOptions) { o.action = action }
}

// StartTrace opens a span under the innermost open span, or directly
// under the transaction when none is open. The span carries up to
// config.MaxStackFrames frames of the caller's stack.
func (a *Agent) StartTrace(name, typ string, opts ...SpanOption) (*model.Span, error) {
	if a.transaction == nil {
		return nil, fmt.Errorf("starting span %q: %w", name, ErrNoActiveTransaction)
	}

	var o spanOptions
	for _, opt := range opts {
		opt(&o)
	}

	parentID := a.transaction.ID
	if n := len(a.spans); n > 0 {
		parentID = a.spans[n-1].ID
	}

	span := &model.Span{
		Timer:         timer.New(a.clock),
		ID:            model.NewUnitID(),
		ParentID:      parentID,
		TransactionID: a.transaction.ID,
		TraceID:       a.transaction.TraceID,
		Name:          name,
		Type:          typ,
		Action:        o.action,
		Stacktrace:    a.capturer.CaptureFrames(1, config.MaxStackFrames),
	}
	if err := span.Start(o.startTime); err != nil {
		return nil, err
	}

	a.spans = append(a.spans, span)
	return span, nil
}

// StopTrace closes span, which must be the innermost open span.
// Out-of-order stops fail loudly and leave the stack unchanged.
func (a *Agent) StopTrace(span *model.Span) error {
	n := len(a.spans)
	if n == 0 {
		return fmt.Errorf("stopping a span: %w", ErrNoActiveSpan)
	}
	top := a.spans[n-1]
	if span != top {
		return fmt.Errorf("innermost open span is %q: %w", top.Name, ErrOutOfOrderStop)
	}
	if err := top.Stop(time.Time{}); err != nil {
		return err
	}

	a.spans = a.spans[:n-1]
	a.exporter.ExportSpan(top)
	return nil
}

// StopTransaction force-closes every span still open, innermost
// first, so nothing dangles past its transaction. It then stops the
// transaction with result, attaches tctx when non-nil, hands both to
// the exporter and triggers one flush. A no-op when no transaction is
// active.
func (a *Agent) StopTransaction(result string, tctx *model.Context) error {
	if a.transaction == nil {
		return nil
	}

	for n := len(a.spans); n > 0; n = len(a.spans) {
		span := a.spans[n-1]
		if err := span.Stop(time.Time{}); err != nil {
			logrus.WithError(err).Warnf("Pulse couldn't stop span %q during drain", span.Name)
		}
		a.spans = a.spans[:n-1]
		a.exporter.ExportSpan(span)
	}

	tx := a.transaction
	if err := tx.Stop(time.Time{}); err != nil {
		return fmt.Errorf("stopping transaction %q: %w", tx.Name, err)
	}
	tx.Result = result
	if tctx != nil {
		tx.Context = tctx
	}

	a.transaction = nil
	a.exporter.ExportTransaction(tx)
	if err := a.exporter.Flush(a.ShutdownCtx); err != nil {
		logrus.WithError(err).Warn("Pulse couldn't flush the exporter")
	}
	return nil
}

// NotifyException binds fault to the active transaction and forwards
// the record immediately. Without an active transaction, or with a
// nil fault, nothing is recorded.
func (a *Agent) NotifyException(fault error) {
	if fault == nil || a.transaction == nil {
		return
	}
	rec := a.binder.Bind(fault, a.transaction)
	a.exporter.ExportError(rec)
	logrus.Debugf("recorded %s against transaction %s", rec.Type, rec.ParentID)
}

// Recover converts a panic into a recorded error. Meant to sit
// directly in a defer:
//
//	defer agent.Recover()
func (a *Agent) Recover() {
	v := recover()
	if v == nil {
		return
	}
	fault, ok := v.(error)
	if !ok {
		fault = fmt.Errorf("panic: %v", v)
	}
	a.NotifyException(fault)
}
