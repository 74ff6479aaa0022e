package agent

import (
	"errors"
	"testing"
	"time"

	r "github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/exporter"
	"github.com/pulseapm/pulse-go/pkg/model"
	"github.com/pulseapm/pulse-go/pkg/stacktrace"
	"github.com/pulseapm/pulse-go/pkg/timer"
)

func TestAgent_NestedSpansFormTree(t *testing.T) {
	a, mem, clk := newTestAgent(t)

	tx, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	spanA, err := a.StartTrace("handler", "app")
	r.NoError(t, err)
	spanB, err := a.StartTrace("orders.Fetch", "app")
	r.NoError(t, err)
	spanC, err := a.StartTrace("SELECT FROM orders", "db", WithAction("query"))
	r.NoError(t, err)
	r.Len(t, a.Spans(), 3)

	clk.Advance(10 * time.Millisecond)
	r.NoError(t, a.StopTrace(spanC))
	r.NoError(t, a.StopTrace(spanB))
	r.NoError(t, a.StopTrace(spanA))
	r.NoError(t, a.StopTransaction("HTTP 2xx", nil))

	r.Len(t, mem.Spans, 3)
	r.Empty(t, a.Spans())

	// parent chain mirrors the call nesting
	r.Equal(t, spanB.ID, spanC.ParentID)
	r.Equal(t, spanA.ID, spanB.ParentID)
	r.Equal(t, tx.ID, spanA.ParentID)
	for _, s := range mem.Spans {
		r.Equal(t, tx.ID, s.TransactionID)
		r.Equal(t, tx.TraceID, s.TraceID)
	}
	r.Equal(t, "query", spanC.Action)
}

// startTransaction("checkout","request") > startTrace("db-query","db")
// > stopTrace > stopTransaction("success"): the exporter sees exactly
// one span, then one transaction, both fully timed.
func TestAgent_CheckoutScenario(t *testing.T) {
	clk := clockz.NewFakeClock()
	ordered := &unitOrderExporter{}
	a, err := New(nil, ordered, WithClock(clk))
	r.NoError(t, err)

	tx, err := a.StartTransaction("checkout", "request", "")
	r.NoError(t, err)
	clk.Advance(5 * time.Millisecond)

	span, err := a.StartTrace("db-query", "db")
	r.NoError(t, err)
	clk.Advance(20 * time.Millisecond)
	r.NoError(t, a.StopTrace(span))
	clk.Advance(5 * time.Millisecond)
	r.NoError(t, a.StopTransaction("success", nil))

	r.Equal(t, []string{"span", "transaction"}, ordered.order)
	r.Equal(t, 1, ordered.Flushes)

	got := ordered.Spans[0]
	r.Equal(t, tx.ID, got.ParentID)
	r.False(t, got.StartTime().IsZero())
	r.False(t, got.EndTime().IsZero())
	r.False(t, got.EndTime().Before(got.StartTime()))

	gotTx := ordered.Transactions[0]
	r.Equal(t, "success", gotTx.Result)
	r.False(t, gotTx.StartTime().IsZero())
	r.False(t, gotTx.EndTime().Before(gotTx.StartTime()))
}

func TestAgent_StopTransactionDrainsOpenSpans(t *testing.T) {
	a, mem, clk := newTestAgent(t)

	_, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)
	_, err = a.StartTrace("outer", "app")
	r.NoError(t, err)
	_, err = a.StartTrace("inner", "app")
	r.NoError(t, err)
	clk.Advance(time.Millisecond)

	// the caller stopped neither span
	r.NoError(t, a.StopTransaction("HTTP 5xx", nil))

	r.Empty(t, a.Spans())
	r.Nil(t, a.Transaction())
	r.Len(t, mem.Spans, 2)
	// innermost drains first
	r.Equal(t, "inner", mem.Spans[0].Name)
	r.Equal(t, "outer", mem.Spans[1].Name)
	for _, s := range mem.Spans {
		r.False(t, s.EndTime().IsZero())
	}
}

func TestAgent_RestartAfterStop(t *testing.T) {
	a, _, _ := newTestAgent(t)

	_, err := a.StartTransaction("first", "request", "")
	r.NoError(t, err)
	r.NoError(t, a.StopTransaction("done", nil))
	r.Nil(t, a.Transaction())

	second, err := a.StartTransaction("second", "request", "")
	r.NoError(t, err)
	r.NotNil(t, second)
}

func TestAgent_RejectsDoubleStart(t *testing.T) {
	a, _, _ := newTestAgent(t)

	first, err := a.StartTransaction("first", "request", "")
	r.NoError(t, err)

	_, err = a.StartTransaction("second", "request", "")
	r.ErrorIs(t, err, timer.ErrTimerAlreadyRunning)
	r.Same(t, first, a.Transaction())
}

func TestAgent_StagedTransactionID(t *testing.T) {
	a, _, _ := newTestAgent(t)

	a.SetTransactionID("X")
	r.Equal(t, "X", a.TransactionID())

	tx, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)
	r.Equal(t, "X", tx.ID)

	// the override applies once
	r.NoError(t, a.StopTransaction("", nil))
	next, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)
	r.NotEqual(t, "X", next.ID)
}

func TestAgent_SetTransactionIDOverridesActive(t *testing.T) {
	a, _, _ := newTestAgent(t)

	tx, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	a.SetTransactionID("Y")
	r.Equal(t, "Y", tx.ID)
	r.Equal(t, "Y", a.TransactionID())
}

func TestAgent_StartTraceRequiresTransaction(t *testing.T) {
	a, mem, _ := newTestAgent(t)

	span, err := a.StartTrace("orphan", "app")
	r.ErrorIs(t, err, ErrNoActiveTransaction)
	r.Nil(t, span)
	r.Empty(t, a.Spans())
	r.Empty(t, mem.Spans)
}

func TestAgent_StopTraceVerifiesOrder(t *testing.T) {
	a, mem, _ := newTestAgent(t)

	_, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)
	outer, err := a.StartTrace("outer", "app")
	r.NoError(t, err)
	inner, err := a.StartTrace("inner", "app")
	r.NoError(t, err)

	// stopping the outer span first is a caller bug, not a pop
	err = a.StopTrace(outer)
	r.ErrorIs(t, err, ErrOutOfOrderStop)
	r.Len(t, a.Spans(), 2)
	r.Empty(t, mem.Spans)
	r.True(t, outer.Running())
	r.True(t, inner.Running())

	r.NoError(t, a.StopTrace(inner))
	r.NoError(t, a.StopTrace(outer))
}

func TestAgent_StopTraceWithEmptyStack(t *testing.T) {
	a, _, _ := newTestAgent(t)

	_, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	err = a.StopTrace(&model.Span{})
	r.ErrorIs(t, err, ErrNoActiveSpan)
}

func TestAgent_TraceIDGeneration(t *testing.T) {
	a, _, _ := newTestAgent(t)

	tx, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)
	r.Len(t, tx.TraceID, 32)
	r.NoError(t, a.StopTransaction("", nil))

	linked, err := a.StartTransaction("GET /orders", "request", "11112222333344445555666677778888")
	r.NoError(t, err)
	r.Equal(t, "11112222333344445555666677778888", linked.TraceID)
}

func TestAgent_CapturesCallerFrames(t *testing.T) {
	a, _, _ := newTestAgent(t)

	_, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	span, err := a.StartTrace("step", "app")
	r.NoError(t, err)
	r.NotEmpty(t, span.Stacktrace)
	r.LessOrEqual(t, len(span.Stacktrace), config.MaxStackFrames)
	// the first frame is the instrumented call site, not the agent
	r.Contains(t, span.Stacktrace[0].Function, "TestAgent_CapturesCallerFrames")
}

func TestAgent_NoopCapturer(t *testing.T) {
	a, err := New(nil, exporter.NewMemory(), WithCapturer(stacktrace.NoopCapturer{}))
	r.NoError(t, err)

	_, err = a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)
	span, err := a.StartTrace("step", "app")
	r.NoError(t, err)
	r.Empty(t, span.Stacktrace)
}

func TestAgent_NotifyException(t *testing.T) {
	a, mem, clk := newTestAgent(t)

	tx, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	a.NotifyException(errors.New("boom"))

	r.Len(t, mem.Errors, 1)
	rec := mem.Errors[0]
	r.NotEmpty(t, rec.ID)
	r.Equal(t, tx.ID, rec.ParentID)
	r.Equal(t, tx.ID, rec.TransactionID)
	r.Equal(t, tx.TraceID, rec.TraceID)
	r.Equal(t, "*errors.errorString", rec.Type)
	r.Equal(t, "boom", rec.Message)
	r.Contains(t, rec.Culprit, "TestAgent_NotifyException")
	r.True(t, rec.Timestamp.Equal(clk.Now()))
}

func TestAgent_NotifyExceptionWithoutTransaction(t *testing.T) {
	a, mem, _ := newTestAgent(t)

	a.NotifyException(errors.New("boom"))
	a.NotifyException(nil)
	r.Empty(t, mem.Errors)
}

func TestAgent_RecoverRecordsPanics(t *testing.T) {
	a, mem, _ := newTestAgent(t)

	_, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	func() {
		defer a.Recover()
		panic("kaboom")
	}()
	r.Len(t, mem.Errors, 1)
	r.Equal(t, "panic: kaboom", mem.Errors[0].Message)

	func() {
		defer a.Recover()
		panic(errors.New("typed"))
	}()
	r.Len(t, mem.Errors, 2)
	r.Equal(t, "typed", mem.Errors[1].Message)
}

func TestAgent_StopTransactionWithoutActive(t *testing.T) {
	a, mem, _ := newTestAgent(t)

	r.NoError(t, a.StopTransaction("ignored", nil))
	r.Empty(t, mem.Transactions)
	r.Zero(t, mem.Flushes)
}

func TestAgent_StopTransactionAttachesContext(t *testing.T) {
	a, mem, _ := newTestAgent(t)

	_, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	tctx := &model.Context{User: model.User{ID: "u-1", Username: "kim"}}
	tctx.SetTag("tenant", "acme")
	r.NoError(t, a.StopTransaction("HTTP 2xx", tctx))

	r.Len(t, mem.Transactions, 1)
	got := mem.Transactions[0]
	r.Equal(t, "HTTP 2xx", got.Result)
	r.Same(t, tctx, got.Context)
}

func TestAgent_SpanStartTimeOption(t *testing.T) {
	a, _, clk := newTestAgent(t)

	_, err := a.StartTransaction("GET /orders", "request", "")
	r.NoError(t, err)

	backdated := clk.Now().Add(-50 * time.Millisecond)
	span, err := a.StartTrace("late", "app", WithStartTime(backdated))
	r.NoError(t, err)
	r.True(t, span.StartTime().Equal(backdated))
}

func TestAgent_SetTransaction(t *testing.T) {
	a, mem, clk := newTestAgent(t)

	tx := &model.Transaction{
		Timer:   timer.New(clk),
		ID:      "handoff",
		TraceID: "11112222333344445555666677778888",
		Name:    "staged",
		Type:    "request",
	}
	r.NoError(t, tx.Start(time.Time{}))
	a.SetTransaction(tx)

	r.Same(t, tx, a.Transaction())
	r.Equal(t, "handoff", a.TransactionID())
	r.NoError(t, a.StopTransaction("ok", nil))
	r.Len(t, mem.Transactions, 1)
}

func TestAgent_RejectsInvalidConfig(t *testing.T) {
	cfg, err := config.New(nil)
	r.NoError(t, err)
	cfg.SampleRate = 2

	_, err = New(cfg, exporter.NewMemory())
	r.ErrorIs(t, err, config.ErrInvalidConfig)
}

func newTestAgent(t *testing.T) (*Agent, *exporter.Memory, *clockz.FakeClock) {
	t.Helper()
	clk := clockz.NewFakeClock()
	mem := exporter.NewMemory()
	a, err := New(nil, mem, WithClock(clk))
	r.NoError(t, err)
	return a, mem, clk
}

// unitOrderExporter additionally records the arrival order of unit
// kinds.
type unitOrderExporter struct {
	exporter.Memory
	order []string
}

func (u *unitOrderExporter) ExportSpan(span *model.Span) {
	u.order = append(u.order, "span")
	u.Memory.ExportSpan(span)
}

func (u *unitOrderExporter) ExportTransaction(tx *model.Transaction) {
	u.order = append(u.order, "transaction")
	u.Memory.ExportTransaction(tx)
}
