package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	attr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	tr "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/model"
)

// Bridge replays completed transactions through an OpenTelemetry
// TracerProvider. Units buffer until Flush, which rebuilds each
// finished tree with the original timestamps and parent links (the
// replayed spans get fresh OTel ids; the originals ride along as
// attributes) and forces the provider to ship it.
type Bridge struct {
	cfg      *config.Config
	provider *sdktr.TracerProvider
	tracer   tr.Tracer
	sampler  *sampler

	mu           sync.Mutex
	transactions []*model.Transaction
	spans        []*model.Span
	errRecords   []*model.ErrorRecord

	stats counters
}

// NewGRPCBridge ships replayed traces to an OTLP/gRPC endpoint derived
// from cfg.ServerURL.
func NewGRPCBridge(ctx context.Context, cfg *config.Config) (*Bridge, error) {
	target, insecure, err := grpcTarget(cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithTimeout(cfg.RequestTimeout),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent)),
	}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if cfg.SecretToken != "" {
		opts = append(opts, otlptracegrpc.WithHeaders(map[string]string{
			"Authorization": "Bearer " + cfg.SecretToken,
		}))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC exporter: %w", err)
	}

	provider := sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(newResource(cfg.AppName)))
	return newBridge(cfg, provider), nil
}

// NewStdoutBridge pretty-prints replayed traces, for local runs.
func NewStdoutBridge(cfg *config.Config) (*Bridge, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating stdout exporter: %w", err)
	}

	provider := sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(newResource(cfg.AppName)))
	return newBridge(cfg, provider), nil
}

func newBridge(cfg *config.Config, provider *sdktr.TracerProvider) *Bridge {
	return &Bridge{
		cfg:      cfg,
		provider: provider,
		tracer:   provider.Tracer("pulse-bridge"),
		sampler:  newSampler(cfg.SampleRate),
	}
}

func newResource(appName string) *resource.Resource {
	return resource.NewSchemaless(
		attr.String("service.name", appName),
		attr.String("telemetry.sdk.name", "pulse-go"),
	)
}

func (b *Bridge) ExportSpan(span *model.Span) {
	b.mu.Lock()
	b.spans = append(b.spans, span)
	b.mu.Unlock()
	b.stats.spans.Add(1)
}

func (b *Bridge) ExportTransaction(tx *model.Transaction) {
	b.mu.Lock()
	b.transactions = append(b.transactions, tx)
	b.mu.Unlock()
	b.stats.transactions.Add(1)
}

func (b *Bridge) ExportError(rec *model.ErrorRecord) {
	b.mu.Lock()
	b.errRecords = append(b.errRecords, rec)
	b.mu.Unlock()
	b.stats.errors.Add(1)
}

// Flush replays every buffered transaction that passes sampling, then
// forces the provider to ship. Spans and errors whose transaction
// never finished are dropped and counted.
func (b *Bridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	transactions := b.transactions
	spans := b.spans
	recs := b.errRecords
	b.transactions = nil
	b.spans = nil
	b.errRecords = nil
	b.mu.Unlock()

	spansByTx := make(map[string][]*model.Span)
	for _, span := range spans {
		spansByTx[span.TransactionID] = append(spansByTx[span.TransactionID], span)
	}
	recsByTx := make(map[string][]*model.ErrorRecord)
	for _, rec := range recs {
		recsByTx[rec.TransactionID] = append(recsByTx[rec.TransactionID], rec)
	}

	for _, tx := range transactions {
		txSpans := spansByTx[tx.ID]
		txRecs := recsByTx[tx.ID]
		delete(spansByTx, tx.ID)
		delete(recsByTx, tx.ID)

		if !b.sampler.Sampled(tx.TraceID) {
			b.stats.dropped.Add(uint64(1 + len(txSpans) + len(txRecs)))
			continue
		}
		b.replay(ctx, tx, txSpans, txRecs)
	}

	for txID, orphans := range spansByTx {
		b.stats.dropped.Add(uint64(len(orphans)))
		logrus.Debugf("dropped %d spans: transaction %s never finished", len(orphans), txID)
	}
	for _, orphans := range recsByTx {
		b.stats.dropped.Add(uint64(len(orphans)))
	}

	if err := b.provider.ForceFlush(ctx); err != nil {
		b.stats.failures.Add(1)
		return err
	}
	return nil
}

// Shutdown stops the underlying provider.
func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.provider.Shutdown(ctx)
}

// Stats reports replay counters.
func (b *Bridge) Stats() Stats {
	return b.stats.snapshot()
}

// replay rebuilds one transaction tree. The transaction becomes the
// root span; model spans hang off it by walking the ParentID chain.
// Spans with an unresolvable parent attach to the root.
func (b *Bridge) replay(ctx context.Context, tx *model.Transaction, spans []*model.Span, recs []*model.ErrorRecord) {
	traceID := convertTraceID(tx.TraceID)

	rootAttrs := []attr.KeyValue{
		attr.String("pulse.transaction_id", tx.ID),
		attr.String("pulse.type", tx.Type),
	}
	if tx.Result != "" {
		rootAttrs = append(rootAttrs, attr.String("pulse.result", tx.Result))
	}
	rootCtx, root := b.startReplay(ctx, traceID, tr.SpanID{}, tx.Name, tx.StartTime(), rootAttrs)

	for _, rec := range recs {
		root.RecordError(errors.New(rec.Message),
			tr.WithTimestamp(rec.Timestamp),
			tr.WithAttributes(attr.String("pulse.error_type", rec.Type)))
	}

	children := make(map[string][]*model.Span, len(spans))
	for _, span := range spans {
		children[span.ParentID] = append(children[span.ParentID], span)
	}
	for _, siblings := range children {
		sort.SliceStable(siblings, func(i, j int) bool {
			return siblings[i].StartTime().Before(siblings[j].StartTime())
		})
	}

	replayed := make(map[string]bool, len(spans))
	var walk func(parentUnitID string, parentCtx context.Context, parentSpanID tr.SpanID)
	walk = func(parentUnitID string, parentCtx context.Context, parentSpanID tr.SpanID) {
		for _, span := range children[parentUnitID] {
			spanCtx, replaySpan := b.buildSpan(parentCtx, traceID, parentSpanID, span)
			replayed[span.ID] = true
			walk(span.ID, spanCtx, replaySpan.SpanContext().SpanID())
		}
	}
	walk(tx.ID, rootCtx, root.SpanContext().SpanID())

	// anything left has an unknown parent and hangs off the root
	for _, span := range spans {
		if !replayed[span.ID] {
			b.buildSpan(rootCtx, traceID, root.SpanContext().SpanID(), span)
		}
	}

	root.End(tr.WithTimestamp(tx.EndTime()))
}

func (b *Bridge) buildSpan(parentCtx context.Context, traceID tr.TraceID, parentSpanID tr.SpanID, span *model.Span) (context.Context, tr.Span) {
	attrs := []attr.KeyValue{
		attr.String("pulse.span_id", span.ID),
		attr.String("pulse.type", span.Type),
	}
	if span.Action != "" {
		attrs = append(attrs, attr.String("pulse.action", span.Action))
	}

	ctx, replaySpan := b.startReplay(parentCtx, traceID, parentSpanID, span.Name, span.StartTime(), attrs)
	replaySpan.End(tr.WithTimestamp(span.EndTime()))
	return ctx, replaySpan
}

func (b *Bridge) startReplay(parentCtx context.Context, traceID tr.TraceID, parentSpanID tr.SpanID, name string, start time.Time, attrs []attr.KeyValue) (context.Context, tr.Span) {
	// an invalid parent id must not carry the sampled flag
	traceFlags := tr.TraceFlags(0x01)
	if !parentSpanID.IsValid() {
		traceFlags = 0x00
	}

	parentSpanCtx := tr.NewSpanContext(tr.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     parentSpanID,
		TraceFlags: traceFlags,
	})

	parentCtx = tr.ContextWithSpanContext(parentCtx, parentSpanCtx)
	return b.tracer.Start(parentCtx, name,
		tr.WithTimestamp(start),
		tr.WithAttributes(attrs...))
}

// convertTraceID hex-decodes id, padding 16-char ids to the 32-char
// OTel width. Returns the zero TraceID when undecodable, which makes
// the replay mint a fresh trace id.
func convertTraceID(id string) tr.TraceID {
	if len(id) == 16 {
		validMiddle := "0000400080000000"
		id = id[:8] + validMiddle + id[8:]
	}
	traceID, err := tr.TraceIDFromHex(id)
	if err != nil {
		return tr.TraceID{}
	}
	return traceID
}

// grpcTarget reduces the collector URL to a dialable host:port.
// Insecure unless the scheme is https; 4317 when no port is given.
func grpcTarget(serverURL string) (string, bool, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", false, fmt.Errorf("parsing server url: %w", err)
	}
	target := u.Host
	if u.Port() == "" {
		target = net.JoinHostPort(u.Hostname(), "4317")
	}
	return target, u.Scheme != "https", nil
}
