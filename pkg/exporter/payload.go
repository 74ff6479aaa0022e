package exporter

import (
	"os"
	"runtime"
	"time"

	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/model"
	"github.com/pulseapm/pulse-go/pkg/stacktrace"
)

// Wire shapes for the intake collector. The model stays free of
// serialization concerns; only the exporter owns these.

type payload struct {
	Metadata     metadataPayload      `json:"metadata"`
	Transactions []transactionPayload `json:"transactions,omitempty"`
	Spans        []spanPayload        `json:"spans,omitempty"`
	Errors       []errorPayload       `json:"errors,omitempty"`
}

type metadataPayload struct {
	AppName  string `json:"app_name"`
	Hostname string `json:"hostname,omitempty"`
	Runtime  string `json:"runtime"`
	Agent    string `json:"agent"`
}

type transactionPayload struct {
	ID        string          `json:"id"`
	TraceID   string          `json:"trace_id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Result    string          `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  float64         `json:"duration_ms"`
	Sampled   bool            `json:"sampled"`
	Context   *contextPayload `json:"context,omitempty"`
}

type spanPayload struct {
	ID            string             `json:"id"`
	TraceID       string             `json:"trace_id"`
	TransactionID string             `json:"transaction_id"`
	ParentID      string             `json:"parent_id"`
	Name          string             `json:"name"`
	Type          string             `json:"type"`
	Action        string             `json:"action,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Duration      float64            `json:"duration_ms"`
	Stacktrace    []stacktrace.Frame `json:"stacktrace,omitempty"`
}

type errorPayload struct {
	ID            string             `json:"id"`
	TraceID       string             `json:"trace_id,omitempty"`
	TransactionID string             `json:"transaction_id,omitempty"`
	ParentID      string             `json:"parent_id,omitempty"`
	Type          string             `json:"type"`
	Message       string             `json:"message"`
	Culprit       string             `json:"culprit,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Stacktrace    []stacktrace.Frame `json:"stacktrace,omitempty"`
}

type contextPayload struct {
	User   *userPayload      `json:"user,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Custom map[string]any    `json:"custom,omitempty"`
}

type userPayload struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

const userAgent = "pulse-go/" + config.Version

func newMetadataPayload(appName string) metadataPayload {
	hostname, _ := os.Hostname()
	return metadataPayload{
		AppName:  appName,
		Hostname: hostname,
		Runtime:  runtime.Version(),
		Agent:    userAgent,
	}
}

func newTransactionPayload(tx *model.Transaction, sampled bool) transactionPayload {
	return transactionPayload{
		ID:        tx.ID,
		TraceID:   tx.TraceID,
		Name:      tx.Name,
		Type:      tx.Type,
		Result:    tx.Result,
		Timestamp: tx.StartTime(),
		Duration:  durationMillis(tx.Duration()),
		Sampled:   sampled,
		Context:   newContextPayload(tx.Context),
	}
}

func newSpanPayload(span *model.Span) spanPayload {
	return spanPayload{
		ID:            span.ID,
		TraceID:       span.TraceID,
		TransactionID: span.TransactionID,
		ParentID:      span.ParentID,
		Name:          span.Name,
		Type:          span.Type,
		Action:        span.Action,
		Timestamp:     span.StartTime(),
		Duration:      durationMillis(span.Duration()),
		Stacktrace:    span.Stacktrace,
	}
}

func newErrorPayload(rec *model.ErrorRecord) errorPayload {
	return errorPayload{
		ID:            rec.ID,
		TraceID:       rec.TraceID,
		TransactionID: rec.TransactionID,
		ParentID:      rec.ParentID,
		Type:          rec.Type,
		Message:       rec.Message,
		Culprit:       rec.Culprit,
		Timestamp:     rec.Timestamp,
		Stacktrace:    rec.Stacktrace,
	}
}

func newContextPayload(c *model.Context) *contextPayload {
	if c == nil {
		return nil
	}
	p := &contextPayload{
		Tags:   c.Tags,
		Custom: c.Custom,
	}
	if c.User != (model.User{}) {
		p.User = &userPayload{
			ID:       c.User.ID,
			Username: c.User.Username,
			Email:    c.User.Email,
		}
	}
	return p
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
