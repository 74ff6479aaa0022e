package exporter

import (
	"context"
	"sync"

	"github.com/pulseapm/pulse-go/pkg/model"
)

// Memory records every exported unit, for tests and local inspection.
type Memory struct {
	mu           sync.Mutex
	Transactions []*model.Transaction
	Spans        []*model.Span
	Errors       []*model.ErrorRecord
	Flushes      int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ExportSpan(span *model.Span) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Spans = append(m.Spans, span)
}

func (m *Memory) ExportTransaction(tx *model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transactions = append(m.Transactions, tx)
}

func (m *Memory) ExportError(rec *model.ErrorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, rec)
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flushes++
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Transactions: uint64(len(m.Transactions)),
		Spans:        uint64(len(m.Spans)),
		Errors:       uint64(len(m.Errors)),
	}
}
