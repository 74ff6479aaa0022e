package exporter

import (
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulseapm/pulse-go/pkg/config"
)

// sampler memoizes one keep-or-drop decision per trace id so every
// unit of a trace lands on the same side of the rate.
type sampler struct {
	rate      float64
	decisions *lru.Cache[string, bool]
}

func newSampler(rate float64) *sampler {
	decisions, _ := lru.New[string, bool](config.MaxTrackedTraces)
	return &sampler{
		rate:      rate,
		decisions: decisions,
	}
}

// Sampled reports the decision for traceID, drawing it on first sight.
func (s *sampler) Sampled(traceID string) bool {
	if s.rate >= 1 {
		return true
	}
	if decision, hit := s.decisions.Get(traceID); hit {
		return decision
	}
	decision := s.rate > 0 && rand.Float64() < s.rate
	s.decisions.Add(traceID, decision)
	return decision
}
