package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/serviya/platform/internal/observability/metrics"
)

const (
	defaultGateConcurrency = 5
	defaultGateTimeout     = 5 * time.Second
)

// Gate bounds concurrent completions with a weighted semaphore and applies
// a per-call timeout. Every call is observed on the broker metrics.
type Gate struct {
	inner    Client
	provider string
	sem      *semaphore.Weighted
	timeout  time.Duration
	metrics  *metrics.BrokerMetrics
}

// NewGate wraps inner with concurrency and deadline limits. provider labels
// the metrics series ("openai", "gemini", "openai+gemini").
func NewGate(inner Client, provider string, maxConcurrency int, timeout time.Duration, m *metrics.BrokerMetrics) *Gate {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultGateConcurrency
	}
	if timeout <= 0 {
		timeout = defaultGateTimeout
	}
	if provider == "" {
		provider = "llm"
	}
	return &Gate{
		inner:    inner,
		provider: provider,
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		timeout:  timeout,
		metrics:  m,
	}
}

func (g *Gate) Complete(ctx context.Context, req Request) (Response, error) {
	op := req.Op
	if op == "" {
		op = "complete"
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.metrics.ObserveLLMCall(g.provider, op, "rejected", 0)
		return Response{}, fmt.Errorf("llm: acquire slot: %w", err)
	}
	defer g.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.inner.Complete(callCtx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		g.metrics.ObserveLLMCall(g.provider, op, "error", elapsed)
		return Response{}, err
	}
	g.metrics.ObserveLLMCall(g.provider, op, "ok", elapsed)
	return resp, nil
}
