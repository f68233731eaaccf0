package middleware

import (
	"context"
	"time"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
	"github.com/supportdesk/dispatcher/internal/llm"
	"github.com/supportdesk/dispatcher/internal/retrieval"
	"github.com/supportdesk/dispatcher/internal/scheduling"
)

// The following wrap the three single/few-method external collaborators
// with ExternalCallLimiter, so a noisy session cannot exhaust a shared
// LLM, vector-index, or calendar quota. workspace.Adapter is excluded:
// its channel methods aren't per-call, and PostTicket is already retried
// by the orchestrator's escalation path.

type LimitedLLMClient struct {
	inner   llm.Client
	limiter *ExternalCallLimiter
}

func NewLimitedLLMClient(inner llm.Client, limiter *ExternalCallLimiter) *LimitedLLMClient {
	return &LimitedLLMClient{inner: inner, limiter: limiter}
}

func (c *LimitedLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if !c.limiter.Allow(ctx, "llm") {
		return nil, apperrors.ClassifierUnavailable(nil)
	}
	return c.inner.Complete(ctx, req)
}

type LimitedVectorIndex struct {
	inner   retrieval.VectorIndex
	limiter *ExternalCallLimiter
}

func NewLimitedVectorIndex(inner retrieval.VectorIndex, limiter *ExternalCallLimiter) *LimitedVectorIndex {
	return &LimitedVectorIndex{inner: inner, limiter: limiter}
}

func (v *LimitedVectorIndex) Query(ctx context.Context, text string, k int) ([]retrieval.Chunk, error) {
	if !v.limiter.Allow(ctx, "vector") {
		return nil, apperrors.RetrievalEmpty()
	}
	return v.inner.Query(ctx, text, k)
}

type LimitedCalendarProvider struct {
	inner   scheduling.CalendarProvider
	limiter *ExternalCallLimiter
}

func NewLimitedCalendarProvider(inner scheduling.CalendarProvider, limiter *ExternalCallLimiter) *LimitedCalendarProvider {
	return &LimitedCalendarProvider{inner: inner, limiter: limiter}
}

func (p *LimitedCalendarProvider) FreeBusy(ctx context.Context, start, end time.Time) ([]scheduling.Busy, error) {
	if !p.limiter.Allow(ctx, "calendar") {
		return nil, apperrors.SlotProviderUnavailable(nil)
	}
	return p.inner.FreeBusy(ctx, start, end)
}

func (p *LimitedCalendarProvider) CreateEvent(ctx context.Context, start, end time.Time, attendeeEmail, summary string) (string, error) {
	if !p.limiter.Allow(ctx, "calendar") {
		return "", apperrors.SlotProviderUnavailable(nil)
	}
	return p.inner.CreateEvent(ctx, start, end, attendeeEmail, summary)
}
