package transport

import (
	"context"
	"sync"

	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// MemorySink records delivered events in process memory. Used in tests and
// as the default sink when no brokers are configured, so the pipeline can
// run end-to-end without a network.
type MemorySink struct {
	mu        sync.Mutex
	delivered []domain.AnonymizedEvent
	failing   bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SetFailing toggles injected delivery failure.
func (s *MemorySink) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *MemorySink) Deliver(_ context.Context, ev domain.AnonymizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return dErrors.New(dErrors.CodeTransportFailure, "delivery refused")
	}
	s.delivered = append(s.delivered, ev)
	return nil
}

// Delivered returns a copy of everything delivered so far.
func (s *MemorySink) Delivered() []domain.AnonymizedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AnonymizedEvent, len(s.delivered))
	copy(out, s.delivered)
	return out
}

func (s *MemorySink) Close() error { return nil }
