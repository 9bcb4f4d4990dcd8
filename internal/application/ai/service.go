package ai

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
)

// Service fronts the fix oracle. It throttles calls and, once the provider
// has refused credentials or quota, fails every later call without a request.
type Service struct {
	client  ai.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	fatal error

	calls    atomic.Int64
	failures atomic.Int64
}

// NewService wraps client. perMinute <= 0 disables throttling.
func NewService(client ai.Client, perMinute int) *Service {
	s := &Service{client: client}
	if perMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}
	return s
}

func (s *Service) Propose(ctx context.Context, req ai.FixRequest) (string, error) {
	if err := s.fatalErr(); err != nil {
		return "", fmt.Errorf("oracle disabled for this run: %w", err)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	s.calls.Add(1)
	out, err := s.client.Propose(ctx, req)
	if err != nil {
		s.failures.Add(1)
		if ai.IsFatal(err) {
			s.mu.Lock()
			if s.fatal == nil {
				s.fatal = err
			}
			s.mu.Unlock()
		}
		return "", err
	}
	return out, nil
}

func (s *Service) fatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Stats returns the number of oracle calls and failed calls so far.
func (s *Service) Stats() (calls, failures int64) {
	return s.calls.Load(), s.failures.Load()
}
