package ai

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (c *scriptedClient) Propose(ctx context.Context, req ai.FixRequest) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	return "code", nil
}

func TestService_LatchesFatalErrors(t *testing.T) {
	client := &scriptedClient{errs: []error{fmt.Errorf("wrapped: %w", ai.ErrAuth)}}
	s := NewService(client, 0)

	_, err := s.Propose(context.Background(), ai.FixRequest{})
	require.ErrorIs(t, err, ai.ErrAuth)

	_, err = s.Propose(context.Background(), ai.FixRequest{})
	assert.ErrorIs(t, err, ai.ErrAuth)
	assert.Equal(t, 1, client.calls)

	calls, failures := s.Stats()
	assert.Equal(t, int64(1), calls)
	assert.Equal(t, int64(1), failures)
}

func TestService_TransientDoesNotLatch(t *testing.T) {
	client := &scriptedClient{errs: []error{ai.ErrTransient}}
	s := NewService(client, 0)

	_, err := s.Propose(context.Background(), ai.FixRequest{})
	require.ErrorIs(t, err, ai.ErrTransient)

	out, err := s.Propose(context.Background(), ai.FixRequest{})
	require.NoError(t, err)
	assert.Equal(t, "code", out)
}

func TestService_ThrottleHonoursContext(t *testing.T) {
	s := NewService(&scriptedClient{}, 1)

	_, err := s.Propose(context.Background(), ai.FixRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Propose(ctx, ai.FixRequest{})
	assert.Error(t, err)
}
