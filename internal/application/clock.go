package application

import (
	"sync"
	"time"
)

// Clock stamps attempt records and run summaries.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// StepClock starts at Start and moves forward by Step on every call to Now,
// so durations measured against it are positive and reproducible.
type StepClock struct {
	Start time.Time
	Step  time.Duration

	mu sync.Mutex
	n  int
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.Start.Add(time.Duration(c.n) * c.Step)
	c.n++
	return t
}
