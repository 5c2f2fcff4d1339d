// Package timeutil provides a clock that tests can control and a recorder
// for how long each stage of a run takes.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package a run needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the duration since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a manually controlled clock for testing. When a step is set
// every call to Now moves the clock forward by it.
type MockClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time, then applies the step.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Since returns the duration from t to the mocked current time. It does not
// apply the step.
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetStep makes every later call to Now advance the clock by d.
func (c *MockClock) SetStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

// StageDuration is how long one named stage took.
type StageDuration struct {
	Stage    string
	Duration time.Duration
}

// Stages records stage durations in the order the stages ran.
type Stages struct {
	clock Clock

	mu   sync.Mutex
	done []StageDuration
}

// NewStages returns a recorder timed by clock. A nil clock uses RealClock.
func NewStages(clock Clock) *Stages {
	if clock == nil {
		clock = RealClock{}
	}
	return &Stages{clock: clock}
}

// Time runs fn and records its duration under name, whether or not fn fails.
func (s *Stages) Time(name string, fn func() error) error {
	start := s.clock.Now()
	err := fn()
	d := s.clock.Since(start)

	s.mu.Lock()
	s.done = append(s.done, StageDuration{Stage: name, Duration: d})
	s.mu.Unlock()
	return err
}

// Durations returns a copy of the recorded stages.
func (s *Stages) Durations() []StageDuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageDuration(nil), s.done...)
}

// Total is the sum of the recorded durations.
func (s *Stages) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Durations() {
		total += d.Duration
	}
	return total
}
