// Package system provides the clocks used to timestamp detail fetches.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at one instant. Staleness checks evaluated "as of"
// a given time use it.
type Fixed struct {
	at time.Time
}

// NewFixed returns a clock that always reports at.
func NewFixed(at time.Time) *Fixed {
	return &Fixed{at: at.UTC()}
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time {
	return f.at
}
