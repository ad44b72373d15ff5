// Package system provides a real clock implementation.
package system

import "time"

// Clock implements harvest.Clock using the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After returns a channel that fires once d has elapsed.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
