// Package system provides the wall clock used to stamp progress entries.
package system

import "time"

// Clock implements artwork.Clock using time.Now truncated to milliseconds,
// the precision the progress file stores.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
