// Package system is the wall clock behind session timestamps and date
// normalization.
package system

import "time"

// Clock reads the wall clock in UTC so stored session times compare equal
// across backends.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now implements crawler.Clock.
func (*Clock) Now() time.Time {
	return time.Now().UTC()
}
