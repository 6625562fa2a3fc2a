// Package system provides the wall clock used to stamp ingestions.
package system

import "time"

// Clock implements race.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current date in loc as a YYYYMMDD stamp. Race days
// follow the venue's local calendar, so callers pass Japan time.
func (c Clock) Today(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return c.Now().In(loc).Format("20060102")
}
