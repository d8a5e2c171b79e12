// Package system provides the wall-clock implementation of ingest.Clock.
package system

import "time"

// Clock returns the current UTC time. All staleness and lock-TTL math in the
// ingestion core runs on UTC timestamps.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
