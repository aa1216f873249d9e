package storage

import (
	"sync/atomic"
	"time"
)

var lastTimestamp atomic.Int64

// nextTimestamp returns the wall clock, bumped by a nanosecond whenever two
// calls would otherwise observe the same instant. Creation times stay unique
// and strictly increasing within the process.
func nextTimestamp() time.Time {
	for {
		now := time.Now().UnixNano()
		last := lastTimestamp.Load()
		if now <= last {
			now = last + 1
		}
		if lastTimestamp.CompareAndSwap(last, now) {
			return time.Unix(0, now)
		}
	}
}
