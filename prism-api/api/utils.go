package api

import (
	"sync/atomic"
	"time"
)

var (
	lastTimestamp int64
)

func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// serverTime returns an updatedAt for a write that is newer than prev and than
// every timestamp this process issued before.
func serverTime(prev time.Time) time.Time {
	ts := time.Unix(0, nextTimestamp()).UTC()
	if !ts.After(prev) {
		ts = prev.Add(time.Nanosecond).UTC()
	}
	return ts
}
