package api

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNextTimestampStrictlyIncreases(t *testing.T) {
	t.Cleanup(func() {
		atomic.StoreInt64(&lastTimestamp, 0)
	})
	base := time.Now().Add(time.Second).UnixNano()
	atomic.StoreInt64(&lastTimestamp, base)

	first := nextTimestamp()
	second := nextTimestamp()
	if first != base+1 || second != base+2 {
		t.Fatalf("expected %d and %d, got %d and %d", base+1, base+2, first, second)
	}
}

func TestServerTimeAfterPrevious(t *testing.T) {
	future := time.Now().Add(time.Hour)
	if got := serverTime(future); !got.After(future) {
		t.Fatalf("expected %v to be after %v", got, future)
	}
	if got := serverTime(time.Time{}); got.IsZero() {
		t.Fatalf("expected wall-clock based timestamp")
	}
}
