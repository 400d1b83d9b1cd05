package httpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucketsSweepIdleKeys(t *testing.T) {
	// 60/min with burst 1 refills a bucket in one second.
	set := newBuckets(RateLimitConfig{RequestsPerWindow: 60, Window: time.Minute, Burst: 1})
	require.Equal(t, time.Second, set.refill)

	t0 := time.Now()
	set.get("a", t0)
	set.get("b", t0)
	require.Equal(t, 2, set.len())

	set.get("b", t0.Add(900*time.Millisecond))
	require.Equal(t, 2, set.len(), "nothing idle long enough yet")

	set.get("c", t0.Add(1500*time.Millisecond))
	require.Equal(t, 2, set.len(), "a swept, b still warm")

	set.get("c", t0.Add(5*time.Second))
	require.Equal(t, 1, set.len())
}
