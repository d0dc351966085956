package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerFunc(t *testing.T) {
	var got time.Duration
	tm := TimerFunc(func(d time.Duration) { got = d })
	time.Sleep(2 * time.Millisecond)
	tm.ObserveDuration()
	require.GreaterOrEqual(t, got, 2*time.Millisecond)

	NopTimer().ObserveDuration()
}
