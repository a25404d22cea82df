package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSenderReporterSkipsFirstCall(t *testing.T) {
	r := NewSenderReporter(time.Second)
	_, ok := r.OnACK(0, 0, 1, 0, 0)
	require.False(t, ok)
}

func TestSenderReporterEmitsAfterInterval(t *testing.T) {
	r := NewSenderReporter(time.Second)
	r.OnACK(0, 0, 0, 0, 0)
	r.OnPacketSent(1000)
	snap, ok := r.OnACK(1_000_001, -5000, 100, 10, 5)
	require.True(t, ok)
	require.EqualValues(t, 100, snap.ReceivedInWindow)
	require.EqualValues(t, 10, snap.MarksInWindow)
	require.EqualValues(t, 5, snap.LostInWindow)
	require.InDelta(t, 10.0, snap.MarkPercent, 0.01)
	require.InDelta(t, 5.0, snap.LossPercent, 0.01)
}

func TestSenderReporterResetsWindowAfterReport(t *testing.T) {
	r := NewSenderReporter(time.Second)
	r.OnACK(0, 0, 0, 0, 0)
	_, ok := r.OnACK(1_000_001, 0, 100, 10, 5)
	require.True(t, ok)
	_, ok = r.OnACK(1_000_002, 0, 100, 10, 5)
	require.False(t, ok)
}
