package receiverstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameTableClosesOnTrimmedFinalPacket(t *testing.T) {
	f := NewFrameTable()
	f.OnPacketArrived(0, 1, 0, 2200, 1400)
	require.EqualValues(t, 0, f.RecvFrames)

	f.OnPacketArrived(0, 2, 1400, 2200, 800)
	require.EqualValues(t, 1, f.RecvFrames)
	require.EqualValues(t, 0, f.LostFrames)
}

func TestFrameTableCountsGapAsLost(t *testing.T) {
	f := NewFrameTable()
	f.OnPacketArrived(5, 10, 0, 2200, 1400)
	// seq 11 never arrives; seq 12 does, leaving a gap within the frame
	f.OnPacketArrived(5, 12, 1400, 2200, 800)
	require.EqualValues(t, 1, f.LostFrames)
	require.EqualValues(t, 0, f.RecvFrames)
}

func TestFrameTableReusesSlotAfterClose(t *testing.T) {
	f := NewFrameTable()
	f.OnPacketArrived(9, 1, 0, 150, 150)
	require.EqualValues(t, 1, f.RecvFrames)

	// frame_nr 9 + FrameBufferSize maps to the same slot; a fresh
	// contiguous frame there should resolve independently.
	reused := int32(9 + FrameBufferSize)
	f.OnPacketArrived(reused, 100, 0, 150, 150)
	require.EqualValues(t, 2, f.RecvFrames)
}
