package receiverstate

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuyyi51/udp-prague/internal/ecn"
)

func TestReceiveTracksContiguousWindow(t *testing.T) {
	tab := NewTable()
	tab.Receive(1, 0, ecn.L4SID)
	require.EqualValues(t, 1, tab.StartSeq)
	require.EqualValues(t, 2, tab.EndSeq)

	tab.Receive(3, 100, ecn.L4SID)
	require.EqualValues(t, 4, tab.EndSeq) // window widens to cover the gap at seq 2
}

func TestReceiveDuplicatePromotesToCE(t *testing.T) {
	tab := NewTable()
	tab.Receive(1, 0, ecn.L4SID)
	tab.Receive(1, 50, ecn.CE)
	require.Equal(t, ecn.CE, tab.slots[idx(1)].arrivalECN)
}

func TestGenerateBlockACKCoversWindowExactlyOnce(t *testing.T) {
	tab := NewTable()
	for seq := int32(1); seq <= 4; seq++ {
		tab.Receive(seq, seq*1000, ecn.L4SID)
	}
	ack := tab.GenerateBlockACK(10_000, 10)
	require.NotNil(t, ack)
	require.EqualValues(t, 1, ack.BeginSeq)
	require.Len(t, ack.Reports, 4)
	for _, r := range ack.Reports {
		require.True(t, r.Received)
	}
	// nothing left to report until new packets arrive
	require.Nil(t, tab.GenerateBlockACK(10_000, 10))
}

func TestGenerateBlockACKReportsGapAsLost(t *testing.T) {
	tab := NewTable()
	tab.Receive(1, 0, ecn.L4SID)
	tab.Receive(3, 0, ecn.L4SID) // seq 2 never arrives
	ack := tab.GenerateBlockACK(5000, 10)
	require.Len(t, ack.Reports, 3)
	require.True(t, ack.Reports[0].Received)
	require.False(t, ack.Reports[1].Received)
	require.True(t, ack.Reports[2].Received)
}

func TestGenerateBlockACKDoesNotReemitAckdWithoutNewData(t *testing.T) {
	tab := NewTable()
	tab.Receive(1, 0, ecn.L4SID)
	tab.GenerateBlockACK(100, 10) // seq 1 -> Ackd
	require.Equal(t, StatusAckd, tab.slots[idx(1)].status)

	// no new data; StartSeq==EndSeq so nothing more to report
	require.Nil(t, tab.GenerateBlockACK(200, 10))
}

func TestGenerateBlockACKRespectsMaxReports(t *testing.T) {
	tab := NewTable()
	for seq := int32(1); seq <= 5; seq++ {
		tab.Receive(seq, 0, ecn.L4SID)
	}
	ack := tab.GenerateBlockACK(1000, 2)
	require.Len(t, ack.Reports, 2)
	require.EqualValues(t, 3, tab.StartSeq)
}
