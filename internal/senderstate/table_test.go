package senderstate

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuyyi51/udp-prague/internal/wire"
)

func TestSummaryACKMarksAckedAndWalksBackLoss(t *testing.T) {
	tab := NewTable()
	for seq := int32(1); seq <= 5; seq++ {
		tab.MarkSent(seq, seq*1000)
	}
	tab.IngestSummaryACK(5, 2) // packets 3 and 4 lost relative to 5

	require.Equal(t, StatusRecv, tab.StatusOf(5))
	require.Equal(t, StatusLost, tab.StatusOf(4))
	require.Equal(t, StatusLost, tab.StatusOf(3))
	require.Equal(t, StatusSent, tab.StatusOf(2))
}

func TestBlockACKResolvesReceivedAndLost(t *testing.T) {
	tab := NewTable()
	for seq := int32(1); seq <= 4; seq++ {
		tab.MarkSent(seq, seq*1000)
	}
	ack := &wire.BlockACK{
		BeginSeq: 1,
		Reports: []wire.Report{
			{Received: true, ECN: 1, Offset: 10},
			{}, // seq 2 lost
			{Received: true, ECN: 3, Offset: 5}, // seq 3, CE marked
			{Received: true, ECN: 1, Offset: 1},
		},
	}
	res := tab.IngestBlockACK(5000, ack)
	require.EqualValues(t, 3, res.NewlyReceived)
	require.EqualValues(t, 1, res.NewlyLost)
	require.EqualValues(t, 1, res.NewlyCE)
	require.Len(t, res.RTTSamples, 3)
	require.Equal(t, StatusLost, tab.StatusOf(2))
	require.Equal(t, StatusRecv, tab.StatusOf(1))
}

func TestBlockACKIgnoresAlreadyReceivedSlot(t *testing.T) {
	tab := NewTable()
	tab.MarkSent(1, 0)
	first := &wire.BlockACK{BeginSeq: 1, Reports: []wire.Report{{Received: true, ECN: 1, Offset: 1}}}
	tab.IngestBlockACK(1000, first)

	tab.lastAck = 1
	second := &wire.BlockACK{BeginSeq: 1, Reports: []wire.Report{{Received: true, ECN: 1, Offset: 2}}}
	res := tab.IngestBlockACK(2000, second)
	require.EqualValues(t, 0, res.NewlyReceived)
}

func TestBlockACKMarksGapBetweenAcksAsLost(t *testing.T) {
	tab := NewTable()
	for seq := int32(1); seq <= 3; seq++ {
		tab.MarkSent(seq, 0)
	}
	tab.IngestBlockACK(1000, &wire.BlockACK{BeginSeq: 1, Reports: []wire.Report{{Received: true, ECN: 1, Offset: 1}}})
	// seq 2 never gets a report in either ACK; begin_seq jumps to 3
	res := tab.IngestBlockACK(2000, &wire.BlockACK{BeginSeq: 3, Reports: []wire.Report{{Received: true, ECN: 1, Offset: 1}}})
	require.EqualValues(t, 1, res.NewlyLost)
	require.Equal(t, StatusLost, tab.StatusOf(2))
}

func TestFrameTableResolvesReceivedAndLostFrames(t *testing.T) {
	ft := NewFrameTable()
	ft.OnPacketSent(1)
	ft.OnPacketSent(1)
	ft.OnFrameClosed(1)
	ft.Resolve(1, false)
	require.EqualValues(t, 0, ft.RecvFrames) // one packet still outstanding
	ft.Resolve(1, true)
	require.EqualValues(t, 1, ft.LostFrames)
}
