package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuyyi51/ylog"

	"github.com/yuyyi51/udp-prague/internal/ecn"
	"github.com/yuyyi51/udp-prague/internal/praguecc"
	"github.com/yuyyi51/udp-prague/internal/receiverstate"
	"github.com/yuyyi51/udp-prague/internal/wire"
)

func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	logger, err := ylog.NewConsoleLogger(ylog.LogLevelNone, 0)
	require.NoError(t, err)
	return &Receiver{
		cfg:    Config{}.WithDefaults(),
		logger: logger,
		engine: praguecc.NewEngine(praguecc.Params{}),
		table:  receiverstate.NewTable(),
	}
}

func TestIngestDataTracksSequenceAndEchoesTimestamp(t *testing.T) {
	r := newTestReceiver(t)
	pkt := &wire.BulkData{Timestamp: 1234, EchoedTimestamp: 0, SeqNr: 1}
	seq, ok := r.ingestData(pkt.Encode(), ecn.L4SID)
	require.True(t, ok)
	require.EqualValues(t, 1, seq)

	_, echoed, _ := r.engine.GetTimeInfo()
	require.EqualValues(t, 1234, echoed)
}

func TestSendSummaryACKReflectsReceivedCounters(t *testing.T) {
	r := newTestReceiver(t)
	pkt := &wire.BulkData{Timestamp: 1, SeqNr: 1}
	r.ingestData(pkt.Encode(), ecn.CE)
	packetsReceived, packetsCE, _, _ := r.engine.GetACKInfo()
	require.EqualValues(t, 1, packetsReceived)
	require.EqualValues(t, 1, packetsCE)
}

func TestMaxBlockACKReportsFitsHeader(t *testing.T) {
	n := maxBlockACKReports(1400)
	require.Greater(t, n, 600)
}

func TestIngestDataFeedsRTDataIntoFrameTable(t *testing.T) {
	r := newTestReceiver(t)
	r.frames = receiverstate.NewFrameTable()

	// wire.RTData.Encode always produces its fixed 25-byte header; the
	// frame closes once frame_sent+len(payload) reaches frame_size.
	const headerSize = 25

	first := &wire.RTData{Timestamp: 1, SeqNr: 1, FrameNr: 4, FrameSent: 0, FrameSize: 2 * headerSize}
	_, ok := r.ingestData(first.Encode(), ecn.L4SID)
	require.True(t, ok)
	require.EqualValues(t, 0, r.frames.RecvFrames)

	second := &wire.RTData{Timestamp: 2, SeqNr: 2, FrameNr: 4, FrameSent: headerSize, FrameSize: 2 * headerSize}
	_, ok = r.ingestData(second.Encode(), ecn.L4SID)
	require.True(t, ok)
	require.EqualValues(t, 1, r.frames.RecvFrames)
}
