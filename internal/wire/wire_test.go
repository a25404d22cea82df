package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBulkDataRoundTrip(t *testing.T) {
	d := &BulkData{Timestamp: 123456, EchoedTimestamp: -99, SeqNr: 42}
	got, err := DecodeBulkData(d.Encode())
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestRTDataRoundTrip(t *testing.T) {
	d := &RTData{Timestamp: 1, EchoedTimestamp: 2, SeqNr: 3, FrameNr: 4, FrameSent: 5, FrameSize: 6}
	got, err := DecodeRTData(d.Encode())
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestSummaryACKRoundTrip(t *testing.T) {
	a := &SummaryACK{AckSeq: 7, Timestamp: 8, EchoedTimestamp: 9, PacketsReceived: 10, PacketsCE: 1, PacketsLost: 0, ErrorL4S: true}
	got, err := DecodeSummaryACK(a.Encode())
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestBlockACKRoundTrip(t *testing.T) {
	a := &BlockACK{
		BeginSeq: 100,
		Reports: []Report{
			{Received: true, ECN: 3, Offset: 1023},
			{},
			{Received: true, ECN: 1, Offset: 0},
		},
	}
	got, err := DecodeBlockACK(a.Encode())
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestDecodeRejectsShortPackets(t *testing.T) {
	_, err := DecodeBulkData([]byte{byte(TypeBulkData), 0, 0})
	require.ErrorIs(t, err, ErrTooShort)

	_, err = DecodeBlockACK([]byte{byte(TypeBlockACK), 0, 0, 0, 0, 0, 2, 0})
	require.ErrorIs(t, err, ErrTooShort)
}

func TestPeekTypeRejectsUnknown(t *testing.T) {
	_, err := PeekType([]byte{99, 1, 2, 3})
	require.ErrorIs(t, err, ErrUnknownType)

	typ, err := PeekType([]byte{byte(TypeSummaryACK)})
	require.NoError(t, err)
	require.Equal(t, TypeSummaryACK, typ)
}

func TestReportPacking(t *testing.T) {
	r := Report{Received: true, ECN: 3, Offset: 8191}
	require.Equal(t, r, unpackReport(r.pack()))
	require.Equal(t, Report{}, unpackReport(Report{}.pack()))
}
