// Package wire implements the bit-exact, big-endian packet codec for
// the four UDP-Prague datagram types: bulk data, RT data, summary ACK
// and block ACK. Encoding/decoding never aliases the socket receive
// buffer; Decode always returns an owned struct.
package wire

import (
	"encoding/binary"
	"errors"
)

// Type is the leading octet on the wire identifying a packet's layout.
type Type uint8

const (
	TypeBulkData   Type = 1
	TypeRTData     Type = 2
	TypeSummaryACK Type = 17
	TypeBlockACK   Type = 18
)

// ErrTooShort is returned when a datagram is smaller than the minimum
// fixed header for its declared type.
var ErrTooShort = errors.New("wire: packet shorter than declared type's minimum header")

// ErrUnknownType is returned by PeekType for any leading byte other than
// 1, 2, 17 or 18. Per the wire contract such packets are ignored by
// callers, not treated as fatal.
var ErrUnknownType = errors.New("wire: unknown packet type")

// Report bit layout within a block-ACK's per-slot uint16.
const (
	reportReceivedBit = 0x8000
	reportECNShift    = 13
	reportECNMask     = 0x3 << reportECNShift
	reportOffsetMask  = 0x1fff
)

// BulkData is packet type 1.
type BulkData struct {
	Timestamp       int32
	EchoedTimestamp int32
	SeqNr           int32
}

const bulkDataSize = 1 + 4 + 4 + 4

func (d *BulkData) Encode() []byte {
	buf := make([]byte, bulkDataSize)
	off := writeType(buf, TypeBulkData)
	off = writeInt32(buf, off, d.Timestamp)
	off = writeInt32(buf, off, d.EchoedTimestamp)
	writeInt32(buf, off, d.SeqNr)
	return buf
}

func DecodeBulkData(b []byte) (*BulkData, error) {
	if len(b) < bulkDataSize {
		return nil, ErrTooShort
	}
	d := &BulkData{}
	off := 1
	d.Timestamp, off = readInt32(b, off)
	d.EchoedTimestamp, off = readInt32(b, off)
	d.SeqNr, _ = readInt32(b, off)
	return d, nil
}

// RTData is packet type 2, the frame-aware variant of BulkData.
type RTData struct {
	Timestamp       int32
	EchoedTimestamp int32
	SeqNr           int32
	FrameNr         int32
	FrameSent       int32
	FrameSize       int32
}

const rtDataSize = 1 + 4*6

func (d *RTData) Encode() []byte {
	buf := make([]byte, rtDataSize)
	off := writeType(buf, TypeRTData)
	off = writeInt32(buf, off, d.Timestamp)
	off = writeInt32(buf, off, d.EchoedTimestamp)
	off = writeInt32(buf, off, d.SeqNr)
	off = writeInt32(buf, off, d.FrameNr)
	off = writeInt32(buf, off, d.FrameSent)
	writeInt32(buf, off, d.FrameSize)
	return buf
}

func DecodeRTData(b []byte) (*RTData, error) {
	if len(b) < rtDataSize {
		return nil, ErrTooShort
	}
	d := &RTData{}
	off := 1
	d.Timestamp, off = readInt32(b, off)
	d.EchoedTimestamp, off = readInt32(b, off)
	d.SeqNr, off = readInt32(b, off)
	d.FrameNr, off = readInt32(b, off)
	d.FrameSent, off = readInt32(b, off)
	d.FrameSize, _ = readInt32(b, off)
	return d, nil
}

// SummaryACK is packet type 17, the cumulative-counter feedback message.
type SummaryACK struct {
	AckSeq          int32
	Timestamp       int32
	EchoedTimestamp int32
	PacketsReceived int32
	PacketsCE       int32
	PacketsLost     int32
	ErrorL4S        bool
}

const summaryACKSize = 1 + 4*6 + 1

func (a *SummaryACK) Encode() []byte {
	buf := make([]byte, summaryACKSize)
	off := writeType(buf, TypeSummaryACK)
	off = writeInt32(buf, off, a.AckSeq)
	off = writeInt32(buf, off, a.Timestamp)
	off = writeInt32(buf, off, a.EchoedTimestamp)
	off = writeInt32(buf, off, a.PacketsReceived)
	off = writeInt32(buf, off, a.PacketsCE)
	off = writeInt32(buf, off, a.PacketsLost)
	writeBool(buf, off, a.ErrorL4S)
	return buf
}

func DecodeSummaryACK(b []byte) (*SummaryACK, error) {
	if len(b) < summaryACKSize {
		return nil, ErrTooShort
	}
	a := &SummaryACK{}
	off := 1
	a.AckSeq, off = readInt32(b, off)
	a.Timestamp, off = readInt32(b, off)
	a.EchoedTimestamp, off = readInt32(b, off)
	a.PacketsReceived, off = readInt32(b, off)
	a.PacketsCE, off = readInt32(b, off)
	a.PacketsLost, off = readInt32(b, off)
	a.ErrorL4S, _ = readBool(b, off)
	return a, nil
}

// Report is a single decoded block-ACK slot.
type Report struct {
	Received bool
	ECN      uint8 // low two bits, meaningful only when Received
	Offset   uint16 // arrival delta in 1024us units, meaningful only when Received
}

func (r Report) pack() uint16 {
	if !r.Received {
		return 0
	}
	return reportReceivedBit | (uint16(r.ECN&0x3) << reportECNShift) | (r.Offset & reportOffsetMask)
}

func unpackReport(v uint16) Report {
	if v&reportReceivedBit == 0 {
		return Report{}
	}
	return Report{
		Received: true,
		ECN:      uint8((v & reportECNMask) >> reportECNShift),
		Offset:   v & reportOffsetMask,
	}
}

// BlockACK is packet type 18, the RFC-8888-style per-packet feedback
// message covering sequence numbers [BeginSeq, BeginSeq+len(Reports)).
type BlockACK struct {
	BeginSeq int32
	Reports  []Report
}

const blockACKHeaderSize = 1 + 4 + 2

func (a *BlockACK) Encode() []byte {
	buf := make([]byte, blockACKHeaderSize+2*len(a.Reports))
	off := writeType(buf, TypeBlockACK)
	off = writeInt32(buf, off, a.BeginSeq)
	off = writeUint16(buf, off, uint16(len(a.Reports)))
	for _, r := range a.Reports {
		off = writeUint16(buf, off, r.pack())
	}
	return buf
}

func DecodeBlockACK(b []byte) (*BlockACK, error) {
	if len(b) < blockACKHeaderSize {
		return nil, ErrTooShort
	}
	a := &BlockACK{}
	off := 1
	a.BeginSeq, off = readInt32(b, off)
	var numReports uint16
	numReports, off = readUint16(b, off)
	if len(b) < blockACKHeaderSize+2*int(numReports) {
		return nil, ErrTooShort
	}
	a.Reports = make([]Report, numReports)
	for i := range a.Reports {
		var v uint16
		v, off = readUint16(b, off)
		a.Reports[i] = unpackReport(v)
	}
	return a, nil
}

// PeekType reads the leading type octet of a datagram without
// decoding the rest. Callers ignore datagrams whose type is not one
// of the four recognized values.
func PeekType(b []byte) (Type, error) {
	if len(b) < 1 {
		return 0, ErrTooShort
	}
	t := Type(b[0])
	switch t {
	case TypeBulkData, TypeRTData, TypeSummaryACK, TypeBlockACK:
		return t, nil
	default:
		return t, ErrUnknownType
	}
}

func writeType(b []byte, t Type) int {
	b[0] = byte(t)
	return 1
}

func writeBool(b []byte, offset int, v bool) int {
	if v {
		b[offset] = 1
	} else {
		b[offset] = 0
	}
	return offset + 1
}

func readBool(b []byte, offset int) (bool, int) {
	return b[offset] != 0, offset + 1
}

func writeUint16(b []byte, offset int, v uint16) int {
	binary.BigEndian.PutUint16(b[offset:], v)
	return offset + 2
}

func readUint16(b []byte, offset int) (uint16, int) {
	return binary.BigEndian.Uint16(b[offset : offset+2]), offset + 2
}

func writeInt32(b []byte, offset int, v int32) int {
	binary.BigEndian.PutUint32(b[offset:], uint32(v))
	return offset + 4
}

func readInt32(b []byte, offset int) (int32, int) {
	return int32(binary.BigEndian.Uint32(b[offset : offset+4])), offset + 4
}
