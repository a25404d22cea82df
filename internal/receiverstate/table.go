// Package receiverstate tracks, on the receiver, which sequence
// numbers have arrived, when, and with which ECN mark, and generates
// RFC 8888-style block ACKs from that table.
package receiverstate

import (
	"github.com/yuyyi51/udp-prague/internal/ecn"
	"github.com/yuyyi51/udp-prague/internal/wire"
)

// BufferSize is the ring size for the receiver packet-state table.
const BufferSize = 65536

// RCVTimeout is the guard, in microseconds, against re-emitting a
// slot already reported Ackd: it is only re-emitted if its arrival
// time is still within this window of now.
const RCVTimeout = 250_000

type Status int

const (
	StatusInit Status = iota
	StatusRecv
	StatusAckd
	StatusLost
)

type slot struct {
	arrivalTime int32
	arrivalECN  ecn.Codepoint
	status      Status
	valid       bool // seq has ever been assigned into this ring slot
}

// Table is the receiver's per-sequence-number ring buffer, plus the
// contiguous [StartSeq, EndSeq) coverage window used by block-ACK
// generation.
type Table struct {
	slots    [BufferSize]slot
	StartSeq int32
	EndSeq   int32
	started  bool
}

func NewTable() *Table {
	return &Table{}
}

func idx(seq int32) uint32 {
	return uint32(seq) % BufferSize
}

// Receive records the arrival of a data packet. If the slot was
// already Recv (a duplicate), the recorded ECN is promoted to CE if
// the new arrival carries CE, but the arrival time is not touched.
// The contiguous [StartSeq, EndSeq) window is advanced using
// signed-wrap comparisons.
func (t *Table) Receive(seq, now int32, pktECN ecn.Codepoint) {
	s := &t.slots[idx(seq)]
	if s.status != StatusRecv {
		*s = slot{arrivalTime: now, arrivalECN: pktECN, status: StatusRecv, valid: true}
	} else if pktECN == ecn.CE {
		s.arrivalECN = ecn.CE
	}
	if !t.started {
		t.StartSeq = seq
		t.EndSeq = seq + 1
		t.started = true
		return
	}
	if seq-t.EndSeq >= 0 {
		t.EndSeq = seq + 1
	}
	if seq-t.StartSeq < 0 {
		t.StartSeq = seq
	}
}

// GenerateBlockACK packs as many reports as fit in maxReports,
// starting at StartSeq, into a single block-ACK datagram, advancing
// StartSeq past any slots it resolves. A slot in Recv, or already Ackd
// with its arrival time still within RCVTimeout of now, is reported as
// received and left Ackd; any other slot (never arrived, Lost, or Ackd
// longer than RCVTimeout ago) is reported as lost and moved to Lost.
func (t *Table) GenerateBlockACK(now int32, maxReports int) *wire.BlockACK {
	if maxReports <= 0 || !t.started || t.EndSeq-t.StartSeq <= 0 {
		return nil
	}
	begin := t.StartSeq
	var reports []wire.Report
	seq := begin
	for len(reports) < maxReports && t.EndSeq-seq > 0 {
		s := &t.slots[idx(seq)]
		switch {
		case s.valid && (s.status == StatusRecv || (s.status == StatusAckd && now-s.arrivalTime-RCVTimeout < 0)):
			offset := now - s.arrivalTime
			if offset < 0 {
				offset = 0
			}
			reports = append(reports, wire.Report{
				Received: true,
				ECN:      uint8(s.arrivalECN),
				Offset:   uint16((offset + 512) >> 10 & 0x1fff),
			})
			s.status = StatusAckd
		default:
			reports = append(reports, wire.Report{})
			s.status = StatusLost
		}
		seq++
	}
	if len(reports) == 0 {
		return nil
	}
	t.StartSeq = begin + int32(len(reports))
	return &wire.BlockACK{BeginSeq: begin, Reports: reports}
}
