// Package senderstate tracks per-sequence-number send/receive/loss
// status on the sender, driving loss accounting for both the summary
// and block-ACK feedback variants.
package senderstate

import (
	"github.com/yuyyi51/udp-prague/internal/ecn"
	"github.com/yuyyi51/udp-prague/internal/wire"
)

// BufferSize is the ring size for the sender packet-state table,
// indexed by seq_nr mod BufferSize.
const BufferSize = 65536

type Status int

const (
	StatusInit Status = iota
	StatusSent
	StatusRecv
	StatusLost
)

type slot struct {
	sendTime int32
	status   Status
	frameNr  int32
}

// Table is the sender's per-sequence-number ring buffer.
type Table struct {
	slots   [BufferSize]slot
	lastAck int32
	haveAck bool
}

func NewTable() *Table {
	return &Table{}
}

func idx(seq int32) uint32 {
	return uint32(seq) % BufferSize
}

// MarkSent records that seq was just transmitted at time now.
func (t *Table) MarkSent(seq, now int32) {
	s := &t.slots[idx(seq)]
	*s = slot{sendTime: now, status: StatusSent}
}

// MarkSentFrame is MarkSent for RT mode, additionally stamping the
// frame a packet belongs to so a frame table can attribute losses.
func (t *Table) MarkSentFrame(seq, now, frameNr int32) {
	s := &t.slots[idx(seq)]
	*s = slot{sendTime: now, status: StatusSent, frameNr: frameNr}
}

// StatusOf reports a slot's current status, used by tests and by RT
// mode frame resolution.
func (t *Table) StatusOf(seq int32) Status {
	return t.slots[idx(seq)].status
}

// FrameOf reports the frame a slot was stamped with by MarkSentFrame,
// used by RT mode to attribute a block-ACK's per-packet resolution
// back to its owning frame.
func (t *Table) FrameOf(seq int32) int32 {
	return t.slots[idx(seq)].frameNr
}

// IngestSummaryACK applies a type-17 summary ACK: it marks ackSeq
// received, then walks back from ackSeq marking up to lostDelta
// still-Sent slots as Lost. lostDelta is the increase in the peer's
// cumulative lost counter since the last summary ACK (zero or
// negative when the counter held steady or dropped, in which case no
// slot is touched here — the counter-level undo is the engine's job).
func (t *Table) IngestSummaryACK(ackSeq int32, lostDelta int32) {
	t.slots[idx(ackSeq)].status = StatusRecv
	remaining := lostDelta
	seq := ackSeq - 1
	for i := 0; i < BufferSize && remaining > 0; i++ {
		s := &t.slots[idx(seq)]
		if s.status == StatusSent {
			s.status = StatusLost
			remaining--
		}
		seq--
	}
}

// BlockACKResult carries the events produced by ingesting one
// block-ACK datagram, for the caller to fold into its own running
// cumulative received/CE/lost counters before driving the CC engine.
type BlockACKResult struct {
	NewlyReceived int32
	NewlyLost     int32
	NewlyCE       int32
	Bleached      bool
	RTTSamples    []int32
}

// IngestBlockACK applies a type-18 block ACK, per §4.3: reports
// covering [begin_seq, begin_seq+len(reports)) resolve the
// corresponding slots, gaps between the previous coverage and this
// ACK's begin_seq are treated as loss, and a report referring to an
// already-Recv slot is ignored to avoid double counting.
func (t *Table) IngestBlockACK(now int32, ack *wire.BlockACK) BlockACKResult {
	var res BlockACKResult
	if t.haveAck {
		for seq := t.lastAck + 1; seq < ack.BeginSeq; seq++ {
			s := &t.slots[idx(seq)]
			if s.status == StatusSent {
				s.status = StatusLost
				res.NewlyLost++
			}
		}
	}
	for i, r := range ack.Reports {
		seq := ack.BeginSeq + int32(i)
		s := &t.slots[idx(seq)]
		if r.Received {
			switch s.status {
			case StatusSent, StatusLost:
				if s.status == StatusLost {
					res.NewlyLost--
				}
				res.RTTSamples = append(res.RTTSamples, now-(int32(r.Offset)<<10)-s.sendTime)
				c := ecn.Codepoint(r.ECN)
				if c == ecn.CE {
					res.NewlyCE++
				} else if c != ecn.L4SID {
					res.Bleached = true
				}
				s.status = StatusRecv
				res.NewlyReceived++
			}
		} else if s.status == StatusSent {
			s.status = StatusLost
			res.NewlyLost++
		}
	}
	endSeq := ack.BeginSeq + int32(len(ack.Reports)) - 1
	if !t.haveAck || endSeq-t.lastAck > 0 {
		t.lastAck = endSeq
		t.haveAck = true
	}
	return res
}
