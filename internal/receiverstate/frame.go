package receiverstate

// FrameBufferSize is the ring size for the RT-mode per-frame arrival
// table, indexed by frame_nr mod FrameBufferSize.
const FrameBufferSize = 2048

type frameArrival struct {
	valid   bool
	lastSeq int32
	haveSeq bool
	pktLost int32
	closed  bool
}

// FrameTable tracks, on the receiver, which RT-mode frames arrived
// intact. Unlike senderstate.FrameTable (resolved from ACK feedback),
// this table only ever sees what the receiver itself observed: a
// frame closes out once its trimmed final packet is seen
// (frame_sent+len(payload) >= frame_size), and is counted lost if a
// sequence gap was detected among its packets before that point.
// Grounded on pkt_format.h's get_frame_stat frm_pktsent/frm_pktlost
// bookkeeping, adapted from ACK-driven accounting to arrival-only
// accounting since the receiver has no feedback channel of its own.
type FrameTable struct {
	slots      [FrameBufferSize]frameArrival
	RecvFrames int32
	LostFrames int32
}

func NewFrameTable() *FrameTable {
	return &FrameTable{}
}

func frameIdx(frameNr int32) uint32 {
	return uint32(frameNr) % FrameBufferSize
}

// OnPacketArrived records one RT-data packet's arrival: seq is its
// transport sequence number (used to detect gaps within the frame),
// frameSent/frameSize are the sender-stamped bytes-so-far/total-bytes
// fields, and payloadLen is the datagram's actual wire length.
func (f *FrameTable) OnPacketArrived(frameNr, seq, frameSent, frameSize int32, payloadLen int) {
	s := &f.slots[frameIdx(frameNr)]
	if !s.valid {
		*s = frameArrival{valid: true}
	}
	if s.haveSeq && seq-s.lastSeq != 1 {
		s.pktLost++
	}
	s.lastSeq = seq
	s.haveSeq = true
	if frameSent+int32(payloadLen) >= frameSize {
		s.closed = true
	}
	if s.closed {
		if s.pktLost > 0 {
			f.LostFrames++
		} else {
			f.RecvFrames++
		}
		*s = frameArrival{}
	}
}
