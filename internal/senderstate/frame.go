package senderstate

// FrameBufferSize is the ring size for the per-frame status table
// used in RT (real-time, frame-based) mode, indexed by frame_nr mod
// FrameBufferSize.
const FrameBufferSize = 2048

type frameSlot struct {
	outstanding int32
	lost        int32
	sending     bool // the frame is still accepting new packets
}

// FrameTable tracks, per frame, how many of its packets are still
// outstanding or already known lost. It resolves a frame as
// "received" once every packet sent for it has been ACKed with no
// loss, or "lost" if any packet of a fully-resolved frame was lost.
type FrameTable struct {
	slots      [FrameBufferSize]frameSlot
	RecvFrames int32
	LostFrames int32
}

func NewFrameTable() *FrameTable {
	return &FrameTable{}
}

func frameIdx(frameNr int32) uint32 {
	return uint32(frameNr) % FrameBufferSize
}

// OnPacketSent registers one more outstanding packet for frameNr and
// marks the frame as currently sending (not yet closed).
func (f *FrameTable) OnPacketSent(frameNr int32) {
	s := &f.slots[frameIdx(frameNr)]
	s.outstanding++
	s.sending = true
}

// OnFrameClosed marks a frame as fully emitted (its last packet was
// sent); resolution can now complete the frame once all outstanding
// packets are accounted for.
func (f *FrameTable) OnFrameClosed(frameNr int32) {
	f.slots[frameIdx(frameNr)].sending = false
}

// Resolve records that one packet belonging to frameNr was received
// or lost, and closes out the frame's recv/lost tally once every
// packet of a non-sending frame has been accounted for.
func (f *FrameTable) Resolve(frameNr int32, lost bool) {
	s := &f.slots[frameIdx(frameNr)]
	if lost {
		if s.outstanding > 0 {
			s.outstanding--
		}
		s.lost++
	} else if s.outstanding > 0 {
		s.outstanding--
	}
	if s.sending || s.outstanding > 0 {
		return
	}
	if s.lost > 0 {
		f.LostFrames++
	} else {
		f.RecvFrames++
	}
	*s = frameSlot{}
}
