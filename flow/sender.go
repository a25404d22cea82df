package flow

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/yuyyi51/ylog"

	"github.com/yuyyi51/udp-prague/internal/ecnsock"
	"github.com/yuyyi51/udp-prague/internal/praguecc"
	"github.com/yuyyi51/udp-prague/internal/senderstate"
	"github.com/yuyyi51/udp-prague/internal/stats"
	"github.com/yuyyi51/udp-prague/internal/wire"
)

// rtoTimeout is the "no ACK progress" bound after which the pacing
// loop declares a retransmission timeout, per §4.4.9/§4.5.
const rtoTimeout = time.Second

// ErrTooManyTimeouts is returned by Run once more than MaxTimeout
// consecutive RTOs have occurred with no intervening ACK.
var ErrTooManyTimeouts = errors.New("flow: too many consecutive RTOs")

// Sender drives the sending side of one flow: the pacing loop that
// admits new packets under the CC engine's window/burst caps, and the
// ACK ingest that feeds packet-state and RTT observations back into it.
type Sender struct {
	cfg    Config
	sock   *ecnsock.Socket
	peer   net.Addr
	engine *praguecc.Engine
	table  *senderstate.Table
	frames *senderstate.FrameTable
	logger ylog.ILogger

	nextSeq     int32
	nextFrameNr int32
	packetsSent int32

	frameOpen      bool
	frameBytesSent int32
	curFrameSize   int64

	cumReceived int32
	cumCE       int32
	cumLost     int32
	bleached    bool

	reporter  *stats.SenderReporter
	statsSink *stats.JSONLineWriter
}

// SetReporter attaches periodic stats reporting to the pacing loop: one
// SenderSnapshot is produced per ACK once reporter's interval has
// elapsed, and written to sink if non-nil.
func (s *Sender) SetReporter(reporter *stats.SenderReporter, sink *stats.JSONLineWriter) {
	s.reporter = reporter
	s.statsSink = sink
}

// Dial opens a sender flow connected to host:port.
func Dial(host string, cfg Config, logger ylog.ILogger) (*Sender, error) {
	cfg = cfg.WithDefaults()
	sock, err := ecnsock.Connect(host, cfg.Port, logger)
	if err != nil {
		return nil, fmt.Errorf("flow: dial %s:%d: %w", host, cfg.Port, err)
	}
	s := &Sender{
		cfg:    cfg,
		sock:   sock,
		peer:   sock.RemoteAddr(),
		logger: logger,
		engine: praguecc.NewEngine(praguecc.Params{
			MaxPacketSize: cfg.MaxPacketSize,
			MinRate:       cfg.MinRate,
			MaxRate:       cfg.MaxRate,
			FrameBudget:   cfg.frameBudgetMicros(),
		}),
		table:   senderstate.NewTable(),
		nextSeq: 1,
	}
	if cfg.RTMode {
		s.frames = senderstate.NewFrameTable()
	}
	return s, nil
}

func (s *Sender) Close() error {
	return s.sock.Close()
}

// Run drives the pacing loop until the peer disappears, the process is
// asked to stop, or too many consecutive RTOs occur. It implements
// §4.5 step by step: admit sends under window/burst caps, schedule the
// next burst, block for either the next send time or an incoming ACK,
// and react to whichever happens first.
func (s *Sender) Run(stop <-chan struct{}) error {
	buf := make([]byte, s.cfg.MaxPacketSize)
	var inFlight int32
	var inBurst int64
	burstStart := s.engine.Now()
	nextSend := burstStart
	var compensation int32
	consecutiveRTO := 0

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		pacingRate, packetWindow, packetBurst, packetSize := s.engine.GetCCInfo()
		now := s.engine.Now()
		for inFlight < int32(packetWindow) && inBurst < packetBurst && now-nextSend >= 0 {
			if s.cfg.RTMode && !s.frameOpen {
				_, _, frameWindow, _, _ := s.engine.GetCCInfoVideo()
				if s.frameInflight()-frameWindow > 0 {
					// no frame admitted yet: outstanding frames already
					// fill the window, wait for ACKs to resolve some.
					break
				}
			}
			s.sendOne(packetSize)
			inFlight++
			inBurst++
			now = s.engine.Now()
		}

		if inBurst >= packetBurst {
			elapsed := packetSize * inBurst * 1_000_000 / int64(pacingRate)
			nextSend = burstStart + int32(elapsed) - compensation
			inBurst = 0
			burstStart = now
		}

		var timeout time.Duration
		if inFlight < int32(packetWindow) {
			wait := nextSend - now
			if wait < 0 {
				wait = 0
			}
			timeout = time.Duration(wait) * time.Microsecond
		} else {
			timeout = rtoTimeout
		}

		n, _, _, err := s.sock.ReceiveTimeout(buf, timeout)
		if err != nil {
			return fmt.Errorf("flow: receive: %w", err)
		}

		if n == 0 {
			// receive-wait overshoot: how far past the scheduled send
			// time we actually resumed. Only ever pulls the next burst
			// earlier to catch up, never pushes it later.
			overshoot := s.engine.Now() - nextSend
			if overshoot > 0 {
				compensation = overshoot
			} else {
				compensation = 0
			}
			if inFlight >= int32(packetWindow) {
				consecutiveRTO++
				if consecutiveRTO > s.cfg.MaxTimeout {
					return ErrTooManyTimeouts
				}
				s.logger.Notice("flow: RTO #%d, resetting congestion control", consecutiveRTO)
				s.engine.ResetCCInfo()
				inFlight = 0
				inBurst = 0
				compensation = 0
				burstStart = s.engine.Now()
				nextSend = burstStart
			}
			continue
		}

		consecutiveRTO = 0
		if newInFlight, ok := s.handleIncoming(buf[:n]); ok {
			inFlight = newInFlight
		}
	}
}

func (s *Sender) sendOne(packetSize int64) {
	ts, echoed, ecnMark := s.engine.GetTimeInfo()
	seq := s.nextSeq
	s.nextSeq++
	s.packetsSent++

	var payload []byte
	if s.cfg.RTMode {
		if !s.frameOpen {
			_, frameSize, _, _, _ := s.engine.GetCCInfoVideo()
			s.frameOpen = true
			s.frameBytesSent = 0
			s.curFrameSize = frameSize
		}
		frameNr := s.nextFrameNr
		remaining := s.curFrameSize - int64(s.frameBytesSent)
		size := packetSize
		final := remaining <= packetSize
		if final {
			size = remaining
			if size < praguecc.MinMTU {
				size = praguecc.MinMTU
			}
		}
		pkt := &wire.RTData{
			Timestamp:       ts,
			EchoedTimestamp: echoed,
			SeqNr:           seq,
			FrameNr:         frameNr,
			FrameSent:       s.frameBytesSent,
			FrameSize:       int32(s.curFrameSize),
		}
		payload = padPayload(pkt.Encode(), size)
		s.frameBytesSent += int32(len(payload))
		s.frames.OnPacketSent(frameNr)
		s.table.MarkSentFrame(seq, ts, frameNr)
		if final {
			s.CloseFrame()
		}
	} else {
		pkt := &wire.BulkData{Timestamp: ts, EchoedTimestamp: echoed, SeqNr: seq}
		payload = pkt.Encode()
		s.table.MarkSent(seq, ts)
	}

	if _, err := s.sock.Send(payload, s.peer, ecnMark); err != nil {
		s.logger.Error("flow: send seq %d: %v", seq, err)
	}
	if s.reporter != nil {
		s.reporter.OnPacketSent(len(payload))
	}
}

// padPayload pads an encoded header out to size bytes so an RT-mode
// datagram's actual wire length reflects the per-packet byte budget
// the CC engine computed, rather than just the fixed header length.
func padPayload(header []byte, size int64) []byte {
	if int64(len(header)) >= size {
		return header
	}
	padded := make([]byte, size)
	copy(padded, header)
	return padded
}

// frameInflight implements §4.6's frame_inflight: the currently-open
// frame, if any, counts as one more than the tally of frames already
// emitted but not yet resolved as received or lost.
func (s *Sender) frameInflight() int64 {
	var isSending int64
	if s.frameOpen {
		isSending = 1
	}
	return isSending + int64(s.nextFrameNr) - int64(s.frames.RecvFrames) - int64(s.frames.LostFrames)
}

func (s *Sender) reportStats(echoedTimestamp int32) {
	if s.reporter == nil {
		return
	}
	snap, ok := s.reporter.OnACK(s.engine.Now(), echoedTimestamp, s.cumReceived, s.cumCE, s.cumLost)
	if !ok {
		return
	}
	s.logger.Info("flow: rate %.2fMbps rtt %.2fms mark %.2f%% loss %.2f%%",
		snap.RateMbps, snap.RTTMillis, snap.MarkPercent, snap.LossPercent)
	if s.statsSink != nil {
		if err := s.statsSink.WriteLine(snap); err != nil {
			s.logger.Error("flow: write stats line: %v", err)
		}
	}
}

// handleIncoming ingests one received datagram, expected to be a
// summary or block ACK, and returns the CC engine's freshly derived
// in-flight count.
func (s *Sender) handleIncoming(b []byte) (int32, bool) {
	typ, err := wire.PeekType(b)
	if err != nil {
		s.logger.Debug("flow: dropped datagram: %v", err)
		return 0, false
	}
	switch typ {
	case wire.TypeSummaryACK:
		ack, err := wire.DecodeSummaryACK(b)
		if err != nil {
			s.logger.Debug("flow: malformed summary ack: %v", err)
			return 0, false
		}
		if !s.engine.PacketReceived(ack.Timestamp, ack.EchoedTimestamp) {
			return 0, false
		}
		s.table.IngestSummaryACK(ack.AckSeq, ack.PacketsLost-s.cumLost)
		inflight, accepted := s.engine.ACKReceived(ack.PacketsReceived, ack.PacketsCE, ack.PacketsLost, s.packetsSent, ack.ErrorL4S)
		if !accepted {
			return 0, false
		}
		s.cumReceived, s.cumCE, s.cumLost = ack.PacketsReceived, ack.PacketsCE, ack.PacketsLost
		s.reportStats(ack.EchoedTimestamp)
		// Summary ACKs carry no per-slot detail, so RT-mode frame
		// resolution only runs on the block-ACK path.
		return inflight, true

	case wire.TypeBlockACK:
		ack, err := wire.DecodeBlockACK(b)
		if err != nil {
			s.logger.Debug("flow: malformed block ack: %v", err)
			return 0, false
		}
		pending := s.pendingFrameSlots(ack.BeginSeq, len(ack.Reports))
		res := s.table.IngestBlockACK(s.engine.Now(), ack)
		s.engine.ObserveBlockACKRTTSamples(res.RTTSamples)
		s.cumReceived += res.NewlyReceived
		s.cumCE += res.NewlyCE
		s.cumLost += res.NewlyLost
		s.bleached = s.bleached || res.Bleached
		inflight, accepted := s.engine.ACKReceived(s.cumReceived, s.cumCE, s.cumLost, s.packetsSent, s.bleached)
		if !accepted {
			return 0, false
		}
		s.resolvePendingFrameSlots(pending)
		// Block ACKs carry no timestamp of their own; the RTT samples
		// from IngestBlockACK's per-report echoes above have already
		// updated srtt, so the report is fed srtt as this ACK's RTT.
		s.reportStats(s.engine.Now() - s.engine.SRTT())
		return inflight, true

	default:
		s.logger.Debug("flow: unexpected packet type %d from peer", typ)
		return 0, false
	}
}

// pendingFrameSlots snapshots, before a block ACK is ingested, which
// sequence numbers in its range were still Sent (i.e. this ACK is
// about to resolve them one way or the other), together with their
// owning frame. Snapshotting before ingest is what lets
// resolvePendingFrameSlots attribute exactly one Resolve call per
// slot instead of double-counting a slot already resolved earlier.
func (s *Sender) pendingFrameSlots(beginSeq int32, count int) []frameSlotRef {
	if s.frames == nil {
		return nil
	}
	pending := make([]frameSlotRef, 0, count)
	for i := 0; i < count; i++ {
		seq := beginSeq + int32(i)
		if s.table.StatusOf(seq) == senderstate.StatusSent {
			pending = append(pending, frameSlotRef{seq: seq, frameNr: s.table.FrameOf(seq)})
		}
	}
	return pending
}

func (s *Sender) resolvePendingFrameSlots(pending []frameSlotRef) {
	if s.frames == nil {
		return
	}
	for _, ref := range pending {
		lost := s.table.StatusOf(ref.seq) == senderstate.StatusLost
		s.frames.Resolve(ref.frameNr, lost)
	}
}

type frameSlotRef struct {
	seq     int32
	frameNr int32
}

// CloseFrame marks the current frame as fully emitted and advances to
// the next one. Called from sendOne once a frame's trimmed final
// packet has gone out.
func (s *Sender) CloseFrame() {
	if s.frames == nil {
		return
	}
	s.frames.OnFrameClosed(s.nextFrameNr)
	s.nextFrameNr++
	s.frameOpen = false
}
