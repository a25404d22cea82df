// Package praguecc implements the Prague congestion-control engine:
// RTT smoothing, DCTCP-style alpha, rate/window mode switching, loss
// and CE reaction, additive growth, and init/RTO reset. The engine is
// shared by both endpoints of a flow: the sender drives it through
// PacketReceived/ACKReceived on every feedback message, the receiver
// drives it through PacketReceived/DataReceivedSequence to maintain
// its own echoed RTT and loss counters.
package praguecc

import (
	"time"

	"github.com/yuyyi51/udp-prague/internal/ecn"
)

// Tunable constants translated from the Prague reference implementation.
const (
	MinStep     = 7
	RateStep    = 1_920_000 // bytes/sec
	QueueGrowth = 1000      // us
	BurstTime   = 250       // us
	RefRTT      = 25_000    // us, vrtt floor
	ProbShift   = 20
	MaxProb     = 1 << ProbShift
	AlphaShift  = 4
	MinPktBurst = 1
	MinPktWin   = 2
	RateOffset  = 3 // percent headroom
	MinFrameWin = 2
	MinMTU      = 150 // bytes

	DefaultMaxPacketSize = 1400
	DefaultInitRate      = 12_500          // bytes/sec
	DefaultMinRate       = 12_500          // bytes/sec
	DefaultMaxRate       = 12_500_000_000  // bytes/sec
)

// State is the outer congestion-control state machine.
type State int

const (
	StateInit State = iota
	StateCongAvoid
	StateInLoss
	StateInCWR
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCongAvoid:
		return "cong_avoid"
	case StateInLoss:
		return "in_loss"
	case StateInCWR:
		return "in_cwr"
	default:
		return "unknown"
	}
}

// Mode selects whether the engine is currently pacing to a rate or to
// a window.
type Mode int

const (
	ModeRate Mode = iota
	ModeWindow
)

func (m Mode) String() string {
	if m == ModeRate {
		return "rate"
	}
	return "window"
}

// Params configures a new Engine. Zero values are replaced with the
// Prague reference defaults by NewEngine.
type Params struct {
	MaxPacketSize int64  // bytes
	InitRate      uint64 // bytes/sec
	MinRate       uint64 // bytes/sec
	MaxRate       uint64 // bytes/sec
	FrameBudget   int64  // us, 0 for bulk (non-frame) mode

	// Clock overrides time.Now for tests. Nil uses wall-clock time.
	Clock func() time.Time
}

// Engine is one flow's Prague congestion-control state. It is not
// safe for concurrent use; the owning pacing/receive loop is expected
// to drive it from a single goroutine, per the cooperative single-
// threaded concurrency model of this transport.
type Engine struct {
	maxPacketSize int64
	initRate      uint64
	minRate       uint64
	maxRate       uint64
	frameBudget   int64
	clock         func() time.Time
	startTime     time.Time

	// RTT machinery (both ends)
	haveSRTT       bool
	haveLastPeerTS bool
	lastPeerTS     int32
	srtt           int32
	vrtt           int32

	// receiver-side echo counters (built by DataReceivedSequence)
	rPacketsReceived int32
	rPacketsCE       int32
	rPacketsLost     int32
	rErrorL4S        bool

	// sender-side last-known counters from the peer
	packetsReceived int32
	packetsCE       int32
	packetsLost     int32
	packetsSent     int32
	errorL4S        bool

	// alpha
	alpha            int64
	alphaTS          int32
	alphaRXSnapshot  int32
	alphaCESnapshot  int32

	rttsToGrowth int64

	// loss snapshot (for undo)
	lossCCAMode              Mode
	lossWindowAmount         uint64
	lossRateAmount           uint64
	lossRttsToGrowthSnapshot int64
	lossPacketsSent          int32
	lossTS                   int32
	lossPacketsLost          int32

	// cwr snapshot
	cwrPacketsSent int32
	cwrTS          int32

	// state
	ccState State
	ccaMode Mode

	// outputs
	pacingRate       uint64 // bytes/sec
	fractionalWindow uint64 // micro-bytes
	packetSize       int64  // bytes
	packetBurst      int64
	packetWindow     int64
}

// NewEngine constructs an engine already in its reset (Init) state.
func NewEngine(p Params) *Engine {
	if p.MaxPacketSize == 0 {
		p.MaxPacketSize = DefaultMaxPacketSize
	}
	if p.InitRate == 0 {
		p.InitRate = DefaultInitRate
	}
	if p.MinRate == 0 {
		p.MinRate = DefaultMinRate
	}
	if p.MaxRate == 0 {
		p.MaxRate = DefaultMaxRate
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	e := &Engine{
		maxPacketSize: p.MaxPacketSize,
		initRate:      p.InitRate,
		minRate:       p.MinRate,
		maxRate:       p.MaxRate,
		frameBudget:   p.FrameBudget,
		clock:         p.Clock,
	}
	e.startTime = e.clock()
	e.resetCCInfo(p.InitRate)
	return e
}

// Now returns the current time as 32-bit microseconds since the
// engine was constructed. The truncation to int32 is the intentional
// wraparound described in the data model: all comparisons against it
// must use signed-subtraction, never a naive '<'.
func (e *Engine) Now() int32 {
	return int32(e.clock().Sub(e.startTime).Microseconds())
}

func before(a, b int32) bool { return a-b < 0 }

// ResetCCInfo rewinds the engine to its initial state, as performed
// on construction and on RTO.
func (e *Engine) ResetCCInfo() {
	e.resetCCInfo(e.initRate)
}

func (e *Engine) resetCCInfo(initRate uint64) {
	now := e.Now()
	e.haveSRTT = false
	e.srtt = 0
	e.vrtt = RefRTT
	e.ccState = StateInit
	e.ccaMode = ModeWindow
	e.pacingRate = initRate
	e.fractionalWindow = uint64(e.maxPacketSize) * 1_000_000
	e.packetSize = e.maxPacketSize
	e.packetBurst = MinPktBurst
	e.packetWindow = MinPktWin
	e.alpha = 0
	e.alphaTS = now
	e.alphaRXSnapshot = e.packetsReceived
	e.alphaCESnapshot = e.packetsCE
	e.rttsToGrowth = int64(divRound(initRate, RateStep)) + MinStep
	e.lossRttsToGrowthSnapshot = 0
}

// PacketReceived processes the RTT-bearing timestamp pair carried by
// every data packet or summary ACK. It rejects stale feedback (peerTS
// older than the last stored one) by returning false, leaving all
// state untouched.
func (e *Engine) PacketReceived(peerTS, echoedTS int32) bool {
	if e.haveLastPeerTS && before(peerTS, e.lastPeerTS) {
		return false
	}
	e.lastPeerTS = peerTS
	e.haveLastPeerTS = true
	rtt := e.Now() - echoedTS
	e.observeRTTSample(rtt)
	return true
}

func (e *Engine) observeRTTSample(rtt int32) {
	if !e.haveSRTT {
		e.srtt = rtt
		e.haveSRTT = true
	} else {
		e.srtt += (rtt - e.srtt) >> 3
	}
	e.vrtt = e.srtt
	if e.vrtt < RefRTT {
		e.vrtt = RefRTT
	}
}

// ObserveBlockACKRTTSamples feeds the ordered RTT samples reconstructed
// from one block-ACK datagram's received reports, each updating srtt
// in turn exactly as a sequence of individual PacketReceived calls would.
func (e *Engine) ObserveBlockACKRTTSamples(samples []int32) {
	for _, rtt := range samples {
		e.observeRTTSample(rtt)
	}
}

// DataReceivedSequence is the receiver-side per-packet sequence and
// ECN accounting: it maintains the echoed packets_received/CE/lost
// counters from the raw sequence numbers of arriving data packets.
// Gaps in the sequence increase the lost counter; a packet arriving
// out of order (seq no longer ahead of the running counters) is
// treated as a reorder and decrements it by one.
func (e *Engine) DataReceivedSequence(pktECN ecn.Codepoint, seq int32) {
	e.rPacketsReceived++
	skipped := seq - e.rPacketsReceived - e.rPacketsLost
	if skipped >= 0 {
		e.rPacketsLost += skipped
	} else {
		e.rPacketsLost--
	}
	switch pktECN {
	case ecn.CE:
		e.rPacketsCE++
	case ecn.L4SID:
		// expected marking, no bleach
	default:
		e.rErrorL4S = true
	}
}

// GetACKInfo returns the receiver-side echo counters carried by the
// next outgoing summary ACK.
func (e *Engine) GetACKInfo() (packetsReceived, packetsCE, packetsLost int32, errorL4S bool) {
	return e.rPacketsReceived, e.rPacketsCE, e.rPacketsLost, e.rErrorL4S
}

// GetTimeInfo returns the timestamp/echoed-timestamp pair and ECN
// codepoint to stamp on the next outgoing packet (data or ACK).
func (e *Engine) GetTimeInfo() (timestamp, echoedTimestamp int32, outECN ecn.Codepoint) {
	timestamp = e.Now()
	if e.haveLastPeerTS {
		echoedTimestamp = e.lastPeerTS
	}
	if e.errorL4S {
		outECN = ecn.NotECT
	} else {
		outECN = ecn.L4SID
	}
	return
}

// ACKReceived is the core of the Prague engine: it ingests one
// feedback observation (summary or synthesized from a block of
// per-packet reports) and recomputes every output. It returns the
// derived in-flight packet count and whether the ACK was accepted;
// a stale ACK (violating monotonicity of received/CE counters)
// leaves all state untouched and returns accepted=false.
func (e *Engine) ACKReceived(packetsReceived, packetsCE, packetsLost, packetsSent int32, errorL4S bool) (inflight int32, accepted bool) {
	if packetsReceived-e.packetsReceived < 0 || packetsCE-e.packetsCE < 0 {
		return 0, false
	}
	now := e.Now()
	deltaRX := packetsReceived - e.packetsReceived
	deltaCE := packetsCE - e.packetsCE

	e.selectMode()
	e.updateAlpha(now, packetsReceived, packetsCE)
	e.reactToLoss(now, packetsReceived, packetsLost, packetsSent)
	e.grow(deltaRX, deltaCE)
	e.reactToCE(now, packetsReceived, packetsCE, packetsLost, packetsSent)
	e.deriveOutputs()

	e.packetsReceived = packetsReceived
	e.packetsCE = packetsCE
	e.packetsLost = packetsLost
	e.packetsSent = packetsSent
	e.errorL4S = e.errorL4S || errorL4S

	return packetsSent - packetsReceived - packetsLost, true
}

func (e *Engine) selectMode() {
	if e.ccState == StateInit {
		e.fractionalWindow = mulShift(uint64(e.srtt), e.pacingRate, 0)
		e.ccState = StateCongAvoid
	}
	pacingInterval := divFloor(mulShift(uint64(e.packetSize), 1_000_000, 0), e.pacingRate)
	newMode := ModeWindow
	if e.srtt <= 2000 || uint64(e.srtt) <= pacingInterval {
		newMode = ModeRate
	}
	if newMode == ModeWindow && e.ccaMode == ModeRate {
		e.fractionalWindow = mulShift(uint64(e.srtt), e.pacingRate, 0)
	}
	e.ccaMode = newMode
}

func (e *Engine) updateAlpha(now, packetsReceived, packetsCE int32) {
	deltaRX := packetsReceived - e.alphaRXSnapshot
	deltaCE := packetsCE - e.alphaCESnapshot
	if deltaRX > 0 && now-e.alphaTS-e.vrtt >= 0 {
		prob := int64(divRound(uint64(deltaCE)<<ProbShift, uint64(deltaRX)))
		e.alpha += (prob - e.alpha) >> AlphaShift
		if e.alpha < 0 {
			e.alpha = 0
		}
		if e.alpha > MaxProb {
			e.alpha = MaxProb
		}
		e.alphaTS = now
		e.alphaRXSnapshot = packetsReceived
		e.alphaCESnapshot = packetsCE
		if e.rttsToGrowth > 0 {
			e.rttsToGrowth--
		}
	}
}

func (e *Engine) reactToLoss(now, packetsReceived, packetsLost, packetsSent int32) {
	// Undo a previous window/rate reduction once the lost count drops back
	// to (or below) the value that caused it: a late reorder, not a real
	// loss. This is independent of ccState - the reduction snapshot is
	// kept across an InLoss -> CongAvoid transition precisely so a later
	// ACK can still undo it, not just the one immediately following.
	if (e.lossWindowAmount > 0 || e.lossRateAmount > 0) && e.lossPacketsLost-packetsLost >= 0 {
		e.ccaMode = e.lossCCAMode
		if e.ccaMode == ModeRate {
			e.pacingRate += e.lossRateAmount
			e.lossRateAmount = 0
		} else {
			e.fractionalWindow += e.lossWindowAmount
			e.lossWindowAmount = 0
		}
		e.rttsToGrowth -= e.lossRttsToGrowthSnapshot
		if e.rttsToGrowth < 0 {
			e.rttsToGrowth = 0
		}
		e.lossRttsToGrowthSnapshot = 0
		e.ccState = StateCongAvoid
	}

	if e.ccState == StateInLoss && packetsReceived+packetsLost-e.lossPacketsSent > 0 && now-e.lossTS-e.vrtt >= 0 {
		e.ccState = StateCongAvoid
		// keep the loss snapshot for undo if later reordering is found
	}

	if e.ccState != StateInLoss && packetsLost-e.packetsLost > 0 {
		step := divRound(e.pacingRate, uint64(2*e.maxPacketSize))
		step = divRound(mulShift(step, RefRTT, 0), uint64(e.vrtt))
		step = divRound(mulShift(step, RefRTT, 0), 1_000_000)
		rttsToGrowth := int64(step)

		// accumulate over different reordering rtts if applicable; no need
		// to undo more than what will be used next
		e.lossRttsToGrowthSnapshot += rttsToGrowth - e.rttsToGrowth
		if e.lossRttsToGrowthSnapshot > rttsToGrowth {
			e.lossRttsToGrowthSnapshot = rttsToGrowth
		}
		e.rttsToGrowth = rttsToGrowth

		e.lossPacketsLost = e.packetsLost
		if e.ccaMode == ModeWindow {
			e.lossWindowAmount = e.fractionalWindow / 2
			e.fractionalWindow -= e.lossWindowAmount
			e.lossCCAMode = ModeWindow
		} else {
			e.lossRateAmount = e.pacingRate / 2
			e.pacingRate -= e.lossRateAmount
			e.lossCCAMode = ModeRate
		}
		e.lossPacketsSent = packetsSent
		e.lossTS = now
		e.ccState = StateInLoss
	}
}

func (e *Engine) reactToCE(now, packetsReceived, packetsCE, packetsLost, packetsSent int32) {
	switch {
	case e.ccState == StateInCWR:
		if packetsReceived+packetsLost-e.cwrPacketsSent > 0 && now-e.cwrTS-e.vrtt >= 0 {
			e.ccState = StateCongAvoid
		}
	case e.ccState == StateCongAvoid && packetsCE-e.packetsCE > 0:
		e.rttsToGrowth = int64(divRound(e.pacingRate, RateStep)) + MinStep
		if e.ccaMode == ModeWindow {
			reduce := mulShift(e.fractionalWindow, uint64(e.alpha), ProbShift+1)
			e.fractionalWindow -= reduce
		} else {
			reduce := mulShift(e.pacingRate, uint64(e.alpha), ProbShift+1)
			e.pacingRate -= reduce
		}
		e.cwrPacketsSent = packetsSent
		e.cwrTS = now
		e.ccState = StateInCWR
	}
}

func (e *Engine) grow(deltaRX, deltaCE int32) {
	if e.ccState == StateInLoss {
		return
	}
	acks := deltaRX - deltaCE
	if acks <= 0 {
		return
	}
	candidate := divRound(mulShift(e.pacingRate, QueueGrowth, 0), 1_000_000)
	increment := uint64(e.maxPacketSize)
	if e.rttsToGrowth == 0 && candidate >= uint64(e.maxPacketSize) {
		increment = candidate
	}
	if e.ccaMode == ModeWindow {
		ratio := divRound(mulShift(mulShift(uint64(e.srtt), 1_000_000, 0), uint64(e.srtt), 0), mulShift(uint64(e.vrtt), uint64(e.vrtt), 0))
		num := mulShift(uint64(acks), uint64(e.packetSize), 0)
		num = mulShift(num, ratio, 0)
		num = mulShift(num, increment, 0)
		e.fractionalWindow += divRound(num, e.fractionalWindow)
	} else {
		x := mulShift(uint64(acks), increment, 0)
		x = divRound(mulShift(x, 1_000_000, 0), uint64(e.vrtt))
		x = mulShift(x, uint64(e.packetSize), 0)
		x = divRound(x, uint64(e.vrtt))
		x = mulShift(x, 1_000_000, 0)
		x = divRound(x, e.pacingRate)
		e.pacingRate += x
	}
}

func (e *Engine) deriveOutputs() {
	if e.ccaMode == ModeWindow {
		e.pacingRate = divFloor(e.fractionalWindow, uint64(e.srtt))
		if e.pacingRate < e.minRate {
			e.pacingRate = e.minRate
		}
		if e.pacingRate > e.maxRate {
			e.pacingRate = e.maxRate
		}
	} else {
		e.fractionalWindow = mulShift(e.pacingRate, uint64(e.srtt), 0)
		if e.fractionalWindow < 1 {
			e.fractionalWindow = 1
		}
	}
	size := divFloor(divFloor(mulShift(e.pacingRate, uint64(e.vrtt), 0), 1_000_000), MinPktWin)
	e.packetSize = clampInt64(int64(size), MinMTU, e.maxPacketSize)

	burst := divFloor(mulShift(e.pacingRate, BurstTime, 0), 1_000_000)
	burst = divFloor(burst, uint64(e.packetSize))
	e.packetBurst = maxInt64(MinPktBurst, int64(burst))

	win := divFloor(mulShift(e.fractionalWindow, uint64(100+RateOffset), 0), 100_000_000)
	win = divFloor(win, uint64(e.packetSize))
	e.packetWindow = maxInt64(MinPktWin, int64(win)+1)
}

// GetCCInfo returns the current pacing parameters. The reported
// pacing rate swings +-RATE_OFFSET% across each vrtt to absorb the
// discrete +1-packet rounding baked into packet_window.
func (e *Engine) GetCCInfo() (pacingRate uint64, packetWindow, packetBurst, packetSize int64) {
	reported := e.pacingRate
	if e.Now()-e.alphaTS-(e.vrtt>>1) >= 0 {
		reported = divRound(mulShift(reported, 100, 0), 100+RateOffset)
	} else {
		reported = divRound(mulShift(reported, 100+RateOffset, 0), 100)
	}
	return reported, e.packetWindow, e.packetBurst, e.packetSize
}

// GetCCInfoVideo returns the frame-aware pacing parameters for RT mode.
func (e *Engine) GetCCInfoVideo() (pacingRate uint64, frameSize, frameWindow, packetBurst, packetSize int64) {
	pacingRate, packetWindow, packetBurst, packetSize := e.GetCCInfo()
	frameSize = packetSize
	if byBudget := int64(divRound(mulShift(pacingRate, uint64(e.frameBudget), 0), 1_000_000)); byBudget > frameSize {
		frameSize = byBudget
	}
	frameWindow = maxInt64(MinFrameWin, packetWindow*packetSize/frameSize)
	return
}

// State/Mode accessors, used by stats reporting.
func (e *Engine) State() State { return e.ccState }
func (e *Engine) Mode() Mode   { return e.ccaMode }
func (e *Engine) Alpha() int64 { return e.alpha }
func (e *Engine) SRTT() int32  { return e.srtt }
func (e *Engine) VRTT() int32  { return e.vrtt }

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
