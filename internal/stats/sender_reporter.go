package stats

import "time"

// SenderSnapshot is one periodic report of sender-side throughput,
// RTT, mark and loss rates, accumulated over the window since the
// previous report.
type SenderSnapshot struct {
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	RateMbps         float64 `json:"rate_mbps"`
	RTTMillis        float64 `json:"rtt_millis"`
	MarkPercent      float64 `json:"mark_percent"`
	MarksInWindow    int32   `json:"marks_in_window"`
	ReceivedInWindow int32   `json:"received_in_window"`
	LossPercent      float64 `json:"loss_percent"`
	LostInWindow     int32   `json:"lost_in_window"`
}

// SenderReporter accumulates bytes sent and RTT samples between ACKs
// and produces one SenderSnapshot per reporting interval, grounded on
// the reference sender's once-a-second accumulator block.
type SenderReporter struct {
	interval   int32 // microseconds, engine clock units
	nextReport int32
	started    bool

	accBytesSent int64
	accRTTSum    int64
	accRTTCount  int64

	prevReceived, prevMarks, prevLost int32
}

// NewSenderReporter builds a reporter with the given period.
func NewSenderReporter(interval time.Duration) *SenderReporter {
	return &SenderReporter{interval: int32(interval.Microseconds())}
}

// OnPacketSent tallies one transmitted packet's size for the next report.
func (r *SenderReporter) OnPacketSent(size int) {
	r.accBytesSent += int64(size)
}

// OnACK folds one ACK's RTT sample and cumulative counters into the
// running window, and returns a snapshot once the interval has
// elapsed since the last one (ok=false otherwise).
func (r *SenderReporter) OnACK(now, echoedTimestamp, packetsReceived, packetsCE, packetsLost int32) (SenderSnapshot, bool) {
	r.accRTTSum += int64(now - echoedTimestamp)
	r.accRTTCount++
	if !r.started {
		r.nextReport = now + r.interval
		r.started = true
		return SenderSnapshot{}, false
	}
	if now-r.nextReport < 0 {
		return SenderSnapshot{}, false
	}

	deltaReceived := packetsReceived - r.prevReceived
	deltaMarks := packetsCE - r.prevMarks
	deltaLost := packetsLost - r.prevLost

	snap := SenderSnapshot{
		ElapsedSeconds:   float64(now) / 1_000_000,
		RateMbps:         8.0 * float64(r.accBytesSent) / float64(now-r.nextReport+r.interval),
		MarksInWindow:    deltaMarks,
		ReceivedInWindow: deltaReceived,
		LostInWindow:     deltaLost,
	}
	if r.accRTTCount > 0 {
		snap.RTTMillis = 0.001 * float64(r.accRTTSum) / float64(r.accRTTCount)
	}
	if deltaReceived > 0 {
		snap.MarkPercent = 100.0 * float64(deltaMarks) / float64(deltaReceived)
		snap.LossPercent = 100.0 * float64(deltaLost) / float64(deltaReceived)
	}

	r.nextReport = now + r.interval
	r.accBytesSent = 0
	r.accRTTSum = 0
	r.accRTTCount = 0
	r.prevReceived = packetsReceived
	r.prevMarks = packetsCE
	r.prevLost = packetsLost

	return snap, true
}
