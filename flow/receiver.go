package flow

import (
	"fmt"
	"net"
	"time"

	"github.com/yuyyi51/ylog"

	"github.com/yuyyi51/udp-prague/internal/ecn"
	"github.com/yuyyi51/udp-prague/internal/ecnsock"
	"github.com/yuyyi51/udp-prague/internal/praguecc"
	"github.com/yuyyi51/udp-prague/internal/receiverstate"
	"github.com/yuyyi51/udp-prague/internal/wire"
)

// maxBlockACKReports bounds how many reports fit in one block-ACK
// datagram alongside its fixed header, given the configured max
// packet size.
func maxBlockACKReports(maxPacketSize int64) int {
	const blockACKHeaderSize = 1 + 4 + 2
	n := (maxPacketSize - blockACKHeaderSize) / 2
	if n < 1 {
		return 1
	}
	return int(n)
}

// Receiver drives the receiving side of one flow: sequence/ECN
// bookkeeping and either immediate summary ACKs or periodic block ACKs.
type Receiver struct {
	cfg    Config
	sock   *ecnsock.Socket
	engine *praguecc.Engine
	table  *receiverstate.Table
	frames *receiverstate.FrameTable
	logger ylog.ILogger

	peer net.Addr
}

// Listen opens a receiver flow bound to cfg.ListenAddr:cfg.Port.
func Listen(cfg Config, logger ylog.ILogger) (*Receiver, error) {
	cfg = cfg.WithDefaults()
	sock, err := ecnsock.Bind(cfg.ListenAddr, cfg.Port, logger)
	if err != nil {
		return nil, fmt.Errorf("flow: listen %s:%d: %w", cfg.ListenAddr, cfg.Port, err)
	}
	r := &Receiver{
		cfg:    cfg,
		sock:   sock,
		logger: logger,
		engine: praguecc.NewEngine(praguecc.Params{
			MaxPacketSize: cfg.MaxPacketSize,
			MinRate:       cfg.MinRate,
			MaxRate:       cfg.MaxRate,
			FrameBudget:   cfg.frameBudgetMicros(),
		}),
		table: receiverstate.NewTable(),
	}
	if cfg.RTMode {
		r.frames = receiverstate.NewFrameTable()
	}
	return r, nil
}

func (r *Receiver) Close() error {
	return r.sock.Close()
}

// Run reads data packets and drives the ACK cadence appropriate to
// the configured mode, until the process is asked to stop.
func (r *Receiver) Run(stop <-chan struct{}) error {
	if r.cfg.BlockAck {
		return r.runBlockACK(stop)
	}
	return r.runSummaryACK(stop)
}

func (r *Receiver) runSummaryACK(stop <-chan struct{}) error {
	buf := make([]byte, r.cfg.MaxPacketSize)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		n, from, mark, err := r.sock.ReceiveTimeout(buf, time.Second)
		if err != nil {
			return fmt.Errorf("flow: receive: %w", err)
		}
		if n == 0 {
			continue
		}
		r.peer = from
		seq, ok := r.ingestData(buf[:n], mark)
		if !ok {
			continue
		}
		r.sendSummaryACK(seq)
	}
}

func (r *Receiver) runBlockACK(stop <-chan struct{}) error {
	buf := make([]byte, r.cfg.MaxPacketSize)
	maxReports := maxBlockACKReports(r.cfg.MaxPacketSize)
	nextACK := r.engine.Now()
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		now := r.engine.Now()
		wait := nextACK - now
		if wait < 0 {
			wait = 0
		}
		n, from, mark, err := r.sock.ReceiveTimeout(buf, time.Duration(wait)*time.Microsecond)
		if err != nil {
			return fmt.Errorf("flow: receive: %w", err)
		}
		if n != 0 {
			r.peer = from
			r.ingestData(buf[:n], mark)
		}
		if r.engine.Now()-nextACK >= 0 {
			r.sendBlockACKs(maxReports)
			nextACK = r.engine.Now() + int32(r.cfg.BlockAckPeriod.Microseconds())
		}
	}
}

// ingestData applies §4.7 steps 1-3 to one received data packet,
// returning its sequence number.
func (r *Receiver) ingestData(b []byte, mark ecn.Codepoint) (int32, bool) {
	typ, err := wire.PeekType(b)
	if err != nil {
		r.logger.Debug("flow: dropped datagram: %v", err)
		return 0, false
	}
	var timestamp, echoedTimestamp, seq int32
	switch typ {
	case wire.TypeBulkData:
		d, err := wire.DecodeBulkData(b)
		if err != nil {
			r.logger.Debug("flow: malformed bulk data: %v", err)
			return 0, false
		}
		timestamp, echoedTimestamp, seq = d.Timestamp, d.EchoedTimestamp, d.SeqNr
	case wire.TypeRTData:
		d, err := wire.DecodeRTData(b)
		if err != nil {
			r.logger.Debug("flow: malformed rt data: %v", err)
			return 0, false
		}
		timestamp, echoedTimestamp, seq = d.Timestamp, d.EchoedTimestamp, d.SeqNr
		if r.frames != nil {
			r.frames.OnPacketArrived(d.FrameNr, d.SeqNr, d.FrameSent, d.FrameSize, len(b))
		}
	default:
		r.logger.Debug("flow: unexpected packet type %d from peer", typ)
		return 0, false
	}
	// PacketReceived latches timestamp as lastPeerTS (echoed back on the
	// next outgoing ACK) and samples an RTT as now minus echoedTimestamp.
	r.engine.PacketReceived(timestamp, echoedTimestamp)
	now := r.engine.Now()
	r.table.Receive(seq, now, mark)
	r.engine.DataReceivedSequence(mark, seq)
	return seq, true
}

func (r *Receiver) sendSummaryACK(ackSeq int32) {
	packetsReceived, packetsCE, packetsLost, errorL4S := r.engine.GetACKInfo()
	timestamp, echoedTimestamp, _ := r.engine.GetTimeInfo()
	ack := &wire.SummaryACK{
		AckSeq:          ackSeq,
		Timestamp:       timestamp,
		EchoedTimestamp: echoedTimestamp,
		PacketsReceived: packetsReceived,
		PacketsCE:       packetsCE,
		PacketsLost:     packetsLost,
		ErrorL4S:        errorL4S,
	}
	if _, err := r.sock.Send(ack.Encode(), r.peer, ecn.NotECT); err != nil {
		r.logger.Error("flow: send summary ack: %v", err)
	}
}

func (r *Receiver) sendBlockACKs(maxReports int) {
	for {
		ack := r.table.GenerateBlockACK(r.engine.Now(), maxReports)
		if ack == nil {
			return
		}
		if _, err := r.sock.Send(ack.Encode(), r.peer, ecn.NotECT); err != nil {
			r.logger.Error("flow: send block ack: %v", err)
			return
		}
	}
}
