// Package flow drives one Prague-controlled UDP flow end to end: the
// sender pacing loop, the receiver ACK loop, and the configuration
// record shared by both roles.
package flow

import "time"

// Role selects which side of the flow this process plays.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// Config is the configuration record handed to Dial/Listen. Field
// names and defaults follow the flow's external configuration
// contract; MaxPacketSize, MaxRate, BlockAck and friends are exposed
// as CLI flags by cmd/udp-prague.
type Config struct {
	Role Role

	ListenAddr string
	Port       int

	MaxPacketSize int64
	MinRate       uint64
	MaxRate       uint64

	BlockAck       bool
	BlockAckPeriod time.Duration

	RTMode         bool
	FPS            int
	FrameDuration  time.Duration

	// MaxTimeout is the number of consecutive RTOs the sender tolerates
	// before giving up on the flow.
	MaxTimeout int
}

const (
	DefaultListenAddr     = "0.0.0.0"
	DefaultPort           = 8080
	DefaultMaxPacketSize  = 1400
	DefaultMaxRate        = 12_500_000_000
	DefaultBlockAckPeriod = 25_000 * time.Microsecond
	DefaultFPS            = 60
	DefaultFrameDuration  = 10_000 * time.Microsecond
	DefaultMaxTimeout     = 2

	minMTU = 150
	maxMTU = 1500
)

// WithDefaults fills in zero fields with the documented defaults and
// clamps user-supplied values into their valid ranges.
func (c Config) WithDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	if c.MaxPacketSize < minMTU {
		c.MaxPacketSize = minMTU
	}
	if c.MaxPacketSize > maxMTU {
		c.MaxPacketSize = maxMTU
	}
	if c.MaxRate == 0 {
		c.MaxRate = DefaultMaxRate
	}
	if c.BlockAckPeriod == 0 {
		c.BlockAckPeriod = DefaultBlockAckPeriod
	}
	if c.FPS == 0 && c.RTMode {
		c.FPS = DefaultFPS
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.RTMode && c.FPS > 0 {
		maxFrameDuration := time.Second / time.Duration(c.FPS)
		if c.FrameDuration > maxFrameDuration {
			c.FrameDuration = maxFrameDuration
		}
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	return c
}

// frameBudgetMicros is the per-frame time budget fed to the CC engine,
// zero for bulk (non-frame) mode.
func (c Config) frameBudgetMicros() int64 {
	if !c.RTMode {
		return 0
	}
	return c.FrameDuration.Microseconds()
}
