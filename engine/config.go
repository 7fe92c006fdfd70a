package engine

import (
	"time"

	"go.uber.org/zap"

	"dhtcore/nodeid"
)

// Default tunables governing timeouts, lookup shape, and buffer sizing.
const (
	DefaultQueryTimeout    = 5 * time.Second
	DefaultBootstrapWindow = 2 * time.Second
	DefaultInboundBuffer   = 2048 // 2 KiB, large enough for any single datagram this engine sends or expects

	nodeLookupRounds      = 3
	nodeLookupFanout      = 3
	nodeLookupSeedFactor  = 2
	nodeLookupRoundPause  = 500 * time.Millisecond
	peerLookupSeedCount   = 16
	peerLookupBatchSize   = 5
	peerLookupBatchPause  = 300 * time.Millisecond
	serverClosestNodeHint = 8

	observerWakeInterval    = 1 * time.Second
	observerPingEveryTicks  = 10
	observerSampleSize      = 5
	observerSweepEveryTicks = 30
)

// Config parameterizes a new Engine.
type Config struct {
	// LocalID is this engine's own identifier. It is never stored in its
	// own routing table.
	LocalID nodeid.ID

	// ListenAddr is the local UDP address to bind, e.g. "0.0.0.0:6881".
	// An empty port selects an ephemeral one.
	ListenAddr string

	// K is the per-bucket routing table capacity. 0 selects
	// routing.DefaultK.
	K int

	// QueryTimeout bounds how long a pending query waits for a response
	// before being reaped. 0 selects DefaultQueryTimeout.
	QueryTimeout time.Duration

	// BootstrapWindow bounds how long Bootstrap waits for at least one
	// response when the caller's context carries no deadline of its own.
	// 0 selects DefaultBootstrapWindow.
	BootstrapWindow time.Duration

	// Passive enables the passive-crawl observed-identifier log: get_peers
	// queries directed at us record their info_hash in addition to being
	// answered normally.
	Passive bool

	// Logger receives structured logs for dropped/malformed messages (at
	// debug level) and operational events. A no-op logger is used if nil.
	Logger *zap.SugaredLogger
}

func (c Config) queryTimeout() time.Duration {
	if c.QueryTimeout <= 0 {
		return DefaultQueryTimeout
	}
	return c.QueryTimeout
}

func (c Config) bootstrapWindow() time.Duration {
	if c.BootstrapWindow <= 0 {
		return DefaultBootstrapWindow
	}
	return c.BootstrapWindow
}

func (c Config) logger() *zap.SugaredLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop().Sugar()
}
