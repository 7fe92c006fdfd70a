package engine

import (
	"context"
	"math/rand"
	"net"
	"time"

	"dhtcore/nodeid"
)

// RunObserver runs a passive observer loop: every observerPingEveryTicks
// of a 1-second wake, it samples up to observerSampleSize random
// descriptors from the routing table and pings them with a
// find_node(random target) to stay visible to neighbours (so they keep
// sending us get_peers); every observerSweepEveryTicks, it sweeps the
// pending table for timeouts. It terminates when duration elapses
// (duration == 0 means run until ctx is done or the engine is closed) or
// on shutdown.
func (e *Engine) RunObserver(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(observerWakeInterval)
	defer ticker.Stop()

	var deadline time.Time
	if duration > 0 {
		deadline = time.Now().Add(duration)
	}

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closed:
			return
		case <-ticker.C:
			ticks++

			if !deadline.IsZero() && time.Now().After(deadline) {
				return
			}

			if ticks%observerPingEveryTicks == 0 {
				e.pingRandomSample(ctx)
			}
			if ticks%observerSweepEveryTicks == 0 {
				e.pending.sweep()
			}
		}
	}
}

func (e *Engine) pingRandomSample(ctx context.Context) {
	snapshot := e.table.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	rand.Shuffle(len(snapshot), func(i, j int) { snapshot[i], snapshot[j] = snapshot[j], snapshot[i] })
	if len(snapshot) > observerSampleSize {
		snapshot = snapshot[:observerSampleSize]
	}

	for _, p := range snapshot {
		target, err := nodeid.Random()
		if err != nil {
			continue
		}
		addr := &net.UDPAddr{IP: p.IP, Port: p.Port}
		go func(addr *net.UDPAddr, target nodeid.ID) {
			_, _ = e.FindNode(ctx, addr, target)
		}(addr, target)
	}
}
