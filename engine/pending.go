package engine

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dhtcore/krpc"
)

// pendingQuery tracks one outstanding query: the correlation tag's state
// machine is Pending until either a matching response arrives (Completed,
// the continuation channel receives the reply) or it ages past the
// engine's query timeout (TimedOut, reaped without ever signalling the
// channel).
type pendingQuery struct {
	issued time.Time
	respCh chan pendingResult
}

type pendingResult struct {
	msg  *krpc.Msg
	addr *net.UDPAddr
}

// pendingTable maps a 2-octet correlation tag to (continuation, issue
// time). A tag is unique while present; it is removed exactly once,
// by complete (response matched), by sweep (timeout), or by cancel
// (the send failed).
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingQuery
	counter uint32
	timeout time.Duration
}

func newPendingTable(timeout time.Duration) *pendingTable {
	return &pendingTable{
		entries: make(map[string]*pendingQuery),
		timeout: timeout,
	}
}

// nextTag assigns the next correlation tag from a monotonically
// increasing 16-bit counter. Wrap-around is acceptable: the outstanding
// window is far smaller than 2^16 in any realistic deployment.
func (p *pendingTable) nextTag() string {
	n := atomic.AddUint32(&p.counter, 1)
	tag := uint16(n)
	return string([]byte{byte(tag >> 8), byte(tag)})
}

// register creates a new Pending entry for tag and returns the channel
// its eventual response (if any) will be delivered on.
func (p *pendingTable) register(tag string) chan pendingResult {
	ch := make(chan pendingResult, 1)
	p.mu.Lock()
	p.entries[tag] = &pendingQuery{issued: time.Now(), respCh: ch}
	p.mu.Unlock()
	return ch
}

// cancel removes tag's entry without delivering a result, e.g. when the
// initiating send itself failed.
func (p *pendingTable) cancel(tag string) {
	p.mu.Lock()
	delete(p.entries, tag)
	p.mu.Unlock()
}

// complete matches an inbound response to its pending entry and delivers
// it exactly once. A second response for the same tag (or a response for
// an unknown/already-removed tag) is a no-op.
func (p *pendingTable) complete(tag string, msg *krpc.Msg, addr *net.UDPAddr) bool {
	p.mu.Lock()
	entry, ok := p.entries[tag]
	if ok {
		delete(p.entries, tag)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	entry.respCh <- pendingResult{msg: msg, addr: addr}
	return true
}

// sweep removes every entry older than the table's timeout. Their
// continuations are simply dropped: a timed-out continuation is never
// invoked with a synthetic error, it is just never invoked.
func (p *pendingTable) sweep() int {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	reaped := 0
	for tag, entry := range p.entries {
		if now.Sub(entry.issued) > p.timeout {
			delete(p.entries, tag)
			reaped++
		}
	}
	return reaped
}

// len reports the number of outstanding pending entries (used by tests
// to confirm no leaks after a bounded lookup).
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
