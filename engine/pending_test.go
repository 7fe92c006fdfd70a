package engine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhtcore/krpc"
)

func TestCompleteDeliversExactlyOnce(t *testing.T) {
	p := newPendingTable(time.Second)
	tag := p.nextTag()
	respCh := p.register(tag)

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	msg := krpc.NewPingResponse(tag, [20]byte{})

	ok := p.complete(tag, msg, addr)
	require.True(t, ok)

	select {
	case result := <-respCh:
		assert.Equal(t, msg, result.msg)
		assert.Equal(t, addr, result.addr)
	default:
		t.Fatal("expected a delivered result")
	}

	// A second completion for the same (now-removed) tag is a no-op.
	ok = p.complete(tag, msg, addr)
	assert.False(t, ok)
}

func TestCompleteOnUnknownTagIsNoOp(t *testing.T) {
	p := newPendingTable(time.Second)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	msg := krpc.NewPingResponse("zz", [20]byte{})

	ok := p.complete("zz", msg, addr)
	assert.False(t, ok)
}

func TestCancelRemovesEntryWithoutDelivering(t *testing.T) {
	p := newPendingTable(time.Second)
	tag := p.nextTag()
	p.register(tag)

	p.cancel(tag)
	assert.Equal(t, 0, p.len())

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	ok := p.complete(tag, krpc.NewPingResponse(tag, [20]byte{}), addr)
	assert.False(t, ok)
}

func TestSweepReapsOnlyExpiredEntries(t *testing.T) {
	p := newPendingTable(10 * time.Millisecond)

	staleTag := p.nextTag()
	p.register(staleTag)

	time.Sleep(20 * time.Millisecond)

	freshTag := p.nextTag()
	freshCh := p.register(freshTag)

	reaped := p.sweep()
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, p.len())

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	ok := p.complete(freshTag, krpc.NewPingResponse(freshTag, [20]byte{}), addr)
	require.True(t, ok)
	<-freshCh

	ok = p.complete(staleTag, krpc.NewPingResponse(staleTag, [20]byte{}), addr)
	assert.False(t, ok, "a reaped tag must never deliver a late response")
}

func TestNextTagProducesDistinctTwoByteTags(t *testing.T) {
	p := newPendingTable(time.Second)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tag := p.nextTag()
		assert.Len(t, tag, 2)
		_, dup := seen[tag]
		assert.False(t, dup)
		seen[tag] = struct{}{}
	}
}
