package routing

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhtcore/nodeid"
)

// peerAtDistance builds a Peer whose ID is exactly `distance` away from
// self under XOR (self must be zero for these helpers to be readable).
func peerAtDistance(t *testing.T, self nodeid.ID, distance byte, port int) Peer {
	t.Helper()
	id := self
	id[nodeid.Length-1] ^= distance
	return Peer{ID: id, IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestInsertRejectsSelf(t *testing.T) {
	self, err := nodeid.Random()
	require.NoError(t, err)
	tbl := NewTable(self, 2)

	_, err = tbl.Insert(Peer{ID: self, IP: net.ParseIP("127.0.0.1"), Port: 1})
	assert.ErrorIs(t, err, ErrSelfID)
}

func TestReplacementPolicyFullBucketRefuses(t *testing.T) {
	var self nodeid.ID
	tbl := NewTable(self, 2)

	p1 := peerAtDistance(t, self, 4, 1001) // bucket 2
	p2 := peerAtDistance(t, self, 5, 1002) // bucket 2
	p3 := peerAtDistance(t, self, 6, 1003) // bucket 2

	added, err := tbl.Insert(p1)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = tbl.Insert(p2)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = tbl.Insert(p3)
	require.NoError(t, err)
	assert.False(t, added, "third insert into a full K=2 bucket must be refused")

	snap := tbl.Snapshot()
	assert.Len(t, snap, 2)
}

func TestReinsertKnownPeerPromotesToTail(t *testing.T) {
	var self nodeid.ID
	tbl := NewTable(self, 8)

	p1 := peerAtDistance(t, self, 2, 2001) // bucket 1
	p2 := peerAtDistance(t, self, 3, 2002) // bucket 1

	_, err := tbl.Insert(p1)
	require.NoError(t, err)
	_, err = tbl.Insert(p2)
	require.NoError(t, err)

	added, err := tbl.Insert(p1)
	require.NoError(t, err)
	assert.False(t, added, "re-inserting a known peer returns known, not newly-added")

	snap := tbl.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, p2.ID, snap[0].ID)
	assert.Equal(t, p1.ID, snap[1].ID, "re-inserted peer moves to the bucket tail")
}

func TestClosestOrdersByAscendingDistance(t *testing.T) {
	var self nodeid.ID
	tbl := NewTable(self, 8)

	far := peerAtDistance(t, self, 0x40, 3001)
	near := peerAtDistance(t, self, 0x01, 3002)
	mid := peerAtDistance(t, self, 0x10, 3003)

	for _, p := range []Peer{far, near, mid} {
		_, err := tbl.Insert(p)
		require.NoError(t, err)
	}

	closest, err := tbl.Closest(self, 3)
	require.NoError(t, err)
	require.Len(t, closest, 3)
	assert.Equal(t, near.ID, closest[0].ID)
	assert.Equal(t, mid.ID, closest[1].ID)
	assert.Equal(t, far.ID, closest[2].ID)
}

func TestClosestCapsAtCount(t *testing.T) {
	var self nodeid.ID
	tbl := NewTable(self, 8)

	for i := 1; i <= 5; i++ {
		p := peerAtDistance(t, self, byte(i), 4000+i)
		_, err := tbl.Insert(p)
		require.NoError(t, err)
	}

	closest, err := tbl.Closest(self, 2)
	require.NoError(t, err)
	assert.Len(t, closest, 2)
}

func TestClosestRejectsBadCount(t *testing.T) {
	var self nodeid.ID
	tbl := NewTable(self, 8)

	_, err := tbl.Closest(self, 0)
	assert.ErrorIs(t, err, ErrInvalidCount)

	_, err = tbl.Closest(self, 1001)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestRemove(t *testing.T) {
	var self nodeid.ID
	tbl := NewTable(self, 8)

	p := peerAtDistance(t, self, 9, 5001)
	_, err := tbl.Insert(p)
	require.NoError(t, err)

	assert.True(t, tbl.Remove(p))
	assert.False(t, tbl.Remove(p))
	assert.Equal(t, 0, tbl.Len())
}

func TestNoBucketExceedsK(t *testing.T) {
	var self nodeid.ID
	tbl := NewTable(self, 3)

	for i := 1; i <= 10; i++ {
		p := peerAtDistance(t, self, byte(i), 6000+i) // all land in buckets 0..3
		_, _ = tbl.Insert(p)
	}

	// Buckets 0..3 receive 1, 2, 4 and 3 candidates; bucket 2 is capped at K=3.
	assert.Equal(t, 1+2+3+3, tbl.Len())
}
