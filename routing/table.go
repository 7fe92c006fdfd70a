// Package routing implements the distance-partitioned peer index: 160
// bounded buckets holding up to K peer descriptors each, with a
// least-recently-seen replacement discipline: a full bucket refuses new
// peers rather than evicting an existing, proven one.
package routing

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"dhtcore/nodeid"
)

// DefaultK is the default per-bucket capacity.
const DefaultK = 8

// MaxK is the upper bound a caller may configure K to.
const MaxK = 100

// NumBuckets is the number of distance buckets: one per bit of a 160-bit
// identifier.
const NumBuckets = 160

var (
	// ErrSelfID is returned by Insert when asked to store the table's
	// own local identifier.
	ErrSelfID = errors.New("routing: cannot insert local id")
	// ErrInvalidCount is returned by Closest for an out-of-range count.
	ErrInvalidCount = errors.New("routing: count must be in [1, 1000]")
)

// Peer is an immutable (ID, IPv4 address, UDP port) triple. Two peers are
// equal iff all three fields match.
type Peer struct {
	ID   nodeid.ID
	IP   net.IP
	Port int
}

// Equal reports whether p and other describe the same peer.
func (p Peer) Equal(other Peer) bool {
	return p.ID.Equal(other.ID) && p.IP.Equal(other.IP) && p.Port == other.Port
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s:%d", p.ID, p.IP, p.Port)
}

type bucket struct {
	// peers holds entries ordered least-recently-seen at index 0,
	// most-recently-seen at the tail.
	peers []Peer
}

// Table is the routing index for exactly one query engine. The zero
// value is not usable; construct with NewTable.
type Table struct {
	self nodeid.ID
	k    int

	mu      sync.RWMutex
	buckets [NumBuckets]*bucket
}

// NewTable creates a routing table centered on self with per-bucket
// capacity k. k is clamped to [1, MaxK]; k <= 0 selects DefaultK.
func NewTable(self nodeid.ID, k int) *Table {
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}
	return &Table{self: self, k: k}
}

// Self returns the local identifier this table is centered on.
func (t *Table) Self() nodeid.ID {
	return t.self
}

// K returns the configured per-bucket capacity.
func (t *Table) K() int {
	return t.k
}

// Insert admits n into the routing table. It returns true if n was newly
// added, false if it was already known (in which case it is promoted to
// its bucket's tail) or its bucket is at capacity (in which case the
// table is left unchanged, preferring the older, proven nodes already
// held).
func (t *Table) Insert(n Peer) (bool, error) {
	if n.ID.Equal(t.self) {
		return false, ErrSelfID
	}

	idx, err := nodeid.BucketIndex(t.self, n.ID)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[idx]
	if b == nil {
		b = &bucket{}
		t.buckets[idx] = b
	}

	for i, p := range b.peers {
		if p.Equal(n) {
			// Known: promote to tail (most-recently-seen).
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			b.peers = append(b.peers, n)
			return false, nil
		}
	}

	if len(b.peers) >= t.k {
		return false, nil
	}

	b.peers = append(b.peers, n)
	return true, nil
}

// Remove deletes n from the table. It returns true if n was present.
func (t *Table) Remove(n Peer) bool {
	idx, err := nodeid.BucketIndex(t.self, n.ID)
	if err != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[idx]
	if b == nil {
		return false
	}
	for i, p := range b.peers {
		if p.Equal(n) {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			return true
		}
	}
	return false
}

type candidate struct {
	peer Peer
	// order is the candidate's position in the full scan, used to break
	// ties between equal-distance peers with stable insertion order.
	order int
}

// Closest returns up to count descriptors sorted by ascending distance
// to target. Ties are broken by stable (insertion) order.
func (t *Table) Closest(target nodeid.ID, count int) ([]Peer, error) {
	if count < 1 || count > 1000 {
		return nil, ErrInvalidCount
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	cands := make([]candidate, 0)
	order := 0
	for _, b := range t.buckets {
		if b == nil {
			continue
		}
		for _, p := range b.peers {
			cands = append(cands, candidate{peer: p, order: order})
			order++
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		di := cands[i].peer.ID.Distance(target)
		dj := cands[j].peer.ID.Distance(target)
		if cmp := di.Cmp(dj); cmp != 0 {
			return cmp < 0
		}
		return cands[i].order < cands[j].order
	})

	if len(cands) > count {
		cands = cands[:count]
	}

	out := make([]Peer, len(cands))
	for i, c := range cands {
		out[i] = c.peer
	}
	return out, nil
}

// Snapshot returns a flat copy of every descriptor currently stored.
func (t *Table) Snapshot() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Peer
	for _, b := range t.buckets {
		if b == nil {
			continue
		}
		out = append(out, b.peers...)
	}
	return out
}

// Len returns the total number of stored descriptors, across all buckets.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, b := range t.buckets {
		if b != nil {
			n += len(b.peers)
		}
	}
	return n
}
