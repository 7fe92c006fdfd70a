// Package nodeid implements the 160-bit identifier type used throughout
// the DHT: node identities and content (info hash) identifiers share the
// same type and the same XOR-metric distance.
package nodeid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
)

// Length is the fixed size of an identifier in octets.
const Length = 20

// ErrSameID is returned by BucketIndex when asked for the bucket of an ID
// against itself: distance is zero and log2(0) is undefined.
var ErrSameID = errors.New("nodeid: bucket index undefined for identical IDs")

// ID is a fixed 20-octet opaque identifier. Equality is octet-wise.
type ID [Length]byte

// Random draws 20 independent octets from a cryptographically secure
// source.
func Random() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Equal reports whether a and b are octet-wise identical.
func (a ID) Equal(b ID) bool {
	return a == b
}

// IsZero reports whether every octet is zero.
func (a ID) IsZero() bool {
	return a == ID{}
}

// String renders the identifier as lowercase hex.
func (a ID) String() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the identifier's octets.
func (a ID) Bytes() []byte {
	out := make([]byte, Length)
	copy(out, a[:])
	return out
}

// FromBytes builds an ID from exactly Length octets.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Length {
		return id, errors.New("nodeid: id must be exactly 20 octets")
	}
	copy(id[:], b)
	return id, nil
}

// Distance computes distance(a,b) = big-endian(a XOR b). The result is
// symmetric, zero iff a == b, and satisfies the triangle inequality
// under XOR.
func (a ID) Distance(b ID) *big.Int {
	var xor [Length]byte
	for i := 0; i < Length; i++ {
		xor[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(xor[:])
}

// Less reports whether distA is strictly smaller than distB. Equal
// distances are not less in either direction; it breaks no ties.
func Less(distA, distB *big.Int) bool {
	return distA.Cmp(distB) < 0
}

// BucketIndex returns floor(log2(distance(self,other))), the bucket
// self would store other in: range 0..159, where 0 means the two IDs
// differ only in their lowest bit and 159 means they differ in the top
// bit. Undefined (ErrSameID) when self == other.
func BucketIndex(self, other ID) (int, error) {
	if self.Equal(other) {
		return 0, ErrSameID
	}
	dist := self.Distance(other)
	// BitLen() of a positive big.Int is exactly floor(log2(x))+1.
	return dist.BitLen() - 1, nil
}
