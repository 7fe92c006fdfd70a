package nodeid

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allBytes(b byte) ID {
	var id ID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestDistanceLaws(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)

	assert.Zero(t, a.Distance(a).Sign())

	b, err := Random()
	require.NoError(t, err)
	assert.Equal(t, 0, a.Distance(b).Cmp(b.Distance(a)))
}

func TestBucketIndexRejectsSelf(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)

	_, err = BucketIndex(a, a)
	assert.ErrorIs(t, err, ErrSameID)
}

func TestBucketIndexBoundaries(t *testing.T) {
	zero := ID{}

	lowBit := ID{}
	lowBit[Length-1] = 0x01
	idx, err := BucketIndex(zero, lowBit)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	topBit := ID{}
	topBit[0] = 0x80
	idx, err = BucketIndex(zero, topBit)
	require.NoError(t, err)
	assert.Equal(t, 159, idx)
}

func TestDistanceAllZeroVsAllFF(t *testing.T) {
	zero := allBytes(0x00)
	ones := allBytes(0xFF)

	expected := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	assert.Equal(t, 0, expected.Cmp(zero.Distance(ones)))
}

func TestRandomProducesDistinctIDs(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFromBytesValidatesLength(t *testing.T) {
	_, err := FromBytes(make([]byte, 19))
	assert.Error(t, err)

	id, err := FromBytes(make([]byte, 20))
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}
