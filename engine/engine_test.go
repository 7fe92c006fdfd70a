package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhtcore/nodeid"
)

func newTestEngine(t *testing.T, passive bool) *Engine {
	t.Helper()
	id, err := nodeid.Random()
	require.NoError(t, err)

	e, err := New(Config{
		LocalID:      id,
		ListenAddr:   "127.0.0.1:0",
		QueryTimeout: 200 * time.Millisecond,
		Passive:      passive,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Serve(ctx)

	return e
}

func TestPingRoundTripBetweenTwoEngines(t *testing.T) {
	a := newTestEngine(t, false)
	b := newTestEngine(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := a.Ping(ctx, b.LocalAddr())
	require.NoError(t, err)
	assert.True(t, resp.R.ID.Equal(b.cfg.LocalID))

	// The responder's identity should now be admitted into a's table.
	assert.Equal(t, 1, a.Table().Len())
}

func TestFindNodeReturnsRequesterIntoRoutingTable(t *testing.T) {
	a := newTestEngine(t, false)
	b := newTestEngine(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	target, err := nodeid.Random()
	require.NoError(t, err)

	resp, err := a.FindNode(ctx, b.LocalAddr(), target)
	require.NoError(t, err)
	assert.True(t, resp.R.ID.Equal(b.cfg.LocalID))

	// b should have admitted a as a querying peer too.
	assert.Equal(t, 1, b.Table().Len())
}

func TestLookupPeersAgainstIsolatedEngineReturnsEmptyAndLeaksNothing(t *testing.T) {
	e := newTestEngine(t, false)

	infoHash, err := nodeid.Random()
	require.NoError(t, err)

	deadline := time.Now().Add(100 * time.Millisecond)
	peers := e.LookupPeers(context.Background(), infoHash, deadline)

	assert.Empty(t, peers)

	// Allow any in-flight queries to finish timing out, then confirm no
	// pending entries leaked past the lookup's own deadline.
	time.Sleep(e.cfg.queryTimeout() + 50*time.Millisecond)
	assert.Equal(t, 0, e.pending.len())
}

func TestLookupNodesAgainstIsolatedEngineReturnsEmpty(t *testing.T) {
	e := newTestEngine(t, false)

	target, err := nodeid.Random()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := e.LookupNodes(ctx, target, 8)
	assert.Empty(t, got)
}

func TestBootstrapFailsWithNoReachableHosts(t *testing.T) {
	e := newTestEngine(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := e.Bootstrap(ctx, []string{"127.0.0.1:1"})
	assert.ErrorIs(t, err, ErrBootstrapFailed)
}

func TestPassiveEngineRecordsGetPeersQueries(t *testing.T) {
	observer := newTestEngine(t, true)
	querier := newTestEngine(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	infoHash, err := nodeid.Random()
	require.NoError(t, err)

	_, err = querier.GetPeers(ctx, observer.LocalAddr(), infoHash)
	require.NoError(t, err)

	snapshot := observer.Observed().Snapshot()
	rec, ok := snapshot[infoHash]
	require.True(t, ok)
	assert.Equal(t, 1, rec.Count)
}
