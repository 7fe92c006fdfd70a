package engine

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"dhtcore/nodeid"
	"dhtcore/routing"
)

// LookupNodes runs the iterative node lookup: seed a candidate set from
// the routing table, iterate up to three rounds of parallel find_node
// queries toward target, and return the count closest candidates
// discovered.
func (e *Engine) LookupNodes(ctx context.Context, target nodeid.ID, count int) []routing.Peer {
	seed, err := e.table.Closest(target, nodeLookupSeedFactor*count)
	if err != nil {
		e.log.Debugf("engine: lookup_nodes: seed failed: %v", err)
		seed = nil
	}

	l := &nodeLookup{engine: e, target: target}
	l.seed(seed)

	for round := 0; round < nodeLookupRounds; round++ {
		toQuery := l.pickUnqueried(nodeLookupFanout)
		if len(toQuery) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, c := range toQuery {
			l.markQueried(c.ID)
			wg.Add(1)
			go func(target routing.Peer) {
				defer wg.Done()
				l.queryOne(ctx, target)
			}(c)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			return l.closest(count)
		case <-e.closed:
			return l.closest(count)
		case <-time.After(nodeLookupRoundPause):
		}
	}

	return l.closest(count)
}

// nodeLookup tracks the mutable state of one in-flight iterative node
// lookup: the candidate set and which candidates have already been
// queried this lookup.
type nodeLookup struct {
	engine *Engine
	target nodeid.ID

	mu        sync.Mutex
	candidate map[nodeid.ID]routing.Peer
	queried   map[nodeid.ID]struct{}
}

func (l *nodeLookup) seed(peers []routing.Peer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidate = make(map[nodeid.ID]routing.Peer, len(peers))
	l.queried = make(map[nodeid.ID]struct{})
	for _, p := range peers {
		l.candidate[p.ID] = p
	}
}

func (l *nodeLookup) pickUnqueried(n int) []routing.Peer {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := make([]routing.Peer, 0, len(l.candidate))
	for _, p := range l.candidate {
		if _, done := l.queried[p.ID]; !done {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return nodeid.Less(all[i].ID.Distance(l.target), all[j].ID.Distance(l.target))
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (l *nodeLookup) markQueried(id nodeid.ID) {
	l.mu.Lock()
	l.queried[id] = struct{}{}
	l.mu.Unlock()
}

func (l *nodeLookup) admit(p routing.Peer) {
	l.mu.Lock()
	l.candidate[p.ID] = p
	l.mu.Unlock()
}

func (l *nodeLookup) queryOne(ctx context.Context, target routing.Peer) {
	addr := &net.UDPAddr{IP: target.IP, Port: target.Port}
	resp, err := l.engine.FindNode(ctx, addr, l.target)
	if err != nil {
		return
	}
	if resp.R == nil {
		return
	}
	l.admit(routing.Peer{ID: resp.R.ID, IP: addr.IP, Port: addr.Port})
	for _, n := range resp.R.Nodes {
		l.admit(n)
	}
}

func (l *nodeLookup) closest(count int) []routing.Peer {
	l.mu.Lock()
	all := make([]routing.Peer, 0, len(l.candidate))
	for _, p := range l.candidate {
		all = append(all, p)
	}
	l.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return nodeid.Less(all[i].ID.Distance(l.target), all[j].ID.Distance(l.target))
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// LookupPeers runs the iterative peer lookup: seed a queue from the
// routing table, emit get_peers in batches of up to 5 unqueried
// descriptors until the queue is exhausted or deadline passes, collecting
// any "values" into a deduplicated peer set and any "nodes" into the
// queue (after admitting them to the routing table).
func (e *Engine) LookupPeers(ctx context.Context, infoHash nodeid.ID, deadline time.Time) []routing.Peer {
	seed, err := e.table.Closest(infoHash, peerLookupSeedCount)
	if err != nil {
		e.log.Debugf("engine: lookup_peers: seed failed: %v", err)
		seed = nil
	}

	pl := &peerLookup{engine: e, target: infoHash}
	pl.enqueue(seed)

	for {
		if time.Now().After(deadline) {
			break
		}

		batch := pl.dequeueBatch(peerLookupBatchSize)
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, c := range batch {
			wg.Add(1)
			go func(target routing.Peer) {
				defer wg.Done()
				pl.queryOne(ctx, target)
			}(c)
		}
		wg.Wait()

		e.pending.sweep()

		select {
		case <-ctx.Done():
			return pl.results()
		case <-e.closed:
			return pl.results()
		case <-time.After(peerLookupBatchPause):
		}
	}

	return pl.results()
}

// peerLookup tracks the mutable state of one in-flight iterative peer
// lookup: the to-be-queried queue, which descriptors have already been
// queried, and the deduplicated peer-value set collected so far.
type peerLookup struct {
	engine *Engine
	target nodeid.ID

	mu      sync.Mutex
	queue   []routing.Peer
	queried map[nodeid.ID]struct{}
	values  map[string]routing.Peer
}

func (pl *peerLookup) enqueue(peers []routing.Peer) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.queried == nil {
		pl.queried = make(map[nodeid.ID]struct{})
		pl.values = make(map[string]routing.Peer)
	}
	for _, p := range peers {
		if _, done := pl.queried[p.ID]; done {
			continue
		}
		pl.queue = append(pl.queue, p)
	}
}

func (pl *peerLookup) dequeueBatch(n int) []routing.Peer {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	var out []routing.Peer
	for len(pl.queue) > 0 && len(out) < n {
		p := pl.queue[0]
		pl.queue = pl.queue[1:]
		if _, done := pl.queried[p.ID]; done {
			continue
		}
		pl.queried[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (pl *peerLookup) addValue(p routing.Peer) {
	key := p.IP.String() + ":" + strconv.Itoa(p.Port)
	pl.mu.Lock()
	pl.values[key] = p
	pl.mu.Unlock()
}

func (pl *peerLookup) results() []routing.Peer {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	out := make([]routing.Peer, 0, len(pl.values))
	for _, p := range pl.values {
		out = append(out, p)
	}
	return out
}

func (pl *peerLookup) queryOne(ctx context.Context, target routing.Peer) {
	addr := &net.UDPAddr{IP: target.IP, Port: target.Port}
	resp, err := pl.engine.GetPeers(ctx, addr, pl.target)
	if err != nil {
		return
	}
	if resp.R == nil {
		return
	}

	for _, v := range resp.R.Values {
		pl.addValue(v)
	}
	if len(resp.R.Nodes) > 0 {
		pl.enqueue(resp.R.Nodes)
	}
}
