// Package engine implements the query engine: it owns the datagram
// endpoint, assigns correlation tags to outgoing queries, matches
// responses to pending queries, times out abandoned queries, and exposes
// the iterative node/peer lookups, bootstrap, and the passive observer.
//
// Engine holds no package-level state: every socket, routing table, and
// pending-query table belongs to one Engine value, so multiple engines
// may coexist in a process with disjoint state.
package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dhtcore/krpc"
	"dhtcore/nodeid"
	"dhtcore/routing"
)

// Engine is a single running DHT node: it owns the socket, the routing
// index, and the pending query table.
type Engine struct {
	cfg Config
	log *zap.SugaredLogger

	ep      *endpoint
	table   *routing.Table
	pending *pendingTable
	// observed is non-nil only when the engine was constructed with
	// Config.Passive set.
	observed *observedLog

	closed chan struct{}
}

// New constructs an Engine bound to cfg.ListenAddr. It does not start the
// reader loop; call Serve for that.
func New(cfg Config) (*Engine, error) {
	log := cfg.logger()

	ep, err := newEndpoint(cfg.ListenAddr, log)
	if err != nil {
		return nil, errors.Wrap(err, "engine: bind listen address")
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		ep:      ep,
		table:   routing.NewTable(cfg.LocalID, cfg.K),
		pending: newPendingTable(cfg.queryTimeout()),
		closed:  make(chan struct{}),
	}
	if cfg.Passive {
		e.observed = newObservedLog()
	}
	return e, nil
}

// LocalAddr returns the bound local UDP address.
func (e *Engine) LocalAddr() *net.UDPAddr {
	return e.ep.LocalAddr()
}

// Table exposes the engine's routing index (read-mostly use, e.g. by the
// observer loop and by tests).
func (e *Engine) Table() *routing.Table {
	return e.table
}

// Observed exposes the passive-mode observed-identifier log. Returns nil
// if the engine was not constructed with Config.Passive.
func (e *Engine) Observed() *observedLog {
	return e.observed
}

// Close shuts down the datagram endpoint. The reader loop (if running)
// observes this on its next read and returns.
func (e *Engine) Close() error {
	select {
	case <-e.closed:
		// already closed
	default:
		close(e.closed)
	}
	return e.ep.Close()
}

// Serve runs the reader loop until ctx is cancelled or Close is called.
// Each inbound datagram is decoded and classified, then either dispatched
// to the matching pending correlation (response) or handled by the
// server side (query).
func (e *Engine) Serve(ctx context.Context) error {
	buf := make([]byte, DefaultInboundBuffer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		default:
		}

		n, addr, err := e.ep.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-e.closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		go e.handleDatagram(datagram, addr)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// handleDatagram decodes and classifies one inbound datagram. Malformed
// messages are dropped silently and logged at debug: the transport is
// best-effort and the sender is untrusted.
func (e *Engine) handleDatagram(b []byte, addr *net.UDPAddr) {
	msg, err := krpc.Parse(b)
	if err != nil {
		e.log.Debugf("engine: dropping malformed datagram from %s: %v", addr, err)
		return
	}

	switch msg.Y {
	case krpc.KindResponse, krpc.KindError:
		if !e.pending.complete(msg.T, msg, addr) {
			e.log.Debugf("engine: no pending query for tag %q from %s", msg.T, addr)
		}
	case krpc.KindQuery:
		e.handleQuery(msg, addr)
	default:
		e.log.Debugf("engine: dropping message with unknown kind from %s", addr)
	}
}

// query sends msg to addr, registers a pending correlation under its tag,
// and blocks until a response arrives, ctx is done, or the engine's query
// timeout elapses — the single-shot building block both the iterative
// lookups and Bootstrap are built from.
func (e *Engine) query(ctx context.Context, addr *net.UDPAddr, msg *krpc.Msg) (*krpc.Msg, *net.UDPAddr, error) {
	tag := e.pending.nextTag()
	msg.T = tag

	b, err := msg.Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("engine: encode query: %w", err)
	}

	respCh := e.pending.register(tag)

	if err := e.ep.WriteTo(b, addr); err != nil {
		// A send failure is swallowed for the individual send, but this
		// particular query obviously has no chance of a reply, so its
		// pending entry is cleaned up now rather than waiting out the
		// full timeout.
		e.pending.cancel(tag)
		return nil, nil, fmt.Errorf("engine: send query: %w", err)
	}

	select {
	case result := <-respCh:
		return result.msg, result.addr, nil
	case <-time.After(e.cfg.queryTimeout()):
		return nil, nil, errTimedOut
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-e.closed:
		return nil, nil, errEngineClosed
	}
}

var (
	errTimedOut     = errors.New("engine: query timed out")
	errEngineClosed = errors.New("engine: closed")
)

// Ping sends a ping query to addr and waits for the response.
func (e *Engine) Ping(ctx context.Context, addr *net.UDPAddr) (*krpc.Msg, error) {
	msg := krpc.NewPing("", e.cfg.LocalID)
	resp, from, err := e.query(ctx, addr, msg)
	if err != nil {
		return nil, err
	}
	e.admit(resp, from)
	return resp, nil
}

// FindNode sends a find_node query to addr and waits for the response.
func (e *Engine) FindNode(ctx context.Context, addr *net.UDPAddr, target nodeid.ID) (*krpc.Msg, error) {
	msg := krpc.NewFindNode("", e.cfg.LocalID, target)
	resp, from, err := e.query(ctx, addr, msg)
	if err != nil {
		return nil, err
	}
	e.admit(resp, from)
	return resp, nil
}

// GetPeers sends a get_peers query to addr and waits for the response.
func (e *Engine) GetPeers(ctx context.Context, addr *net.UDPAddr, infoHash nodeid.ID) (*krpc.Msg, error) {
	msg := krpc.NewGetPeers("", e.cfg.LocalID, infoHash)
	resp, from, err := e.query(ctx, addr, msg)
	if err != nil {
		return nil, err
	}
	e.admit(resp, from)
	return resp, nil
}

// admit folds a response's sender and any nodes it returned into the
// routing table: every observed descriptor is a candidate for the index,
// not just ones discovered via find_node.
func (e *Engine) admit(msg *krpc.Msg, from *net.UDPAddr) {
	if msg == nil || msg.R == nil || from == nil {
		return
	}

	if !msg.R.ID.IsZero() {
		p := routing.Peer{ID: msg.R.ID, IP: from.IP, Port: from.Port}
		if _, err := e.table.Insert(p); err != nil && !errors.Is(err, routing.ErrSelfID) {
			e.log.Debugf("engine: admit sender failed: %v", err)
		}
	}

	for _, n := range msg.R.Nodes {
		if _, err := e.table.Insert(n); err != nil && !errors.Is(err, routing.ErrSelfID) {
			e.log.Debugf("engine: admit node failed: %v", err)
		}
	}
}
