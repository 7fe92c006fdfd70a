package engine

import (
	"net"

	"dhtcore/krpc"
	"dhtcore/routing"
)

// placeholderToken is returned from every get_peers response. No
// announce_peer is ever honored, so no real write-token discipline is
// needed.
const placeholderToken = "no-announce-token"

// handleQuery implements the server side of the protocol: ping,
// find_node, and get_peers each get a fixed reply shape; unknown methods
// are ignored; anything that failed to parse never reaches here (dropped
// in handleDatagram already).
func (e *Engine) handleQuery(msg *krpc.Msg, addr *net.UDPAddr) {
	if msg.A != nil && !msg.A.ID.IsZero() {
		p := routing.Peer{ID: msg.A.ID, IP: addr.IP, Port: addr.Port}
		if _, err := e.table.Insert(p); err != nil {
			e.log.Debugf("engine: admit querying peer failed: %v", err)
		}
	}

	switch msg.Q {
	case krpc.MethodPing:
		e.replyPing(msg, addr)
	case krpc.MethodFindNode:
		e.replyFindNode(msg, addr)
	case krpc.MethodGetPeers:
		e.replyGetPeers(msg, addr)
	default:
		e.log.Debugf("engine: ignoring unknown query method %q from %s", msg.Q, addr)
	}
}

func (e *Engine) replyPing(msg *krpc.Msg, addr *net.UDPAddr) {
	resp := krpc.NewPingResponse(msg.T, e.cfg.LocalID)
	e.sendReply(resp, addr)
}

func (e *Engine) replyFindNode(msg *krpc.Msg, addr *net.UDPAddr) {
	if msg.A == nil {
		return
	}
	closest, err := e.table.Closest(msg.A.Target, serverClosestNodeHint)
	if err != nil {
		e.log.Debugf("engine: find_node closest failed: %v", err)
		closest = nil
	}
	resp := krpc.NewFindNodeResponse(msg.T, e.cfg.LocalID, closest)
	e.sendReply(resp, addr)
}

func (e *Engine) replyGetPeers(msg *krpc.Msg, addr *net.UDPAddr) {
	if msg.A == nil || !msg.A.HasInfoHash {
		return
	}

	if e.observed != nil {
		e.observed.record(msg.A.InfoHash, addr.String())
	}

	closest, err := e.table.Closest(e.cfg.LocalID, serverClosestNodeHint)
	if err != nil {
		e.log.Debugf("engine: get_peers closest failed: %v", err)
		closest = nil
	}
	resp := krpc.NewGetPeersResponse(msg.T, e.cfg.LocalID, placeholderToken, closest)
	e.sendReply(resp, addr)
}

func (e *Engine) sendReply(msg *krpc.Msg, addr *net.UDPAddr) {
	b, err := msg.Encode()
	if err != nil {
		e.log.Debugf("engine: encode reply failed: %v", err)
		return
	}
	// A send failure on an individual reply is swallowed: the querying
	// peer simply times out waiting for us.
	if err := e.ep.WriteTo(b, addr); err != nil {
		e.log.Debugf("engine: send reply to %s failed: %v", addr, err)
	}
}
