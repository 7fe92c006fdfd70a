// Package krpc implements the DHT message layer: constructors for the
// ping, find_node and get_peers queries and the response/error shapes
// (announce_peer has a method-name constant but no constructor), and a
// parser that
// validates envelope structure and dispatches by tagged message kind.
package krpc

import (
	"errors"
	"fmt"

	"dhtcore/bencode"
	"dhtcore/nodeid"
	"dhtcore/routing"
)

// Kind is the "y" tag: query, response, or error.
type Kind string

const (
	KindQuery    Kind = "q"
	KindResponse Kind = "r"
	KindError    Kind = "e"
)

// Query method names.
const (
	MethodPing      = "ping"
	MethodFindNode  = "find_node"
	MethodGetPeers  = "get_peers"
	MethodAnnounce  = "announce_peer" // parser/shape completeness only; never issued or honored (see Non-goals)
)

var (
	ErrMissingTransactionID = errors.New("krpc: message missing transaction id (t)")
	ErrMissingKind          = errors.New("krpc: message missing or invalid kind (y)")
	ErrMissingQueryMethod   = errors.New("krpc: query missing method (q)")
	ErrMissingArgs          = errors.New("krpc: query missing arguments (a)")
	ErrMissingResult        = errors.New("krpc: response missing result (r)")
	ErrMissingError         = errors.New("krpc: error message missing (e)")
	ErrBadIDLength          = errors.New("krpc: id must be exactly 20 octets")
)

// Args holds the arguments of a query ("a" submap).
type Args struct {
	ID       nodeid.ID
	InfoHash nodeid.ID
	Target   nodeid.ID
	Token    string
	HasInfoHash bool
	HasTarget   bool
}

// Result holds a response's result ("r" submap).
type Result struct {
	ID     nodeid.ID
	Nodes  []routing.Peer
	Values []routing.Peer
	Token  string

	HasNodes  bool
	HasValues bool
	HasToken  bool
}

// Error is the ("e") two-element [code, reason] shape.
type Error struct {
	Code   int64
	Reason string
}

// Msg is a decoded or about-to-be-encoded KRPC message: a tagged variant
// of {Query(method, args), Response(result), Error(code, reason)}.
type Msg struct {
	T string // correlation tag, opaque octets (local convention: 2 octets when we generate it)
	Y Kind

	Q string // query method, KindQuery only
	A *Args  // query arguments, KindQuery only

	R *Result // result, KindResponse only
	E *Error  // error, KindError only
}

// NewPing builds a ping query.
func NewPing(t string, id nodeid.ID) *Msg {
	return &Msg{T: t, Y: KindQuery, Q: MethodPing, A: &Args{ID: id}}
}

// NewFindNode builds a find_node query.
func NewFindNode(t string, id, target nodeid.ID) *Msg {
	return &Msg{T: t, Y: KindQuery, Q: MethodFindNode, A: &Args{ID: id, Target: target, HasTarget: true}}
}

// NewGetPeers builds a get_peers query.
func NewGetPeers(t string, id, infoHash nodeid.ID) *Msg {
	return &Msg{T: t, Y: KindQuery, Q: MethodGetPeers, A: &Args{ID: id, InfoHash: infoHash, HasInfoHash: true}}
}

// NewPingResponse builds a ping response ({id}).
func NewPingResponse(t string, id nodeid.ID) *Msg {
	return &Msg{T: t, Y: KindResponse, R: &Result{ID: id}}
}

// NewFindNodeResponse builds a find_node response ({id, nodes}).
func NewFindNodeResponse(t string, id nodeid.ID, nodes []routing.Peer) *Msg {
	return &Msg{T: t, Y: KindResponse, R: &Result{ID: id, Nodes: nodes, HasNodes: true}}
}

// NewGetPeersResponse builds a get_peers response ({id, token, nodes}).
// values is nil when there are no known peers for the info hash; the
// caller of this constructor decides whether to populate Values instead
// (the server side never returns both).
func NewGetPeersResponse(t string, id nodeid.ID, token string, nodes []routing.Peer) *Msg {
	return &Msg{T: t, Y: KindResponse, R: &Result{ID: id, Token: token, HasToken: true, Nodes: nodes, HasNodes: true}}
}

// NewError builds an error message.
func NewError(t string, code int64, reason string) *Msg {
	return &Msg{T: t, Y: KindError, E: &Error{Code: code, Reason: reason}}
}

// Encode serializes m to its canonical bencoded wire form.
func (m *Msg) Encode() ([]byte, error) {
	d := bencode.Dict{
		"t": m.T,
		"y": string(m.Y),
	}

	switch m.Y {
	case KindQuery:
		if m.Q == "" {
			return nil, ErrMissingQueryMethod
		}
		if m.A == nil {
			return nil, ErrMissingArgs
		}
		d["q"] = m.Q
		d["a"] = encodeArgs(m.A)
	case KindResponse:
		if m.R == nil {
			return nil, ErrMissingResult
		}
		d["r"] = encodeResult(m.R)
	case KindError:
		if m.E == nil {
			return nil, ErrMissingError
		}
		d["e"] = []any{m.E.Code, m.E.Reason}
	default:
		return nil, ErrMissingKind
	}

	return bencode.Encode(d)
}

func encodeArgs(a *Args) bencode.Dict {
	out := bencode.Dict{"id": string(a.ID.Bytes())}
	if a.HasInfoHash {
		out["info_hash"] = string(a.InfoHash.Bytes())
	}
	if a.HasTarget {
		out["target"] = string(a.Target.Bytes())
	}
	if a.Token != "" {
		out["token"] = a.Token
	}
	return out
}

func encodeResult(r *Result) bencode.Dict {
	out := bencode.Dict{"id": string(r.ID.Bytes())}
	if r.HasToken {
		out["token"] = r.Token
	}
	if r.HasNodes {
		packed, _ := PackPeers(r.Nodes)
		out["nodes"] = string(packed)
	}
	if r.HasValues {
		values := make([]any, 0, len(r.Values))
		for _, p := range r.Values {
			blob, err := PackValue(p)
			if err != nil {
				continue
			}
			values = append(values, string(blob))
		}
		out["values"] = values
	}
	return out
}

// Parse decodes a single KRPC message from b. It requires "y" to be
// present and one of the three kinds, and requires "t" to be present; no
// further coercion is applied. The caller (the query engine) is
// responsible for silently dropping anything Parse rejects.
func Parse(b []byte) (*Msg, error) {
	val, _, err := bencode.Decode(b)
	if err != nil {
		return nil, err
	}

	top, ok := val.(map[string]any)
	if !ok {
		return nil, errors.New("krpc: top-level value is not a dict")
	}

	tRaw, ok := top["t"]
	if !ok {
		return nil, ErrMissingTransactionID
	}
	tBytes, ok := tRaw.([]byte)
	if !ok {
		return nil, errors.New("krpc: t is not a byte string")
	}

	yRaw, ok := top["y"]
	if !ok {
		return nil, ErrMissingKind
	}
	yBytes, ok := yRaw.([]byte)
	if !ok {
		return nil, ErrMissingKind
	}
	kind := Kind(yBytes)

	m := &Msg{T: string(tBytes), Y: kind}

	switch kind {
	case KindQuery:
		qRaw, ok := top["q"]
		if !ok {
			return nil, ErrMissingQueryMethod
		}
		qBytes, ok := qRaw.([]byte)
		if !ok {
			return nil, ErrMissingQueryMethod
		}
		m.Q = string(qBytes)

		aRaw, ok := top["a"]
		if !ok {
			return nil, ErrMissingArgs
		}
		aDict, ok := aRaw.(map[string]any)
		if !ok {
			return nil, ErrMissingArgs
		}
		args, err := decodeArgs(aDict)
		if err != nil {
			return nil, err
		}
		m.A = args

	case KindResponse:
		rRaw, ok := top["r"]
		if !ok {
			return nil, ErrMissingResult
		}
		rDict, ok := rRaw.(map[string]any)
		if !ok {
			return nil, ErrMissingResult
		}
		result, err := decodeResult(rDict)
		if err != nil {
			return nil, err
		}
		m.R = result

	case KindError:
		eRaw, ok := top["e"]
		if !ok {
			return nil, ErrMissingError
		}
		eList, ok := eRaw.([]any)
		if !ok || len(eList) != 2 {
			return nil, ErrMissingError
		}
		code, ok := eList[0].(int64)
		if !ok {
			return nil, ErrMissingError
		}
		reasonBytes, ok := eList[1].([]byte)
		if !ok {
			return nil, ErrMissingError
		}
		m.E = &Error{Code: code, Reason: string(reasonBytes)}

	default:
		return nil, ErrMissingKind
	}

	return m, nil
}

func decodeArgs(d map[string]any) (*Args, error) {
	a := &Args{}

	idRaw, ok := d["id"]
	if !ok {
		return nil, errors.New("krpc: args missing id")
	}
	idBytes, ok := idRaw.([]byte)
	if !ok {
		return nil, errors.New("krpc: args id is not a byte string")
	}
	id, err := idFromWire(idBytes)
	if err != nil {
		return nil, err
	}
	a.ID = id

	if ihRaw, ok := d["info_hash"]; ok {
		ihBytes, ok := ihRaw.([]byte)
		if !ok {
			return nil, errors.New("krpc: info_hash is not a byte string")
		}
		ih, err := idFromWire(ihBytes)
		if err != nil {
			return nil, err
		}
		a.InfoHash = ih
		a.HasInfoHash = true
	}

	if tgRaw, ok := d["target"]; ok {
		tgBytes, ok := tgRaw.([]byte)
		if !ok {
			return nil, errors.New("krpc: target is not a byte string")
		}
		tg, err := idFromWire(tgBytes)
		if err != nil {
			return nil, err
		}
		a.Target = tg
		a.HasTarget = true
	}

	if tokRaw, ok := d["token"]; ok {
		if tokBytes, ok := tokRaw.([]byte); ok {
			a.Token = string(tokBytes)
		}
	}

	return a, nil
}

func decodeResult(d map[string]any) (*Result, error) {
	r := &Result{}

	idRaw, ok := d["id"]
	if !ok {
		return nil, errors.New("krpc: result missing id")
	}
	idBytes, ok := idRaw.([]byte)
	if !ok {
		return nil, errors.New("krpc: result id is not a byte string")
	}
	id, err := idFromWire(idBytes)
	if err != nil {
		return nil, err
	}
	r.ID = id

	if tokRaw, ok := d["token"]; ok {
		if tokBytes, ok := tokRaw.([]byte); ok {
			r.Token = string(tokBytes)
			r.HasToken = true
		}
	}

	if nodesRaw, ok := d["nodes"]; ok {
		nodesBytes, ok := nodesRaw.([]byte)
		if !ok {
			return nil, errors.New("krpc: nodes is not a byte string")
		}
		peers, err := UnpackPeers(nodesBytes)
		if err != nil {
			return nil, err
		}
		r.Nodes = peers
		r.HasNodes = true
	}

	if valuesRaw, ok := d["values"]; ok {
		valuesList, ok := valuesRaw.([]any)
		if !ok {
			return nil, errors.New("krpc: values is not a list")
		}
		peers := make([]routing.Peer, 0, len(valuesList))
		for _, v := range valuesList {
			vb, ok := v.([]byte)
			if !ok {
				return nil, errors.New("krpc: values entry is not a byte string")
			}
			p, err := UnpackValue(vb)
			if err != nil {
				return nil, err
			}
			peers = append(peers, p)
		}
		r.Values = peers
		r.HasValues = true
	}

	return r, nil
}

func idFromWire(b []byte) (nodeid.ID, error) {
	if len(b) != nodeid.Length {
		return nodeid.ID{}, fmt.Errorf("%w: got %d", ErrBadIDLength, len(b))
	}
	return nodeid.FromBytes(b)
}
