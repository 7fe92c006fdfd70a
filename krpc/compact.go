package krpc

import (
	"encoding/binary"
	"errors"
	"net"

	"dhtcore/nodeid"
	"dhtcore/routing"
)

// nodeRecordSize is the compact node encoding: 20-octet ID, 4-octet
// big-endian IPv4, 2-octet big-endian port.
const nodeRecordSize = nodeid.Length + 4 + 2

// valueRecordSize is the compact peer-value encoding used in "values":
// 4-octet big-endian IPv4, 2-octet big-endian port.
const valueRecordSize = 4 + 2

var (
	ErrBadIPv4        = errors.New("krpc: not a valid IPv4 address")
	ErrBadPort        = errors.New("krpc: port must be in 1..65535")
	ErrTruncatedNodes = errors.New("krpc: compact nodes length is not a multiple of 26")
	ErrTruncatedValue = errors.New("krpc: compact value is not 6 octets")
)

// PackPeers encodes a sequence of peers into 26-octet compact node
// records.
func PackPeers(peers []routing.Peer) ([]byte, error) {
	out := make([]byte, 0, len(peers)*nodeRecordSize)
	for _, p := range peers {
		rec, err := packNode(p)
		if err != nil {
			continue // a malformed peer already in the table is skipped, not fatal to the whole batch
		}
		out = append(out, rec...)
	}
	return out, nil
}

func packNode(p routing.Peer) ([]byte, error) {
	ip4 := p.IP.To4()
	if ip4 == nil {
		return nil, ErrBadIPv4
	}
	if p.Port < 1 || p.Port > 65535 {
		return nil, ErrBadPort
	}

	rec := make([]byte, nodeRecordSize)
	copy(rec[0:nodeid.Length], p.ID.Bytes())
	copy(rec[nodeid.Length:nodeid.Length+4], ip4)
	binary.BigEndian.PutUint16(rec[nodeid.Length+4:], uint16(p.Port))
	return rec, nil
}

// UnpackPeers decodes a sequence of 26-octet compact node records. It
// rejects any input whose length is not a multiple of 26.
func UnpackPeers(b []byte) ([]routing.Peer, error) {
	if len(b)%nodeRecordSize != 0 {
		return nil, ErrTruncatedNodes
	}

	out := make([]routing.Peer, 0, len(b)/nodeRecordSize)
	for i := 0; i < len(b); i += nodeRecordSize {
		rec := b[i : i+nodeRecordSize]

		id, err := nodeid.FromBytes(rec[0:nodeid.Length])
		if err != nil {
			return nil, err
		}

		ip := make(net.IP, 4)
		copy(ip, rec[nodeid.Length:nodeid.Length+4])

		port := binary.BigEndian.Uint16(rec[nodeid.Length+4:])

		out = append(out, routing.Peer{ID: id, IP: ip, Port: int(port)})
	}
	return out, nil
}

// PackValue encodes a single peer as a 6-octet IPv4+port blob (the
// "values" compact peer encoding — no ID field).
func PackValue(p routing.Peer) ([]byte, error) {
	ip4 := p.IP.To4()
	if ip4 == nil {
		return nil, ErrBadIPv4
	}
	if p.Port < 1 || p.Port > 65535 {
		return nil, ErrBadPort
	}

	rec := make([]byte, valueRecordSize)
	copy(rec[0:4], ip4)
	binary.BigEndian.PutUint16(rec[4:], uint16(p.Port))
	return rec, nil
}

// UnpackValue decodes a single 6-octet IPv4+port blob. The returned
// Peer's ID is zero: "values" entries carry no identifier.
func UnpackValue(b []byte) (routing.Peer, error) {
	if len(b) != valueRecordSize {
		return routing.Peer{}, ErrTruncatedValue
	}

	ip := make(net.IP, 4)
	copy(ip, b[0:4])
	port := binary.BigEndian.Uint16(b[4:])

	return routing.Peer{IP: ip, Port: int(port)}, nil
}
