// Package bencode implements the length-tagged recursive encoding used by
// every message on the wire: signed integers, opaque byte strings, ordered
// sequences, and sorted key-value maps with byte-string keys.
//
// This is the standardized BitTorrent wire grammar:
//
//	integer   i<decimal>e
//	string    <length>:<octets>
//	list      l<elem>...e
//	dict      d<key><val>...e   (keys are byte strings, sorted ascending)
package bencode

import (
	"fmt"
	"math/big"
	"sort"
)

// maxDepth bounds recursion on both encode and decode so adversarial
// nesting cannot exhaust the stack.
const maxDepth = 1000

// maxIntMagnitude is a DoS guard: integers whose magnitude exceeds
// 10^100 are rejected by the encoder.
var maxIntMagnitude = new(big.Int).Exp(big.NewInt(10), big.NewInt(100), nil)

// Dict is an unordered set of key/value pairs with byte-string keys.
// Encode sorts it by key, so callers may build one however is
// convenient; message constructors in package krpc use it to build
// dictionaries.
type Dict map[string]any

// DecodeError reports a malformed-input failure together with the byte
// offset at which it was detected.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: %s (at offset %d)", e.Msg, e.Offset)
}

func newDecodeError(offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Encode serializes v, which must be built from int64 (or *big.Int),
// string/[]byte, []any, and Dict/map[string]any values, recursively.
//
// Map entries are always emitted in ascending lexicographic key order,
// regardless of insertion order, so two maps equal as sets of pairs
// produce identical output.
func Encode(v any) ([]byte, error) {
	var buf []byte
	out, err := encodeValue(buf, v, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeValue(buf []byte, v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("bencode: encode: recursion depth exceeds %d", maxDepth)
	}

	switch t := v.(type) {
	case int:
		return encodeInt(buf, big.NewInt(int64(t)))
	case int64:
		return encodeInt(buf, big.NewInt(t))
	case *big.Int:
		return encodeInt(buf, t)
	case string:
		return encodeString(buf, []byte(t)), nil
	case []byte:
		return encodeString(buf, t), nil
	case []any:
		return encodeList(buf, t, depth)
	case Dict:
		return encodeDict(buf, map[string]any(t), depth)
	case map[string]any:
		return encodeDict(buf, t, depth)
	default:
		return nil, fmt.Errorf("bencode: encode: unsupported type %T", v)
	}
}

func encodeInt(buf []byte, n *big.Int) ([]byte, error) {
	abs := new(big.Int).Abs(n)
	if abs.Cmp(maxIntMagnitude) > 0 {
		return nil, fmt.Errorf("bencode: encode: integer magnitude exceeds 10^100")
	}
	buf = append(buf, 'i')
	buf = append(buf, n.String()...)
	buf = append(buf, 'e')
	return buf, nil
}

func encodeString(buf []byte, s []byte) []byte {
	buf = appendInt(buf, len(s))
	buf = append(buf, ':')
	buf = append(buf, s...)
	return buf
}

func encodeList(buf []byte, items []any, depth int) ([]byte, error) {
	buf = append(buf, 'l')
	for _, item := range items {
		var err error
		buf, err = encodeValue(buf, item, depth+1)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, 'e')
	return buf, nil
}

func encodeDict(buf []byte, m map[string]any, depth int) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, 'd')
	for _, k := range keys {
		buf = encodeString(buf, []byte(k))
		var err error
		buf, err = encodeValue(buf, m[k], depth+1)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, 'e')
	return buf, nil
}

func appendInt(buf []byte, n int) []byte {
	return append(buf, fmt.Sprintf("%d", n)...)
}

// Decode parses the single value at the start of b and returns it along
// with the number of bytes consumed. Trailing bytes (if any) are left
// unread: callers that expect exactly one top-level value per datagram
// simply ignore the rest.
//
// Decoded integers are returned as int64 when they fit, otherwise as
// *big.Int. Strings are returned as []byte. Lists are []any. Dicts are
// map[string]any with []byte keys as Go strings.
func Decode(b []byte) (value any, n int, err error) {
	if len(b) == 0 {
		return nil, 0, newDecodeError(0, "empty input")
	}
	return decodeValue(b, 0, 0)
}

func decodeValue(b []byte, offset int, depth int) (any, int, error) {
	if depth > maxDepth {
		return nil, 0, newDecodeError(offset, "recursion depth exceeds %d", maxDepth)
	}
	if offset >= len(b) {
		return nil, 0, newDecodeError(offset, "unexpected end of input")
	}

	switch c := b[offset]; {
	case c == 'i':
		return decodeInt(b, offset)
	case c == 'l':
		return decodeList(b, offset, depth)
	case c == 'd':
		return decodeDict(b, offset, depth)
	case c >= '0' && c <= '9':
		return decodeString(b, offset)
	default:
		return nil, 0, newDecodeError(offset, "invalid leading byte %q", c)
	}
}

// decodeInt parses i<decimal>e starting at offset (the 'i'). Leading
// zeros other than "0" itself, "-0", and a missing terminator are all
// rejected.
func decodeInt(b []byte, offset int) (any, int, error) {
	start := offset
	i := offset + 1 // skip 'i'

	end := indexByte(b, 'e', i)
	if end < 0 {
		return nil, 0, newDecodeError(start, "integer missing terminator")
	}

	digits := b[i:end]
	if len(digits) == 0 {
		return nil, 0, newDecodeError(start, "integer has no digits")
	}

	neg := false
	if digits[0] == '-' {
		neg = true
		digits = digits[1:]
		if len(digits) == 0 {
			return nil, 0, newDecodeError(start, "integer has no digits after '-'")
		}
	}

	if digits[0] == '0' && len(digits) > 1 {
		return nil, 0, newDecodeError(start, "integer has leading zero")
	}
	if neg && digits[0] == '0' {
		return nil, 0, newDecodeError(start, "negative zero is not allowed")
	}

	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, 0, newDecodeError(start, "integer contains non-digit byte %q", c)
		}
	}

	n := new(big.Int)
	if _, ok := n.SetString(string(digits), 10); !ok {
		return nil, 0, newDecodeError(start, "malformed integer literal")
	}
	if neg {
		n.Neg(n)
	}

	if n.IsInt64() {
		return n.Int64(), end + 1 - start, nil
	}
	return n, end + 1 - start, nil
}

// decodeString parses <length>:<octets> starting at offset (the first
// length digit).
func decodeString(b []byte, offset int) (any, int, error) {
	start := offset
	colon := indexByte(b, ':', offset)
	if colon < 0 {
		return nil, 0, newDecodeError(start, "byte string missing ':'")
	}

	lenDigits := b[offset:colon]
	if len(lenDigits) == 0 {
		return nil, 0, newDecodeError(start, "byte string length is empty")
	}
	if lenDigits[0] == '0' && len(lenDigits) > 1 {
		return nil, 0, newDecodeError(start, "byte string length has leading zero")
	}
	for _, c := range lenDigits {
		if c < '0' || c > '9' {
			return nil, 0, newDecodeError(start, "byte string length contains non-digit byte %q", c)
		}
	}

	length := new(big.Int)
	if _, ok := length.SetString(string(lenDigits), 10); !ok {
		return nil, 0, newDecodeError(start, "malformed byte string length")
	}
	if !length.IsInt64() || length.Sign() < 0 {
		return nil, 0, newDecodeError(start, "byte string length out of range")
	}

	l := int(length.Int64())
	payloadStart := colon + 1
	payloadEnd := payloadStart + l
	if payloadEnd < payloadStart || payloadEnd > len(b) {
		return nil, 0, newDecodeError(start, "byte string payload truncated")
	}

	s := make([]byte, l)
	copy(s, b[payloadStart:payloadEnd])
	return s, payloadEnd - start, nil
}

func decodeList(b []byte, offset int, depth int) (any, int, error) {
	start := offset
	i := offset + 1 // skip 'l'

	items := make([]any, 0)
	for {
		if i >= len(b) {
			return nil, 0, newDecodeError(start, "list missing terminator")
		}
		if b[i] == 'e' {
			i++
			return items, i - start, nil
		}
		v, n, err := decodeValue(b, i, depth+1)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
		i += n
	}
}

func decodeDict(b []byte, offset int, depth int) (any, int, error) {
	start := offset
	i := offset + 1 // skip 'd'

	m := make(map[string]any)
	for {
		if i >= len(b) {
			return nil, 0, newDecodeError(start, "dict missing terminator")
		}
		if b[i] == 'e' {
			i++
			return m, i - start, nil
		}

		if b[i] < '0' || b[i] > '9' {
			return nil, 0, newDecodeError(i, "dict key must be a byte string")
		}
		keyVal, n, err := decodeString(b, i)
		if err != nil {
			return nil, 0, err
		}
		key := string(keyVal.([]byte))
		i += n

		v, n2, err := decodeValue(b, i, depth+1)
		if err != nil {
			return nil, 0, err
		}
		m[key] = v
		i += n2
	}
}

func indexByte(b []byte, c byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}
