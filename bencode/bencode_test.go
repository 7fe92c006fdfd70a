package bencode

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLiteralTorrentInfo(t *testing.T) {
	v := Dict{
		"info": Dict{
			"length":       int64(1024),
			"name":         "example.txt",
			"piece length": int64(16384),
		},
	}
	b, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, "d4:infod6:lengthi1024e4:name11:example.txt12:piece lengthi16384eee", string(b))
}

func TestEncodeSortsKeysRegardlessOfInsertionOrder(t *testing.T) {
	a := Dict{"z": int64(1), "a": int64(2), "m": int64(3)}
	b := Dict{"m": int64(3), "a": int64(2), "z": int64(1)}

	encA, err := Encode(a)
	require.NoError(t, err)
	encB, err := Encode(b)
	require.NoError(t, err)

	assert.Equal(t, encA, encB)
	assert.Equal(t, "d1:ai2e1:mi3e1:zi1ee", string(encA))
}

func TestEncodeRejectsOversizedInteger(t *testing.T) {
	huge := new(big.Int).Exp(big.NewInt(10), big.NewInt(200), nil)
	_, err := Encode(huge)
	assert.Error(t, err)
}

func TestRoundTripScalarsAndContainers(t *testing.T) {
	cases := []any{
		int64(0),
		int64(-1),
		int64(1000000),
		int64(-1000000),
		"",
		"hello world",
		[]any{int64(1), "two", []any{int64(3)}},
		Dict{"a": int64(1), "b": []any{"x", "y"}},
	}

	for _, v := range cases {
		enc, err := Encode(v)
		require.NoError(t, err)

		decoded, n, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, len(enc), n)

		reenc, err := Encode(normalize(decoded))
		require.NoError(t, err)
		assert.Equal(t, enc, reenc)
	}
}

// normalize rewrites map[string]any (what Decode returns for dicts) back
// into Dict so re-encoding is directly comparable.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		d := Dict{}
		for k, val := range t {
			d[k] = normalize(val)
		}
		return d
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []byte:
		return string(t)
	default:
		return v
	}
}

func TestDecodeLeavesTrailingBytesUnread(t *testing.T) {
	v, n, err := Decode([]byte("i42eTRAILING"))
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
	assert.Equal(t, 4, n)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := map[string][]byte{
		"empty":                  {},
		"leading zero int":       []byte("i03e"),
		"negative zero":          []byte("i-0e"),
		"missing int terminator": []byte("i42"),
		"string leading zero len": []byte("03:abc"),
		"negative string length": []byte("-1:a"),
		"truncated string":       []byte("5:ab"),
		"list missing terminator": []byte("l4:spam"),
		"dict missing terminator": []byte("d3:cow3:moo"),
		"dict key not a string":   []byte("di1ei2ee"),
		"invalid leading byte":    []byte("x"),
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(input)
			require.Error(t, err)
			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
		})
	}
}

func TestEncodeAcceptsStringKeyedMap(t *testing.T) {
	_, err := Encode(map[string]any{"ok": int64(1)})
	require.NoError(t, err)
}
