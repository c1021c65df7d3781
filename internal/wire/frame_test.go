package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeRequest(args ...string) []byte {
	buf := make([]byte, 0, 64)
	buf = appendU32(buf, uint32(len(args)))
	for _, a := range args {
		buf = appendU32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}
	return buf
}

func TestTryParseComplete(t *testing.T) {
	encoded := encodeRequest("set", "name", "Tuan")
	res := TryParse(encoded, len(encoded))

	require.Equal(t, StatusComplete, res.Status)
	require.Equal(t, len(encoded), res.Consumed)
	require.Equal(t, [][]byte{[]byte("SET"), []byte("name"), []byte("Tuan")}, res.Args)
}

func TestTryParseRoundTrip(t *testing.T) {
	// P4: for every well-formed encoded request, TryParse returns
	// Complete(args, n) where n equals the encoded length and args
	// equals the input (modulo command-name normalization).
	cases := [][]string{
		{"PING"},
		{"ECHO", "hello world"},
		{"ZADD", "myzset", "100", "UserA"},
		{},
	}
	for _, args := range cases {
		encoded := encodeRequest(args...)
		res := TryParse(encoded, len(encoded))
		require.Equal(t, StatusComplete, res.Status)
		require.Equal(t, len(encoded), res.Consumed)
		require.Len(t, res.Args, len(args))
		for i, a := range args {
			if i == 0 {
				continue // command name normalization is expected
			}
			require.Equal(t, a, string(res.Args[i]))
		}
	}
}

func TestTryParseIncompletePrefixes(t *testing.T) {
	// P5: splitting the encoded byte stream at any earlier prefix
	// yields Incomplete with consumed == 0.
	encoded := encodeRequest("ECHO", "hello world")
	for prefix := 0; prefix < len(encoded); prefix++ {
		res := TryParse(encoded, prefix)
		require.Equal(t, StatusIncomplete, res.Status, "prefix length %d", prefix)
		require.Equal(t, 0, res.Consumed)
	}
}

func TestTryParseArgCountCapExceeded(t *testing.T) {
	buf := appendU32(nil, 2000)

	res := TryParse(buf, len(buf))
	require.Equal(t, StatusProtocolError, res.Status)
	require.Error(t, res.Err)
}

func TestTryParseCommandNameUppercased(t *testing.T) {
	encoded := encodeRequest("get", "key")
	res := TryParse(encoded, len(encoded))
	require.Equal(t, StatusComplete, res.Status)
	require.Equal(t, "GET", string(res.Args[0]))
}

func TestAppendResponses(t *testing.T) {
	var buf []byte
	buf = AppendNil(buf)
	require.Equal(t, []byte{TypeNil}, buf)

	buf = buf[:0]
	buf = AppendString(buf, "Tuan")
	require.Equal(t, byte(TypeString), buf[0])

	buf = buf[:0]
	buf = AppendInteger(buf, -2)
	require.Equal(t, byte(TypeInteger), buf[0])

	buf = buf[:0]
	buf = AppendArrayHeader(buf, 3)
	buf = AppendString(buf, "a")
	buf = AppendString(buf, "b")
	buf = AppendString(buf, "c")
	require.Equal(t, byte(TypeArray), buf[0])
}
