package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, f Frame) {
	t.Helper()
	encoded := f.Encode()
	got, remaining, err := Parse(encoded)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, f, got)
}

func TestCodecRoundTrip(t *testing.T) {
	roundtrip(t, Str("OK"))
	roundtrip(t, Err("ERR boom"))
	roundtrip(t, Int(42))
	roundtrip(t, Int(-7))
	roundtrip(t, BulkStr("bar"))
	roundtrip(t, NullBulk())
	roundtrip(t, NilArray())
	roundtrip(t, Arr(BulkStr("SET"), BulkStr("foo"), BulkStr("bar")))
	roundtrip(t, Arr())
}

func TestEncodeEmptyBulkIsNull(t *testing.T) {
	f := Bulk([]byte{})
	assert.Equal(t, []byte("$-1\r\n"), f.Encode())
}

func TestLenMatchesEncodeLength(t *testing.T) {
	frames := []Frame{
		Str("PONG"),
		Int(123456789),
		BulkStr("hello world"),
		Arr(BulkStr("SET"), BulkStr("x"), BulkStr("1")),
		NullBulk(),
	}
	for _, f := range frames {
		assert.Equal(t, len(f.Encode()), f.Len())
	}
}

func TestParseIncompleteThenComplete(t *testing.T) {
	full := Arr(BulkStr("PING")).Encode()

	for i := 1; i < len(full); i++ {
		_, _, err := Parse(full[:i])
		assert.ErrorIs(t, err, ErrIncomplete, "prefix length %d", i)
	}

	f, remaining, err := Parse(full)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, Arr(BulkStr("PING")), f)
}

func TestStreamingSafetyByteAtATime(t *testing.T) {
	var wire []byte
	want := []Frame{
		Arr(BulkStr("SET"), BulkStr("foo"), BulkStr("bar")),
		Arr(BulkStr("GET"), BulkStr("foo")),
		Str("PONG"),
	}
	for _, f := range want {
		wire = append(wire, f.Encode()...)
	}

	var got []Frame
	buf := make([]byte, 0, len(wire))
	for _, b := range wire {
		buf = append(buf, b)
		f, remaining, err := Parse(buf)
		if err == ErrIncomplete {
			continue
		}
		require.NoError(t, err)
		got = append(got, f)
		buf = append([]byte{}, remaining...)
	}

	assert.Equal(t, want, got)
}

func TestMalformedUnknownTag(t *testing.T) {
	_, _, err := Parse([]byte("@nope\r\n"))
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestMalformedBulkLength(t *testing.T) {
	_, _, err := Parse([]byte("$abc\r\n"))
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestParseRawBulkNoTrailingCRLF(t *testing.T) {
	payload := []byte("REDIS0011fake-rdb-bytes")
	encoded := EncodeRawBulk(payload)
	// Must be exactly the header + payload, no trailing CRLF.
	assert.Equal(t, "$"+itoa(len(payload))+"\r\n"+string(payload), string(encoded))

	got, remaining, err := ParseRawBulk(encoded)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, payload, got)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

func TestCommandFromFrame(t *testing.T) {
	cmd, err := CommandFromFrame(Arr(BulkStr("set"), BulkStr("foo"), BulkStr("bar")))
	require.NoError(t, err)
	assert.Equal(t, "SET", cmd.Name)
	assert.Equal(t, [][]byte{[]byte("foo"), []byte("bar")}, cmd.Args)
}

func TestIsWriteAndReplicaAccountable(t *testing.T) {
	assert.True(t, IsWriteAccountable("SET"))
	assert.True(t, IsWriteAccountable("DEL"))
	assert.False(t, IsWriteAccountable("GET"))

	assert.True(t, IsReplicaAccountable("SET"))
	assert.True(t, IsReplicaAccountable("PING"))
	assert.True(t, IsReplicaAccountable("REPLCONF"))
	assert.False(t, IsReplicaAccountable("DEL"))
}
