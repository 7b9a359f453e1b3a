package rdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"redis/internal/storage"
)

func encodeLength(n uint32) []byte {
	if n < 64 {
		return []byte{byte(n)}
	}
	buf := make([]byte, 5)
	buf[0] = 0x80
	binary.BigEndian.PutUint32(buf[1:], n)
	return buf[:5]
}

func encodeString(s string) []byte {
	out := encodeLength(uint32(len(s)))
	return append(out, []byte(s)...)
}

func TestLoadEmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opEOF)

	ks := storage.NewKeyspace()
	if err := Load(bufio.NewReader(&buf), ks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ks.Keys()) != 0 {
		t.Fatalf("expected empty keyspace")
	}
}

func TestLoadStringKeyWithExpiry(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opSelectDB)
	buf.Write(encodeLength(0))

	buf.WriteByte(opExpireTimeMs)
	binary.Write(&buf, binary.LittleEndian, uint64(1234567890123))

	buf.WriteByte(typeString)
	buf.Write(encodeString("foo"))
	buf.Write(encodeString("bar"))

	buf.WriteByte(opEOF)

	ks := storage.NewKeyspace()
	if err := Load(bufio.NewReader(&buf), ks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := ks.Get("foo")
	if !ok || string(v.Str) != "bar" {
		t.Fatalf("expected foo=bar, got %v ok=%v", v, ok)
	}
}

func TestLoadAuxFieldsAreSkipped(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opAux)
	buf.Write(encodeString("redis-ver"))
	buf.Write(encodeString("7.0.0"))
	buf.WriteByte(typeString)
	buf.Write(encodeString("k"))
	buf.Write(encodeString("v"))
	buf.WriteByte(opEOF)

	ks := storage.NewKeyspace()
	if err := Load(bufio.NewReader(&buf), ks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ks.Get("k"); !ok {
		t.Fatalf("expected k to be loaded after aux fields")
	}
}

func TestLoadFileMissingIsNonFatal(t *testing.T) {
	ks := storage.NewKeyspace()
	if err := LoadFile("/nonexistent/dir/dump.rdb", ks); err != nil {
		t.Fatalf("missing file must be non-fatal, got %v", err)
	}
}
