package dstc

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeNamedInvocation(t *testing.T) {
	buf := NewPayloadBuffer(128)
	args := []byte{1, 2, 3, 4}
	if err := encodeNamed(buf, 42, "foo", args); err != nil {
		t.Fatalf("encodeNamed: %v", err)
	}

	rec, consumed, ok := parseRecord(buf.Bytes())
	if !ok {
		t.Fatal("expected parseRecord to succeed")
	}
	if consumed != buf.InUse() {
		t.Fatalf("consumed = %d, want %d", consumed, buf.InUse())
	}
	if rec.caller != 42 || rec.name != "foo" || !bytes.Equal(rec.args, args) {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestEncodeDecodeCallbackInvocation(t *testing.T) {
	buf := NewPayloadBuffer(128)
	args := []byte{9, 9}
	if err := encodeCallback(buf, 7, CallbackRef(1234), args); err != nil {
		t.Fatalf("encodeCallback: %v", err)
	}

	rec, _, ok := parseRecord(buf.Bytes())
	if !ok {
		t.Fatal("expected parseRecord to succeed")
	}
	if rec.caller != 7 || rec.name != "" || rec.ref != 1234 || !bytes.Equal(rec.args, args) {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestParseRecordBundlesMultipleInvocations(t *testing.T) {
	buf := NewPayloadBuffer(256)
	encodeNamed(buf, 1, "a", []byte{1})
	encodeNamed(buf, 1, "b", []byte{2, 3})

	data := buf.Bytes()
	var names []string
	for len(data) > 0 {
		rec, consumed, ok := parseRecord(data)
		if !ok {
			t.Fatalf("unexpected truncation, remaining=%d", len(data))
		}
		names = append(names, rec.name)
		data = data[consumed:]
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}

func TestParseRecordTruncatedHeader(t *testing.T) {
	_, consumed, ok := parseRecord([]byte{1, 2, 3})
	if ok {
		t.Fatal("expected truncation for a too-short header")
	}
	if consumed != 3 {
		t.Fatalf("consumed = %d, want 3 (whole input)", consumed)
	}
}

func TestParseRecordTruncatedPayload(t *testing.T) {
	b := make([]byte, headerSize)
	putHeader(b, 1, 100) // claims 100 bytes of payload that aren't there
	_, consumed, ok := parseRecord(b)
	if ok {
		t.Fatal("expected truncation when declared payload exceeds input")
	}
	if consumed != len(b) {
		t.Fatalf("consumed = %d, want %d", consumed, len(b))
	}
}

func TestEncodeNamedReturnsBusyWhenBufferFull(t *testing.T) {
	buf := NewPayloadBuffer(headerSize) // room for a header, nothing else
	if err := encodeNamed(buf, 1, "foo", nil); err != ErrBusy {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}
