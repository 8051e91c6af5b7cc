package dstc

import "encoding/binary"

// headerSize is sizeof(header) in spec §6's wire table: 4 bytes
// caller node id + 4 bytes payload length, both little-endian.
const headerSize = 8

// callbackIDLen is the fixed id_len for a callback invocation: 1
// discriminator byte (always zero) + 8 bytes of reference (spec
// §4.4).
const callbackIDLen = 9

func putHeader(b []byte, caller NodeID, payloadLen uint32) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(caller))
	binary.LittleEndian.PutUint32(b[4:8], payloadLen)
}

func getHeader(b []byte) (caller NodeID, payloadLen uint32) {
	caller = NodeID(binary.LittleEndian.Uint32(b[0:4]))
	payloadLen = binary.LittleEndian.Uint32(b[4:8])
	return
}

// encodeNamed frames a named invocation record into buf. Spec §4.4:
// allocates sizeof(header)+id_len+args_len, id_len = len(name)+1.
func encodeNamed(buf *PayloadBuffer, caller NodeID, name string, args []byte) error {
	idLen := len(name) + 1
	payloadLen := idLen + len(args)
	region := buf.Alloc(headerSize + payloadLen)
	if region == nil {
		return ErrBusy
	}
	putHeader(region, caller, uint32(payloadLen))
	p := region[headerSize:]
	copy(p, name)
	p[len(name)] = 0
	copy(p[idLen:], args)
	return nil
}

// encodeCallback frames a callback invocation record into buf. Spec
// §4.4: a zero discriminator byte, 8 bytes little-endian reference,
// then opaque args.
func encodeCallback(buf *PayloadBuffer, caller NodeID, ref CallbackRef, args []byte) error {
	payloadLen := callbackIDLen + len(args)
	region := buf.Alloc(headerSize + payloadLen)
	if region == nil {
		return ErrBusy
	}
	putHeader(region, caller, uint32(payloadLen))
	p := region[headerSize:]
	p[0] = 0
	binary.LittleEndian.PutUint64(p[1:9], uint64(ref))
	copy(p[callbackIDLen:], args)
	return nil
}

// decodedRecord is one framed invocation, parsed but not yet
// dispatched.
type decodedRecord struct {
	caller NodeID
	name   string // empty for callback invocations
	ref    CallbackRef
	args   []byte
}

// parseRecord parses exactly one invocation record from the front of
// data. It returns the number of bytes consumed and, on truncation,
// ok=false — the caller must treat the whole input as consumed
// (spec §4.4: "never spin on a malformed buffer").
func parseRecord(data []byte) (rec decodedRecord, consumed int, ok bool) {
	if len(data) < headerSize {
		return decodedRecord{}, len(data), false
	}
	caller, payloadLen := getHeader(data)
	if uint32(len(data)-headerSize) < payloadLen {
		return decodedRecord{}, len(data), false
	}
	payload := data[headerSize : headerSize+int(payloadLen)]
	consumed = headerSize + int(payloadLen)

	if len(payload) == 0 {
		// Defensive: an empty payload has neither a name nor a
		// callback discriminator. Treat as truncated.
		return decodedRecord{}, consumed, false
	}

	if payload[0] != 0 {
		// Named invocation: NUL-terminated name, then args.
		nul := -1
		for i, b := range payload {
			if b == 0 {
				nul = i
				break
			}
		}
		if nul < 0 {
			return decodedRecord{}, consumed, false
		}
		return decodedRecord{
			caller: caller,
			name:   string(payload[:nul]),
			args:   payload[nul+1:],
		}, consumed, true
	}

	// Callback invocation: zero byte, 8-byte reference, then args.
	if len(payload) < callbackIDLen {
		return decodedRecord{}, consumed, false
	}
	ref := CallbackRef(binary.LittleEndian.Uint64(payload[1:9]))
	return decodedRecord{
		caller: caller,
		ref:    ref,
		args:   payload[callbackIDLen:],
	}, consumed, true
}
