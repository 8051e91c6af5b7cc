package dstc

import "errors"

// Error kinds returned across the public API. See spec §7: busy is
// transient back-pressure, invalid is a caller programming error,
// already-initialized guards double setup. Setup aborts the process
// through the Logger's Fatal path when it cannot create the readiness
// facility or a transport side (including registering that side's
// sockets). Symbol-table overflow does not abort: it is returned as
// ErrSymbolTableFull to the caller that tried to register.
var (
	// ErrBusy means the Payload Buffer could not fit the requested
	// record. The caller must drive the event loop and retry.
	ErrBusy = errors.New("dstc: busy")

	// ErrInvalid means neither a function name nor a callback
	// reference was supplied to an enqueue operation.
	ErrInvalid = errors.New("dstc: invalid argument")

	// ErrAlreadyInitialized is returned by Setup when the engine
	// context already exists.
	ErrAlreadyInitialized = errors.New("dstc: already initialized")

	// ErrSymbolTableFull means a registry reached its compile-time
	// symbol limit; the registration is refused and the process keeps
	// running.
	ErrSymbolTableFull = errors.New("dstc: symbol table full")

	// ErrNameTooLong rejects names beyond the symbol length limit.
	ErrNameTooLong = errors.New("dstc: name exceeds symbol limit")

	// ErrUnknownCallback is returned by CancelCallback for a reference
	// that is not currently armed.
	ErrUnknownCallback = errors.New("dstc: unknown callback reference")

	// ErrTruncated marks an inbound record shorter than its header
	// declares; logged, never surfaced to engine callers.
	ErrTruncated = errors.New("dstc: truncated record")
)
