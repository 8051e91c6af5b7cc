package dstc

import "fmt"

// MaxSymbolLength bounds a registered function name, matching the
// original's NUL-terminated ASCII symbol limit (spec §3: "≤
// some symbol-limit, e.g. 64").
const MaxSymbolLength = 64

// MaxSymbols bounds each registry. Exceeding it at registration time
// is a fatal configuration error (spec §4.2).
const MaxSymbols = 512

// NodeID is a process-wide identifier for a peer in the multicast
// group (spec §3).
type NodeID uint32

// CallbackRef is an opaque 64-bit token identifying a one-shot
// continuation at the originating peer (spec §3). dstc-go never
// aliases a function pointer into this value (spec §9 Design Notes
// flags that as an aliasing hazard); references are minted from a
// monotonic counter salted per process (see newCallbackRegistry and
// newCallbackSalt).
type CallbackRef uint64

// Dispatch is invoked for both named and callback invocations. ref is
// zero for named invocations; name is empty for callback invocations
// (spec §4.4).
type Dispatch func(ref CallbackRef, caller NodeID, name string, args []byte)

// StubHandle identifies a registered client-function stub for
// identity comparison only (spec §3: local client function record).
type StubHandle struct {
	name string
}

func validateName(name string) error {
	if len(name) == 0 {
		return ErrInvalid
	}
	// +1 for the NUL terminator carried on the wire.
	if len(name)+1 > MaxSymbolLength {
		return ErrNameTooLong
	}
	return nil
}

// serverFunctionRegistry is the local server-function table: name ->
// dispatch. Populated at startup, never removed for the engine's
// lifetime, searched linearly (spec §4.2: small, startup-populated,
// linear search is acceptable).
type serverFunctionRegistry struct {
	names   []string
	dispatch []Dispatch
}

func newServerFunctionRegistry() *serverFunctionRegistry {
	return &serverFunctionRegistry{}
}

func (r *serverFunctionRegistry) register(name string, d Dispatch) error {
	if err := validateName(name); err != nil {
		return err
	}
	if len(r.names) >= MaxSymbols {
		return ErrSymbolTableFull
	}
	for _, n := range r.names {
		if n == name {
			return fmt.Errorf("dstc: server function %q already registered", name)
		}
	}
	r.names = append(r.names, name)
	r.dispatch = append(r.dispatch, d)
	return nil
}

func (r *serverFunctionRegistry) find(name string) Dispatch {
	for i, n := range r.names {
		if n == name {
			return r.dispatch[i]
		}
	}
	return nil
}

// all returns a snapshot of registered names, used by the Control
// Protocol Handler to advertise on subscription-complete (spec §4.7).
func (r *serverFunctionRegistry) all() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *serverFunctionRegistry) count() int {
	return len(r.names)
}

// clientFunctionRegistry is the local client-function identity table:
// name <-> opaque stub handle, used only to answer
// remote_function_available(stub) (spec §3/§4.3).
type clientFunctionRegistry struct {
	names   []string
	handles []*StubHandle
}

func newClientFunctionRegistry() *clientFunctionRegistry {
	return &clientFunctionRegistry{}
}

func (r *clientFunctionRegistry) register(name string) (*StubHandle, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(r.names) >= MaxSymbols {
		return nil, ErrSymbolTableFull
	}
	for i, n := range r.names {
		if n == name {
			return r.handles[i], nil
		}
	}
	h := &StubHandle{name: name}
	r.names = append(r.names, name)
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *clientFunctionRegistry) nameOf(h *StubHandle) (string, bool) {
	if h == nil {
		return "", false
	}
	for i, handle := range r.handles {
		if handle == h {
			return r.names[i], true
		}
	}
	return "", false
}

func (r *clientFunctionRegistry) count() int {
	return len(r.names)
}

// callbackSlot is one entry of the pending-callback arena.
type callbackSlot struct {
	ref      CallbackRef
	dispatch Dispatch
	used     bool
}

// callbackRegistry is the pending one-shot callback table. Slot reuse
// (spec §3/§4.2): activate prefers the lowest-index empty slot over
// extending, so the table stays compact. Lookup is by reference only
// (findByReference), which clears the slot on hit (one-shot
// semantics); there is no lookup by dispatch.
type callbackRegistry struct {
	slots []callbackSlot
	next  uint64 // monotonic counter, salted at construction
}

func newCallbackRegistry(salt uint64) *callbackRegistry {
	return &callbackRegistry{next: salt}
}

// mint allocates a fresh, never-reused-until-wraparound reference.
func (r *callbackRegistry) mint() CallbackRef {
	r.next++
	return CallbackRef(r.next)
}

// activate arms a callback under an already-minted reference,
// reusing the lowest empty slot.
func (r *callbackRegistry) activate(ref CallbackRef, d Dispatch) error {
	for i := range r.slots {
		if !r.slots[i].used {
			r.slots[i] = callbackSlot{ref: ref, dispatch: d, used: true}
			return nil
		}
	}
	if len(r.slots) >= MaxSymbols {
		return ErrSymbolTableFull
	}
	r.slots = append(r.slots, callbackSlot{ref: ref, dispatch: d, used: true})
	return nil
}

// findByReference clears the slot on hit (one-shot).
func (r *callbackRegistry) findByReference(ref CallbackRef) Dispatch {
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].ref == ref {
			d := r.slots[i].dispatch
			r.slots[i] = callbackSlot{}
			return d
		}
	}
	return nil
}

// cancel releases a slot without firing it. Returns false if the
// reference was not armed.
func (r *callbackRegistry) cancel(ref CallbackRef) bool {
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].ref == ref {
			r.slots[i] = callbackSlot{}
			return true
		}
	}
	return false
}

func (r *callbackRegistry) count() int {
	n := 0
	for _, s := range r.slots {
		if s.used {
			n++
		}
	}
	return n
}
