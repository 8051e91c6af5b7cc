package dstc

import "testing"

func TestServerFunctionRegistryRegisterAndFind(t *testing.T) {
	r := newServerFunctionRegistry()
	called := false
	if err := r.register("foo", func(ref CallbackRef, caller NodeID, name string, args []byte) {
		called = true
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := r.find("foo")
	if d == nil {
		t.Fatal("expected to find registered function")
	}
	d(0, 0, "foo", nil)
	if !called {
		t.Fatal("dispatch was not invoked")
	}
	if r.find("bar") != nil {
		t.Fatal("expected nil for unregistered name")
	}
}

func TestServerFunctionRegistryRejectsDuplicate(t *testing.T) {
	r := newServerFunctionRegistry()
	noop := func(CallbackRef, NodeID, string, []byte) {}
	if err := r.register("foo", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.register("foo", noop); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestServerFunctionRegistryRejectsEmptyName(t *testing.T) {
	r := newServerFunctionRegistry()
	if err := r.register("", func(CallbackRef, NodeID, string, []byte) {}); err != ErrInvalid {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestServerFunctionRegistryRejectsOverlongName(t *testing.T) {
	r := newServerFunctionRegistry()
	long := make([]byte, MaxSymbolLength)
	for i := range long {
		long[i] = 'a'
	}
	if err := r.register(string(long), func(CallbackRef, NodeID, string, []byte) {}); err != ErrNameTooLong {
		t.Fatalf("err = %v, want ErrNameTooLong", err)
	}
}

func TestClientFunctionRegistryRegisterIsIdempotent(t *testing.T) {
	r := newClientFunctionRegistry()
	h1, err := r.register("foo")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	h2, err := r.register("foo")
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected the same stub handle on re-registration")
	}
	if r.count() != 1 {
		t.Fatalf("count() = %d, want 1", r.count())
	}
}

func TestClientFunctionRegistryNameOf(t *testing.T) {
	r := newClientFunctionRegistry()
	h, _ := r.register("foo")
	name, ok := r.nameOf(h)
	if !ok || name != "foo" {
		t.Fatalf("nameOf() = (%q, %v), want (\"foo\", true)", name, ok)
	}
	if _, ok := r.nameOf(nil); ok {
		t.Fatal("expected nameOf(nil) to fail")
	}
}

func TestCallbackRegistryOneShotAndSlotReuse(t *testing.T) {
	r := newCallbackRegistry(0)
	fired := 0
	d := func(ref CallbackRef, caller NodeID, name string, args []byte) { fired++ }

	ref1 := r.mint()
	if err := r.activate(ref1, d); err != nil {
		t.Fatalf("activate: %v", err)
	}
	ref2 := r.mint()
	if err := r.activate(ref2, d); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if r.count() != 2 {
		t.Fatalf("count() = %d, want 2", r.count())
	}

	if got := r.findByReference(ref1); got == nil {
		t.Fatal("expected to find ref1")
	} else {
		got(ref1, 0, "", nil)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	// One-shot: firing again must not find it.
	if r.findByReference(ref1) != nil {
		t.Fatal("expected ref1 to be consumed after first dispatch")
	}
	if r.count() != 1 {
		t.Fatalf("count() after consuming ref1 = %d, want 1", r.count())
	}

	// Slot left empty by ref1 is reused by the next activate.
	ref3 := r.mint()
	if err := r.activate(ref3, d); err != nil {
		t.Fatalf("activate ref3: %v", err)
	}
	if len(r.slots) != 2 {
		t.Fatalf("slots grew to %d, want reuse (2)", len(r.slots))
	}
}

func TestCallbackRegistryCancelIsIdempotent(t *testing.T) {
	r := newCallbackRegistry(0)
	ref := r.mint()
	r.activate(ref, func(CallbackRef, NodeID, string, []byte) {})
	if !r.cancel(ref) {
		t.Fatal("expected first cancel to succeed")
	}
	if r.cancel(ref) {
		t.Fatal("expected second cancel to report false")
	}
}
