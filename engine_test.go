package dstc

import (
	"errors"
	"testing"
)

func TestSetupFullIsIdempotent(t *testing.T) {
	resetEngineForTests()
	defer resetEngineForTests()

	cfg := DefaultConfig()
	_, err := SetupFull(cfg, newFakePublisher(), newFakeSubscriber(), &fakePollAdapter{}, noopLogger{}, nil)
	if err != nil {
		t.Fatalf("first SetupFull: %v", err)
	}
	_, err = SetupFull(cfg, newFakePublisher(), newFakeSubscriber(), &fakePollAdapter{}, noopLogger{}, nil)
	if err != ErrAlreadyInitialized {
		t.Fatalf("second SetupFull err = %v, want ErrAlreadyInitialized", err)
	}
}

func TestEngineGetNodeID(t *testing.T) {
	e, _, _ := newTestEngine(99)
	defer resetEngineForTests()
	if e.GetNodeID() != 99 {
		t.Fatalf("GetNodeID() = %d, want 99", e.GetNodeID())
	}
}

func TestEngineGetSocketCountTracksPollRegistrations(t *testing.T) {
	resetEngineForTests()
	defer resetEngineForTests()
	poll := &fakePollAdapter{}
	cfg := DefaultConfig()
	e, err := SetupFull(cfg, newFakePublisher(), newFakeSubscriber(), poll, noopLogger{}, nil)
	if err != nil {
		t.Fatalf("SetupFull: %v", err)
	}
	if e.GetSocketCount() != 0 {
		t.Fatalf("GetSocketCount() = %d, want 0", e.GetSocketCount())
	}
	e.poll.Add(3, 0, false, Interest{Readable: true})
	e.poll.Add(4, 1, true, Interest{Readable: true})
	if e.GetSocketCount() != 2 {
		t.Fatalf("GetSocketCount() = %d, want 2", e.GetSocketCount())
	}
	e.poll.Remove(3)
	if e.GetSocketCount() != 1 {
		t.Fatalf("GetSocketCount() = %d, want 1", e.GetSocketCount())
	}
}

func TestEngineProcessInvocationPacketDispatchesNamed(t *testing.T) {
	e, _, _ := newTestEngine(1)
	defer resetEngineForTests()

	var gotName string
	var gotArgs []byte
	if err := e.RegisterServerFunction("foo", func(ref CallbackRef, caller NodeID, name string, args []byte) {
		gotName = name
		gotArgs = args
	}); err != nil {
		t.Fatalf("RegisterServerFunction: %v", err)
	}

	buf := NewPayloadBuffer(128)
	encodeNamed(buf, 7, "foo", []byte{1, 2, 3})
	e.processInvocationPacket(buf.Bytes())

	if gotName != "foo" || len(gotArgs) != 3 {
		t.Fatalf("dispatch got name=%q args=%v", gotName, gotArgs)
	}
}

func TestEngineProcessInvocationPacketDispatchesCallbackOnce(t *testing.T) {
	e, _, _ := newTestEngine(1)
	defer resetEngineForTests()

	fired := 0
	ref, err := e.ActivateCallback(func(CallbackRef, NodeID, string, []byte) { fired++ })
	if err != nil {
		t.Fatalf("ActivateCallback: %v", err)
	}

	buf := NewPayloadBuffer(128)
	encodeCallback(buf, 2, ref, nil)
	e.processInvocationPacket(buf.Bytes())
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	buf2 := NewPayloadBuffer(128)
	encodeCallback(buf2, 2, ref, nil)
	e.processInvocationPacket(buf2.Bytes())
	if fired != 1 {
		t.Fatalf("fired after second delivery = %d, want 1 (one-shot)", fired)
	}
}

func TestEngineProcessInvocationPacketBundling(t *testing.T) {
	e, _, _ := newTestEngine(1)
	defer resetEngineForTests()

	var names []string
	e.RegisterServerFunction("a", func(ref CallbackRef, caller NodeID, name string, args []byte) {
		names = append(names, name)
	})
	e.RegisterServerFunction("b", func(ref CallbackRef, caller NodeID, name string, args []byte) {
		names = append(names, name)
	})

	buf := NewPayloadBuffer(256)
	encodeNamed(buf, 1, "a", nil)
	encodeNamed(buf, 1, "b", nil)
	e.processInvocationPacket(buf.Bytes())

	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}

func TestEngineRemoteFunctionAvailableByStub(t *testing.T) {
	e, _, _ := newTestEngine(1)
	defer resetEngineForTests()

	stub, err := e.RegisterClientFunction("foo")
	if err != nil {
		t.Fatalf("RegisterClientFunction: %v", err)
	}
	if e.RemoteFunctionAvailableByStub(stub) {
		t.Fatal("expected unavailable before any advertisement")
	}
	e.onControlMessage(5, "foo")
	if !e.RemoteFunctionAvailableByStub(stub) {
		t.Fatal("expected available after advertisement")
	}
}

func TestDispatchClosesPublisherConnectionOnWriteFailure(t *testing.T) {
	e, pub, _ := newTestEngine(1)
	defer resetEngineForTests()

	pub.writeErr = errors.New("connection reset")
	e.dispatch(ReadyEvent{Index: 3, IsPublisher: true, Writable: true})

	if len(pub.closedIndexes) != 1 || pub.closedIndexes[0] != 3 {
		t.Fatalf("pub.closedIndexes = %v, want [3]", pub.closedIndexes)
	}
}

func TestDispatchClosesSubscriberConnectionOnWriteFailure(t *testing.T) {
	e, _, sub := newTestEngine(1)
	defer resetEngineForTests()

	sub.writeErr = errors.New("connection reset")
	e.dispatch(ReadyEvent{Index: 2, IsPublisher: false, Writable: true})

	if len(sub.closedIndexes) != 1 || sub.closedIndexes[0] != 2 {
		t.Fatalf("sub.closedIndexes = %v, want [2]", sub.closedIndexes)
	}
}

func TestProcessSingleEventFlushesBufferedDataEvenWhenIdle(t *testing.T) {
	e, pub, _ := newTestEngine(1)
	defer resetEngineForTests()

	e.Buffered(true)
	if err := e.QueueFunc("foo", []byte{1}); err != nil {
		t.Fatalf("QueueFunc: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("pub.sent = %d packets, want 0 before any event-loop pass", len(pub.sent))
	}

	if _, err := e.ProcessSingleEvent(0); err != nil {
		t.Fatalf("ProcessSingleEvent: %v", err)
	}

	if len(pub.sent) != 1 {
		t.Fatalf("pub.sent = %d packets after one event-loop pass, want 1", len(pub.sent))
	}
	if !e.buf.Empty() {
		t.Fatal("expected Payload Buffer empty after the event loop drained it")
	}
}
