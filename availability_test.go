package dstc

import "testing"

func TestAvailabilityMapRegisterAndQuery(t *testing.T) {
	m := newAvailabilityMap(nil)
	m.register(1, "foo")
	if !m.availableByName("foo") {
		t.Fatal("expected foo to be available")
	}
	if m.availableByName("bar") {
		t.Fatal("expected bar to be unavailable")
	}
}

func TestAvailabilityMapDuplicateRegisterIsSuppressed(t *testing.T) {
	m := newAvailabilityMap(nil)
	m.register(1, "foo")
	m.register(1, "foo")
	if len(m.peersFor("foo")) != 1 {
		t.Fatalf("peersFor(foo) = %v, want exactly one entry", m.peersFor("foo"))
	}
}

func TestAvailabilityMapUnregisterPeer(t *testing.T) {
	m := newAvailabilityMap(nil)
	m.register(1, "foo")
	m.register(2, "foo")
	m.unregisterPeer(1)

	if !m.availableByName("foo") {
		t.Fatal("expected foo still available via peer 2")
	}
	peers := m.peersFor("foo")
	if len(peers) != 1 || peers[0] != 2 {
		t.Fatalf("peersFor(foo) = %v, want [2]", peers)
	}
}

func TestAvailabilityMapUnregisterLastPeerMakesNameUnavailable(t *testing.T) {
	m := newAvailabilityMap(nil)
	m.register(1, "foo")
	m.unregisterPeer(1)
	if m.availableByName("foo") {
		t.Fatal("expected foo unavailable once its only peer departs")
	}
}

func TestAvailabilityMapReusesTombstonedSlots(t *testing.T) {
	m := newAvailabilityMap(nil)
	m.register(1, "foo")
	m.unregisterPeer(1)
	m.register(2, "bar")
	if len(m.entries) != 1 {
		t.Fatalf("entries grew to %d, want reuse (1)", len(m.entries))
	}
}

func TestAvailabilityMapDistinctPeerCount(t *testing.T) {
	m := newAvailabilityMap(nil)
	m.register(1, "foo")
	m.register(1, "bar")
	m.register(2, "foo")
	if got := m.distinctPeerCount(); got != 2 {
		t.Fatalf("distinctPeerCount() = %d, want 2", got)
	}
}
