package dstc

import "time"

// announceInterval is spec §4.7's "Announce interval": 200ms between
// periodic advertisement ticks, armed only once the local process has
// something worth receiving replies for.
const announceInterval = 200 * time.Millisecond

// wireControlHandlers installs the Control Protocol Handler (spec
// §4.7) by hooking the transport's three control events: a
// subscription completing, an inbound control message, and a
// subscriber disconnecting.
func wireControlHandlers(e *Engine) {
	e.sub.OnSubscriptionComplete(func(peer NodeID) {
		e.onSubscriptionComplete(peer)
	})
	e.sub.OnInvocationPacket(func(payload []byte) {
		e.processInvocationPacket(payload)
	})
	e.pub.OnControlMessage(func(peer NodeID, name string) {
		e.onControlMessage(peer, name)
	})
	e.pub.OnSubscriberDisconnect(func(peer NodeID) {
		e.onSubscriberDisconnect(peer)
	})
}

// onSubscriptionComplete fires once this node's control connection to
// a newly-discovered publisher peer is established. Per SPEC_FULL.md's
// Open Question resolution (a), the local server function list is
// advertised by unicast to that peer alone — never broadcast to the
// whole group.
func (e *Engine) onSubscriptionComplete(peer NodeID) {
	for _, name := range e.servers.all() {
		if err := e.sub.SendControl(peer, e.nodeID, name); err != nil {
			e.log.Warnf("advertising %q to peer %d: %v", name, peer, err)
		}
	}
}

// onControlMessage records one peer's advertisement of a server
// function it hosts (spec §4.7 "Inbound control message").
func (e *Engine) onControlMessage(peer NodeID, name string) {
	e.avail.register(peer, name)
	if e.metrics != nil {
		e.metrics.observeAdvertisement()
	}
}

// onSubscriberDisconnect prunes the Remote Availability Map of every
// entry contributed by a departed peer (spec §4.7 "Subscriber
// disconnect"; TESTABLE PROPERTIES scenario 3).
func (e *Engine) onSubscriberDisconnect(peer NodeID) {
	e.avail.unregisterPeer(peer)
	if e.metrics != nil {
		e.metrics.setPeerCount(e.avail.distinctPeerCount())
	}
}

// armAnnounceIfNeeded enables the publisher's periodic announce timer
// the first time this process registers a client stub or a callback —
// the original library's g_dstc_want_to_receive gate (SUPPLEMENTED
// FEATURES): a pure server with no client-side interest never needs
// to announce itself beyond its one-time subscription advertisement.
func (e *Engine) armAnnounceIfNeeded() {
	e.mu.Lock()
	already := e.wantReceive
	e.wantReceive = true
	e.mu.Unlock()
	if !already {
		e.pub.SetAnnounceInterval(announceInterval)
	}
}
