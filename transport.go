package dstc

import "time"

// Publisher and Subscriber are the external transport collaborators
// spec.md §1 carves out of scope: "the reliable-multicast transport
// library beneath the engine... the engine consumes its API but does
// not redesign it." The Engine only ever talks to these two
// interfaces; NetPublisher/NetSubscriber (net_transport.go) are the
// concrete best-effort implementation the engine drives by default.
//
// Registration with the readiness facility flows from the transport
// outward (spec §4.5: "The adapter offers add, modify, and remove
// callbacks for each side, passed to the transport at setup"): each
// side is constructed with a PollAdapter and calls Add/Modify/Remove
// on it directly as its own socket set changes (a new subscriber
// connects, a control link drops). The index a side chooses when it
// calls Add is the same index the Engine later passes back into
// HandleReadable/HandleWritable when the readiness facility reports
// that descriptor ready.

// Publisher is the sending side: it owns the sockets used to emit
// multicast payload packets and accept subscriber control
// connections.
type Publisher interface {
	// HandleReadable is the publisher's read entry point for the
	// descriptor registered under index (spec §4.6.1): typically
	// accepting a new subscriber control connection or reading an
	// inbound control message.
	HandleReadable(index uint32) error

	// HandleWritable is the publisher's write entry point. A non-nil
	// return means the connection has failed and the Engine must
	// close that side (spec §4.6.1).
	HandleWritable(index uint32) error

	// CloseIndex tears down the single connection registered under
	// index, invoked by the Engine when HandleWritable reports failure
	// (spec §4.6.1). Unlike Close, this leaves the rest of the side's
	// sockets (and, for the publisher, the control listener) intact.
	CloseIndex(index uint32) error

	// QueuePacket attempts to hand buf (one flushed Payload Buffer)
	// to the transport for multicast send. Returns ErrBusy if the
	// transport cannot accept it right now.
	QueuePacket(buf []byte) error

	// TrafficSuspended reports the transport's back-pressure state
	// (spec §4.6: "rmc_pub_traffic_suspended").
	TrafficSuspended() bool

	// SetSuspendThresholds configures the asymmetric suspend/restart
	// watermarks (spec §4.6, e.g. 3000/2800 in-flight units).
	SetSuspendThresholds(suspend, restart int)

	// SetAnnounceInterval arms or disarms periodic announcements
	// (spec §4.7). A zero duration disarms them.
	SetAnnounceInterval(d time.Duration)

	// ProcessTimeout drives the publisher's internal timer queue
	// (retransmission scheduling, announce ticks).
	ProcessTimeout()

	// NextTimeoutMillis returns the relative time until the
	// publisher's next scheduled timer tick, or ok=false if none is
	// pending.
	NextTimeoutMillis() (ms int64, ok bool)

	// MaxDatagramPayload is the transport-level maximum payload size,
	// used to size the Payload Buffer (spec §9 Open Question (c)).
	MaxDatagramPayload() int

	// OnControlMessage registers the callback invoked when a peer's
	// control connection delivers an advertised function name (spec
	// §4.7 "Inbound control message").
	OnControlMessage(fn func(peer NodeID, name string))

	// OnSubscriberDisconnect registers the callback invoked when a
	// peer's control connection drops (spec §4.7 "Subscriber
	// disconnect").
	OnSubscriberDisconnect(fn func(peer NodeID))

	// Close tears down every socket this side owns.
	Close() error
}

// Subscriber is the receiving side: it owns the multicast receive
// socket and the outbound control connections it dials to publishers
// it discovers.
type Subscriber interface {
	// HandleReadable is the subscriber's read entry point: an
	// inbound multicast datagram, or a reply on a control
	// connection.
	HandleReadable(index uint32) error

	// HandleWritable is the subscriber's write entry point.
	HandleWritable(index uint32) error

	// CloseIndex tears down the single connection registered under
	// index, invoked by the Engine when HandleWritable reports failure
	// (spec §4.6.1).
	CloseIndex(index uint32) error

	// ProcessTimeout drives the subscriber's internal timer queue.
	ProcessTimeout()

	// NextTimeoutMillis returns the relative time until the
	// subscriber's next scheduled timer tick.
	NextTimeoutMillis() (ms int64, ok bool)

	// OnSubscriptionComplete registers the callback invoked once a
	// TCP control link to a publisher is established (spec §4.7).
	OnSubscriptionComplete(fn func(peer NodeID))

	// SendControl emits one control message, {local node id, name},
	// to the peer the subscriber has a control link with (spec §6).
	SendControl(peer NodeID, localNode NodeID, name string) error

	// OnInvocationPacket registers the callback invoked for each
	// received multicast datagram payload, handed to the Engine for
	// processInvocationPacket, which loops parseRecord over it (spec
	// §4.4 "invocation bundling").
	OnInvocationPacket(fn func(payload []byte))

	// Close tears down every socket this side owns.
	Close() error
}
