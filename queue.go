package dstc

// queue.go is the Queueing Facade (spec §4.8): the public enqueue
// operation generated stubs call. It frames an invocation into the
// Payload Buffer and, unless buffered mode defers it, opportunistically
// pushes the buffer to the transport when back-pressure allows.

// Buffered toggles the flush policy (spec §4.8): on defers every push
// until the next event-loop pass (every ProcessSingleEvent, and so
// ProcessEvents and ProcessPendingEvents, flushes) or the next
// non-buffered enqueue; off (the default) pushes immediately after
// every successful enqueue, trading throughput for per-call latency.
func (e *Engine) Buffered(on bool) {
	e.mu.Lock()
	e.buffered = on
	e.mu.Unlock()
}

// QueueFunc enqueues a named invocation (spec §4.8 "queue_func").
// Boundary behavior (spec §9): an empty name is invalid.
func (e *Engine) QueueFunc(name string, args []byte) error {
	if name == "" {
		return ErrInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := encodeNamed(e.buf, e.nodeID, name, args); err != nil {
		if e.metrics != nil {
			e.metrics.observeBusy()
		}
		return err
	}
	return e.flushLocked()
}

// QueueCallback enqueues a callback-form invocation (spec §4.8
// "queue_callback"). Boundary behavior (spec §9): a zero reference
// paired with no name is invalid — callers obtain ref from a peer's
// prior request, never mint it themselves for this call.
func (e *Engine) QueueCallback(ref CallbackRef, args []byte) error {
	if ref == 0 {
		return ErrInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := encodeCallback(e.buf, e.nodeID, ref, args); err != nil {
		if e.metrics != nil {
			e.metrics.observeBusy()
		}
		return err
	}
	return e.flushLocked()
}

// flushLocked is the enqueue-time push governed by Buffered (spec
// §4.8: "when buffered is on, queue_* only writes into the Payload
// Buffer and does not attempt to push"). Must be called with e.mu
// held.
func (e *Engine) flushLocked() error {
	if e.metrics != nil {
		e.metrics.setQueueDepth(e.buf.InUse())
	}
	if e.buffered {
		return nil
	}
	return e.pushBufferLocked()
}

// pushBufferLocked pushes the Payload Buffer to the transport
// whenever it is non-empty and the transport is accepting traffic,
// resetting the buffer only on a successful push (spec §4.1 "emptied
// atomically by a single publisher queue operation", §4.6 "after each
// outbound enqueue, and whenever the Payload Buffer is non-empty, the
// engine attempts rmc_pub_queue_packet iff rmc_pub_traffic_suspended
// is false"). Unlike flushLocked, this ignores the Buffered flag,
// which only governs the enqueue-time push, not the event loop's
// drain of whatever accumulated while buffered. Must be called with
// e.mu held.
func (e *Engine) pushBufferLocked() error {
	if e.buf.Empty() {
		return nil
	}
	if e.pub.TrafficSuspended() {
		if e.metrics != nil {
			e.metrics.observeBusy()
			e.metrics.setQueueDepth(e.buf.InUse())
		}
		return nil // leave buffered for the next successful flush attempt
	}
	if err := e.pub.QueuePacket(e.buf.Bytes()); err != nil {
		if e.metrics != nil {
			e.metrics.observeBusy()
		}
		return nil
	}
	e.buf.Reset()
	if e.metrics != nil {
		e.metrics.setQueueDepth(0)
	}
	return nil
}
