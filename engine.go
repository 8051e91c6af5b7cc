package dstc

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine is the RPC engine context (spec §4.6): the single place that
// owns the registries, the Payload Buffer, the transport handles, and
// the readiness facility. The original library exposes this as
// process-wide global state reached through free functions
// (dstc_setup, dstc_queue_func, ...); dstc-go keeps that singleton
// shape at the package level (Setup/SetupWithEpoll/SetupFull install
// one process-wide engine) while modeling the context itself as an
// ordinary *Engine whose methods (QueueFunc, ...) carry the
// operations, so tests can build a fresh one per test via SetupFull
// after clearing the singleton.
type Engine struct {
	mu sync.Mutex

	nodeID NodeID
	log    Logger

	poll *countingPollAdapter
	pub  Publisher
	sub  Subscriber

	buf       *PayloadBuffer
	servers   *serverFunctionRegistry
	clients   *clientFunctionRegistry
	callbacks *callbackRegistry
	avail     *availabilityMap
	metrics   *Metrics

	buffered    bool
	wantReceive bool // spec §4.7 announce gating: any client stub or callback ever registered
}

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// countingPollAdapter wraps a PollAdapter purely to answer
// GetSocketCount (spec §6) without requiring transports to report
// their own fd set back to the engine.
type countingPollAdapter struct {
	PollAdapter
	mu    sync.Mutex
	count int
}

func (c *countingPollAdapter) Add(fd int, index uint32, isPublisher bool, interest Interest) error {
	if err := c.PollAdapter.Add(fd, index, isPublisher, interest); err != nil {
		return err
	}
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

func (c *countingPollAdapter) Remove(fd int) error {
	err := c.PollAdapter.Remove(fd)
	c.mu.Lock()
	if c.count > 0 {
		c.count--
	}
	c.mu.Unlock()
	return err
}

func (c *countingPollAdapter) socketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// newCallbackSalt derives a per-process generation seed from a random
// UUID's low 64 bits, so callback references minted across process
// restarts on the same node id don't collide with a still-listening
// stale peer (see SPEC_FULL.md's DOMAIN STACK entry for google/uuid).
func newCallbackSalt() uint64 {
	id := uuid.New()
	var v uint64
	for _, b := range id[8:16] {
		v = v<<8 | uint64(b)
	}
	return v
}

// newEngine assembles an Engine from fully explicit collaborators,
// the common path behind Setup/SetupWithEpoll/SetupFull.
func newEngine(cfg Config, pub Publisher, sub Subscriber, poll PollAdapter, log Logger, metrics *Metrics) *Engine {
	e := &Engine{
		nodeID:    cfg.NodeID,
		log:       log,
		poll:      &countingPollAdapter{PollAdapter: poll},
		pub:       pub,
		sub:       sub,
		buf:       NewPayloadBuffer(pub.MaxDatagramPayload()),
		servers:   newServerFunctionRegistry(),
		clients:   newClientFunctionRegistry(),
		callbacks: newCallbackRegistry(newCallbackSalt()),
		avail:     newAvailabilityMap(log),
		metrics:   metrics,
	}
	pub.SetSuspendThresholds(cfg.SuspendThreshold, cfg.RestartThreshold)
	wireControlHandlers(e)
	return e
}

// Setup builds the default best-effort transport (NetPublisher +
// NetSubscriber over raw multicast/TCP sockets) and its own epoll
// readiness facility from cfg, then installs it as the process-wide
// engine (spec §6 "setup()"). A second call returns
// ErrAlreadyInitialized.
func Setup(cfg Config) (*Engine, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine != nil {
		return nil, ErrAlreadyInitialized
	}

	log := NewLogger(ParseLevel(cfg.LogLevel))
	poll, err := NewPollAdapter()
	if err != nil {
		log.Fatalf("dstc: creating poll adapter: %v", err)
		return nil, err
	}
	pub, err := NewNetPublisher(cfg, cfg.NodeID, poll, log)
	if err != nil {
		log.Fatalf("dstc: creating publisher: %v", err)
		return nil, err
	}
	sub, err := NewNetSubscriber(cfg, cfg.NodeID, poll, log)
	if err != nil {
		log.Fatalf("dstc: creating subscriber: %v", err)
		return nil, err
	}
	e := newEngine(cfg, pub, sub, poll, log, nil)
	defaultEngine = e
	return e, nil
}

// SetupWithEpoll installs the process-wide engine on a caller-owned
// epoll file descriptor instead of creating its own (spec §6
// "setup_with_epoll(handle)") — for embedding the engine's fds inside
// an application's existing epoll instance.
func SetupWithEpoll(cfg Config, epfd int) (*Engine, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine != nil {
		return nil, ErrAlreadyInitialized
	}

	log := NewLogger(ParseLevel(cfg.LogLevel))
	poll := newPollAdapterFromFD(epfd)
	pub, err := NewNetPublisher(cfg, cfg.NodeID, poll, log)
	if err != nil {
		return nil, err
	}
	sub, err := NewNetSubscriber(cfg, cfg.NodeID, poll, log)
	if err != nil {
		return nil, err
	}
	e := newEngine(cfg, pub, sub, poll, log, nil)
	defaultEngine = e
	return e, nil
}

// SetupFull installs the process-wide engine with every collaborator
// supplied explicitly (spec §6 "setup_full(...) (all parameters
// explicit)") — the seam tests and alternative transports use.
func SetupFull(cfg Config, pub Publisher, sub Subscriber, poll PollAdapter, log Logger, metrics *Metrics) (*Engine, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine != nil {
		return nil, ErrAlreadyInitialized
	}
	if log == nil {
		log = NewLogger(ParseLevel(cfg.LogLevel))
	}
	e := newEngine(cfg, pub, sub, poll, log, metrics)
	defaultEngine = e
	return e, nil
}

// resetEngineForTests clears the process-wide singleton so package
// tests can exercise Setup/SetupFull's idempotency guard repeatedly.
func resetEngineForTests() {
	defaultMu.Lock()
	defaultEngine = nil
	defaultMu.Unlock()
}

// RegisterServerFunction records a local server function under name,
// dispatched through d for named invocations that target it (spec
// §4.2). Callback invocations never reach d; they go to the dispatch
// armed by ActivateCallback.
func (e *Engine) RegisterServerFunction(name string, d Dispatch) error {
	return e.servers.register(name, d)
}

// RegisterClientFunction records the identity of a local client stub,
// answering RemoteFunctionAvailableByStub (spec §4.2/§4.3).
func (e *Engine) RegisterClientFunction(name string) (*StubHandle, error) {
	h, err := e.clients.register(name)
	if err != nil {
		return nil, err
	}
	e.armAnnounceIfNeeded()
	return h, nil
}

// ActivateCallback arms a fresh one-shot callback reference,
// dispatched through d exactly once when a matching callback-form
// invocation arrives (spec §3/§4.2, SUPPLEMENTED FEATURES slot reuse).
func (e *Engine) ActivateCallback(d Dispatch) (CallbackRef, error) {
	e.mu.Lock()
	ref := e.callbacks.mint()
	err := e.callbacks.activate(ref, d)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	e.armAnnounceIfNeeded()
	return ref, nil
}

// CancelCallback disarms a pending callback without firing it.
// Returns ErrUnknownCallback if ref is not currently armed.
func (e *Engine) CancelCallback(ref CallbackRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.callbacks.cancel(ref) {
		return ErrUnknownCallback
	}
	return nil
}

// RemoteFunctionAvailableByName reports whether any currently-known
// peer advertises name (spec §4.3).
func (e *Engine) RemoteFunctionAvailableByName(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avail.availableByName(name)
}

// RemoteFunctionAvailableByStub resolves stub to its registered name
// first, then defers to RemoteFunctionAvailableByName (spec §4.3).
func (e *Engine) RemoteFunctionAvailableByStub(stub *StubHandle) bool {
	name, ok := e.clients.nameOf(stub)
	if !ok {
		return false
	}
	return e.RemoteFunctionAvailableByName(name)
}

// GetSocketCount returns the number of descriptors currently
// registered with the readiness facility (spec §6).
func (e *Engine) GetSocketCount() int {
	return e.poll.socketCount()
}

// GetNodeID returns this engine's node identifier (spec §6).
func (e *Engine) GetNodeID() NodeID {
	return e.nodeID
}

// GetTimeoutMs is the minimum, over publisher and subscriber timer
// queues, of the next scheduled tick in milliseconds; -1 means no
// timer pending (spec §4.6).
func (e *Engine) GetTimeoutMs() int {
	best := -1
	if ms, ok := e.pub.NextTimeoutMillis(); ok {
		best = int(ms)
	}
	if ms, ok := e.sub.NextTimeoutMillis(); ok {
		if best < 0 || int(ms) < best {
			best = int(ms)
		}
	}
	return best
}

// ProcessSingleEvent blocks on the readiness facility for up to
// timeoutMs (negative blocks forever, zero polls once), dispatches
// every ready descriptor per spec §4.6.1, and drives transport timeout
// processing whenever nothing was ready. It does not check whether a
// scheduled tick has actually elapsed: each side's ProcessTimeout runs
// on every idle pass, including a zero-timeout poll, and decides for
// itself what is due. Returns timedOut=true when nothing was ready.
func (e *Engine) ProcessSingleEvent(timeoutMs int) (timedOut bool, err error) {
	events, err := e.poll.Wait(timeoutMs)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		// Nothing was ready: run both sides' timeout processing
		// without consulting GetTimeoutMs.
		e.pub.ProcessTimeout()
		e.sub.ProcessTimeout()
		if e.metrics != nil {
			e.metrics.observeAnnounceTick()
		}
		e.flushPending()
		return true, nil
	}
	for _, ev := range events {
		e.dispatch(ev)
	}
	e.flushPending()
	return false, nil
}

// flushPending attempts to push a non-empty Payload Buffer on every
// event-loop pass, independent of Buffered mode (spec §4.6: "After
// each outbound enqueue, and whenever the Payload Buffer is
// non-empty, the engine attempts rmc_pub_queue_packet iff
// rmc_pub_traffic_suspended is false"). Without this, data queued
// while Buffered(true) is in effect would never drain until the next
// QueueFunc/QueueCallback call, eventually wedging the caller on
// ErrBusy with no path to recovery.
func (e *Engine) flushPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushBufferLocked()
}

// dispatch runs one ready descriptor's read/write entry point to
// completion (spec §4.6.1: "the transport's read/write entry points
// run to completion inside process_single_event").
func (e *Engine) dispatch(ev ReadyEvent) {
	if ev.IsPublisher {
		if ev.Readable {
			if err := e.pub.HandleReadable(ev.Index); err != nil {
				e.log.Warnf("publisher readable(%d): %v", ev.Index, err)
			}
		}
		if ev.Writable {
			if err := e.pub.HandleWritable(ev.Index); err != nil {
				e.log.Warnf("publisher writable(%d): %v; closing", ev.Index, err)
				if cerr := e.pub.CloseIndex(ev.Index); cerr != nil {
					e.log.Warnf("publisher close(%d): %v", ev.Index, cerr)
				}
			}
		}
		return
	}
	if ev.Readable {
		if err := e.sub.HandleReadable(ev.Index); err != nil {
			e.log.Warnf("subscriber readable(%d): %v", ev.Index, err)
		}
	}
	if ev.Writable {
		if err := e.sub.HandleWritable(ev.Index); err != nil {
			e.log.Warnf("subscriber writable(%d): %v; closing", ev.Index, err)
			if cerr := e.sub.CloseIndex(ev.Index); cerr != nil {
				e.log.Warnf("subscriber close(%d): %v", ev.Index, cerr)
			}
		}
	}
}

// ProcessEvents drives ProcessSingleEvent according to spec §4.6's
// three timeout_us regimes: 0 is a single non-blocking pass, -1 loops
// forever, and any other value loops until the caller's own deadline
// (not an internal timer) expires.
func (e *Engine) ProcessEvents(timeoutUs int64) (timedOut bool, err error) {
	switch {
	case timeoutUs == 0:
		return e.ProcessSingleEvent(0)
	case timeoutUs < 0:
		for {
			if _, err := e.ProcessSingleEvent(e.GetTimeoutMs()); err != nil {
				return false, err
			}
		}
	default:
		deadline := time.Now().Add(time.Duration(timeoutUs) * time.Microsecond)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return true, nil
			}
			waitMs := int(remaining / time.Millisecond)
			if t := e.GetTimeoutMs(); t >= 0 && t < waitMs {
				waitMs = t
			}
			if _, err := e.ProcessSingleEvent(waitMs); err != nil {
				return false, err
			}
		}
	}
}

// ProcessPendingEvents drains the readiness facility with
// non-blocking passes until idle (SUPPLEMENTED FEATURES: the public
// entry point named by spec §6 but left undetailed).
func (e *Engine) ProcessPendingEvents() error {
	for {
		timedOut, err := e.ProcessSingleEvent(0)
		if err != nil {
			return err
		}
		if timedOut {
			return nil
		}
	}
}

// processInvocationPacket decodes every bundled record in one
// received datagram and dispatches each (spec §4.4 "invocation
// bundling"); malformed trailing bytes are logged and dropped, never
// surfaced to callers (spec §7).
func (e *Engine) processInvocationPacket(payload []byte) {
	for len(payload) > 0 {
		rec, consumed, ok := parseRecord(payload)
		if !ok {
			if consumed > 0 {
				e.log.Warnf("dropping %d truncated trailing byte(s)", consumed)
			}
			return
		}
		payload = payload[consumed:]
		e.dispatchRecord(rec)
	}
}

func (e *Engine) dispatchRecord(rec decodedRecord) {
	if rec.name != "" {
		d := e.servers.find(rec.name)
		if d == nil {
			e.log.Debugf("no local server function %q; ignoring invocation from %d", rec.name, rec.caller)
			return
		}
		d(0, rec.caller, rec.name, rec.args)
		return
	}
	e.mu.Lock()
	d := e.callbacks.findByReference(rec.ref)
	e.mu.Unlock()
	if d == nil {
		e.log.Debugf("unknown or already-fired callback reference %d from %d; dropping", rec.ref, rec.caller)
		return
	}
	d(rec.ref, rec.caller, "", rec.args)
}
