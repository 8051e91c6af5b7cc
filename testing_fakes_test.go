package dstc

import "time"

// testing_fakes_test.go holds the in-memory Publisher/Subscriber/
// PollAdapter/Logger doubles shared by engine_test.go, queue_test.go,
// and control_test.go, so the Event Engine's own logic can be
// exercised without real sockets or epoll (net_transport.go and
// poll_epoll.go are exercised separately by the cmd/ programs, which
// are run manually since they need live processes on the same
// multicast group).

type noopLogger struct{}

func (noopLogger) Info(args ...interface{})                  {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Warn(args ...interface{})                  {}
func (noopLogger) Warnf(format string, args ...interface{})  {}
func (noopLogger) Error(args ...interface{})                 {}
func (noopLogger) Errorf(format string, args ...interface{}) {}
func (noopLogger) Debug(args ...interface{})                 {}
func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Fatal(args ...interface{})                 {}
func (noopLogger) Fatalf(format string, args ...interface{}) {}

// fakePollAdapter never reports anything ready; tests drive the
// Engine through its public methods (QueueFunc, processInvocationPacket,
// control callbacks) directly instead of relying on real readiness
// events.
type fakePollAdapter struct {
	added   []int
	removed []int
}

func (f *fakePollAdapter) Add(fd int, index uint32, isPublisher bool, interest Interest) error {
	f.added = append(f.added, fd)
	return nil
}
func (f *fakePollAdapter) Modify(fd int, index uint32, isPublisher bool, interest Interest) error {
	return nil
}
func (f *fakePollAdapter) Remove(fd int) error {
	f.removed = append(f.removed, fd)
	return nil
}
func (f *fakePollAdapter) Wait(timeoutMs int) ([]ReadyEvent, error) { return nil, nil }
func (f *fakePollAdapter) Close() error                             { return nil }

type fakePublisher struct {
	maxPayload  int
	suspended   bool
	sent        [][]byte
	onControl   func(peer NodeID, name string)
	onDisconnect func(peer NodeID)
	announceEvery time.Duration
	timeoutCalls  int
	closedIndexes []uint32
	writeErr      error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{maxPayload: 1024}
}

func (p *fakePublisher) HandleReadable(index uint32) error { return nil }
func (p *fakePublisher) HandleWritable(index uint32) error { return p.writeErr }
func (p *fakePublisher) CloseIndex(index uint32) error {
	p.closedIndexes = append(p.closedIndexes, index)
	return nil
}
func (p *fakePublisher) QueuePacket(buf []byte) error {
	if p.suspended {
		return ErrBusy
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.sent = append(p.sent, cp)
	return nil
}
func (p *fakePublisher) TrafficSuspended() bool                 { return p.suspended }
func (p *fakePublisher) SetSuspendThresholds(suspend, restart int) {}
func (p *fakePublisher) SetAnnounceInterval(d time.Duration)    { p.announceEvery = d }
func (p *fakePublisher) ProcessTimeout()                        { p.timeoutCalls++ }
func (p *fakePublisher) NextTimeoutMillis() (int64, bool)       { return 0, false }
func (p *fakePublisher) MaxDatagramPayload() int                { return p.maxPayload }
func (p *fakePublisher) OnControlMessage(fn func(peer NodeID, name string)) { p.onControl = fn }
func (p *fakePublisher) OnSubscriberDisconnect(fn func(peer NodeID))       { p.onDisconnect = fn }
func (p *fakePublisher) Close() error                            { return nil }

type fakeSubscriber struct {
	onSubComplete func(peer NodeID)
	onPacket      func(payload []byte)
	sentControl   []controlFrame
	sentTo        []NodeID
	closedIndexes []uint32
	writeErr      error
}

func newFakeSubscriber() *fakeSubscriber { return &fakeSubscriber{} }

func (s *fakeSubscriber) HandleReadable(index uint32) error { return nil }
func (s *fakeSubscriber) HandleWritable(index uint32) error { return s.writeErr }
func (s *fakeSubscriber) CloseIndex(index uint32) error {
	s.closedIndexes = append(s.closedIndexes, index)
	return nil
}
func (s *fakeSubscriber) ProcessTimeout()                   {}
func (s *fakeSubscriber) NextTimeoutMillis() (int64, bool)  { return 0, false }
func (s *fakeSubscriber) OnSubscriptionComplete(fn func(peer NodeID)) { s.onSubComplete = fn }
func (s *fakeSubscriber) SendControl(peer NodeID, localNode NodeID, name string) error {
	s.sentControl = append(s.sentControl, controlFrame{node: localNode, name: name})
	s.sentTo = append(s.sentTo, peer)
	return nil
}
func (s *fakeSubscriber) OnInvocationPacket(fn func(payload []byte)) { s.onPacket = fn }
func (s *fakeSubscriber) Close() error                               { return nil }

// newTestEngine builds an Engine wired to the fakes above via
// SetupFull, resetting the process-wide singleton first so package
// tests can call this repeatedly.
func newTestEngine(nodeID NodeID) (*Engine, *fakePublisher, *fakeSubscriber) {
	resetEngineForTests()
	pub := newFakePublisher()
	sub := newFakeSubscriber()
	cfg := DefaultConfig()
	cfg.NodeID = nodeID
	e, err := SetupFull(cfg, pub, sub, &fakePollAdapter{}, noopLogger{}, nil)
	if err != nil {
		panic(err)
	}
	return e, pub, sub
}
