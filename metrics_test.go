package dstc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsTrackBusyAndPeerCount(t *testing.T) {
	resetEngineForTests()
	defer resetEngineForTests()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	pub := newFakePublisher()
	sub := newFakeSubscriber()
	cfg := DefaultConfig()
	e, err := SetupFull(cfg, pub, sub, &fakePollAdapter{}, noopLogger{}, metrics)
	if err != nil {
		t.Fatalf("SetupFull: %v", err)
	}

	pub.suspended = true
	e.Buffered(true)
	args := make([]byte, 32)
	for i := 0; i < 10000; i++ {
		if err := e.QueueFunc("f", args); err == ErrBusy {
			break
		}
	}
	if got := testutil.ToFloat64(metrics.busyTotal); got == 0 {
		t.Fatal("expected busyTotal to have observed at least one back-pressure event")
	}

	e.onControlMessage(NodeID(1), "foo")
	e.onControlMessage(NodeID(2), "foo")
	e.onSubscriberDisconnect(NodeID(1))
	if got := testutil.ToFloat64(metrics.peerCount); got != 1 {
		t.Fatalf("peerCount = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.advertiseTotal); got != 2 {
		t.Fatalf("advertiseTotal = %v, want 2", got)
	}
}
