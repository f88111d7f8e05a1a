package scheduler

import (
	"bytes"
	"testing"
	"time"

	"github.com/meshwire/cuttlefish/internal/concurrency"
	"github.com/meshwire/cuttlefish/network"
	"github.com/meshwire/cuttlefish/orchestrator"
	"github.com/meshwire/cuttlefish/socket"
)

type fakeChannel struct{ id byte }

func (f fakeChannel) ID() byte { return f.id }
func (f fakeChannel) Process(data []byte, meta network.Meta) ([]byte, network.Meta, bool) {
	return data, meta, true
}

// fakeClock is a concurrency.Clock stub returning a fixed timestamp, so
// tests can assert on the exact value downlink stamps into meta without
// racing the wall clock.
type fakeClock struct{ nanos int64 }

func (c fakeClock) NowNanos() int64 { return c.nanos }

func TestScheduler_SynchronousUplinkSendsQueuedPacket(t *testing.T) {
	orch := orchestrator.New(16, 16)
	orch.AddChannels(fakeChannel{id: 1})
	orch.Start()
	defer orch.Close()

	s := New(orch, concurrency.NewScheduler())
	a, b := socket.NewLoopbackPair()
	defer a.Close()
	defer b.Close()
	s.Socket = a

	if _, err := s.SetConnectionParameters(1, Options{Mode: Synchronous}); err != nil {
		t.Fatalf("set connection parameters: %v", err)
	}

	if err := orch.SendPacket(1, []byte("payload")); err != nil {
		t.Fatalf("send packet: %v", err)
	}

	if ok := s.uplink(1, Options{}); !ok {
		t.Fatalf("expected uplink to transmit the queued packet")
	}

	got, err := b.Recv(64)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got[0] != 1 || !bytes.Equal(got[1:], []byte("payload")) {
		t.Fatalf("unexpected wire bytes: %v", got)
	}
}

func TestScheduler_SynchronousUplinkNoPacketReturnsFalse(t *testing.T) {
	orch := orchestrator.New(16, 16)
	orch.AddChannels(fakeChannel{id: 1})
	orch.Start()
	defer orch.Close()

	s := New(orch, concurrency.NewScheduler())
	a, b := socket.NewLoopbackPair()
	defer a.Close()
	defer b.Close()
	s.Socket = a

	if ok := s.uplink(1, Options{}); ok {
		t.Fatalf("expected uplink with nothing queued to return false")
	}
}

func TestScheduler_DownlinkDemultiplexesByLeadingChannelByte(t *testing.T) {
	orch := orchestrator.New(16, 16)
	orch.AddChannels(fakeChannel{id: 2})
	orch.Start()
	defer orch.Close()

	s := New(orch, concurrency.NewScheduler())
	a, b := socket.NewLoopbackPair()
	defer a.Close()
	defer b.Close()
	s.Socket = b

	if err := a.Send(append([]byte{2}, []byte("hello")...)); err != nil {
		t.Fatalf("send: %v", err)
	}

	matched := s.downlink(2, Options{})
	if !matched {
		t.Fatalf("expected downlink to report a match for channel 2")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if payload, _ := orch.Retrieve(2); payload != nil {
			if !bytes.Equal(payload, []byte("hello")) {
				t.Fatalf("unexpected payload: %q", payload)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected a processed packet on channel 2")
}

func TestScheduler_DownlinkMismatchedChannelReturnsFalse(t *testing.T) {
	orch := orchestrator.New(16, 16)
	orch.AddChannels(fakeChannel{id: 2}, fakeChannel{id: 9})
	orch.Start()
	defer orch.Close()

	s := New(orch, concurrency.NewScheduler())
	a, b := socket.NewLoopbackPair()
	defer a.Close()
	defer b.Close()
	s.Socket = b

	if err := a.Send(append([]byte{9}, []byte("hi")...)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if matched := s.downlink(2, Options{}); matched {
		t.Fatalf("expected downlink demultiplexing to channel 9 to not match channel 2")
	}
}

func TestScheduler_DownlinkStampsTimeRecvFromInjectedClock(t *testing.T) {
	orch := orchestrator.New(16, 16)
	orch.AddChannels(fakeChannel{id: 4})
	orch.Start()
	defer orch.Close()

	s := New(orch, concurrency.NewScheduler())
	s.Clock = fakeClock{nanos: 987654321}
	a, b := socket.NewLoopbackPair()
	defer a.Close()
	defer b.Close()
	s.Socket = b

	if err := a.Send(append([]byte{4}, []byte("stamped")...)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if matched := s.downlink(4, Options{}); !matched {
		t.Fatalf("expected downlink to report a match for channel 4")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if payload, meta := orch.Retrieve(4); payload != nil {
			if meta["time_recv"] != int64(987654321) {
				t.Fatalf("expected time_recv stamped from the injected Clock, got %v", meta["time_recv"])
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected a processed packet on channel 4")
}

func TestScheduler_StartRequiresSocketAndChannels(t *testing.T) {
	orch := orchestrator.New(16, 16)
	s := New(orch, concurrency.NewScheduler())

	if err := s.Start(); err == nil {
		t.Fatalf("expected error starting with no socket configured")
	}

	a, _ := socket.NewLoopbackPair()
	defer a.Close()
	s.Socket = a
	if err := s.Start(); err == nil {
		t.Fatalf("expected error starting with no channels configured")
	}
}

func TestScheduler_AsynchronousStartRunsPeriodicUplink(t *testing.T) {
	orch := orchestrator.New(16, 16)
	orch.AddChannels(fakeChannel{id: 3})
	orch.Start()
	defer orch.Close()

	timer := concurrency.NewScheduler()
	defer timer.Close()
	s := New(orch, timer)
	a, b := socket.NewLoopbackPair()
	defer a.Close()
	defer b.Close()
	s.Socket = a

	if _, err := s.SetConnectionParameters(3, Options{
		Mode:                   Asynchronous,
		UplinkInterval:         10 * time.Millisecond,
		DownlinkInterval:       10 * time.Millisecond,
		UplinkDownlinkInterval: time.Millisecond,
	}); err != nil {
		t.Fatalf("set connection parameters: %v", err)
	}

	if err := orch.SendPacket(3, []byte("tick")); err != nil {
		t.Fatalf("send packet: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got, err := b.Recv(64); err == nil && len(got) > 0 {
			if got[0] == 3 && bytes.Equal(got[1:], []byte("tick")) {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected the periodic uplink timer to eventually transmit the queued packet")
}
