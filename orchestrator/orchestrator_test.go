package orchestrator

import (
	"testing"
	"time"

	"github.com/meshwire/cuttlefish/network"
)

// fakeChannel is a minimal ChannelProcessor: it strips one leading marker
// byte on Process, standing in for a real channel.Channel's decode
// pipeline.
type fakeChannel struct {
	id byte
}

func (f fakeChannel) ID() byte { return f.id }
func (f fakeChannel) Process(data []byte, meta network.Meta) ([]byte, network.Meta, bool) {
	if len(data) == 0 || data[0] != 0xAA {
		return nil, meta, false
	}
	return data[1:], meta, true
}

func TestOrchestrator_SendPacketFramesAndCountsSent(t *testing.T) {
	o := New(16, 16)
	o.AddChannels(fakeChannel{id: 5})

	if err := o.SendPacket(5, []byte("hello")); err != nil {
		t.Fatalf("send packet: %v", err)
	}

	framed, ok := o.GetPacket(5)
	if !ok {
		t.Fatalf("expected a queued packet")
	}
	if framed[0] != 5 || string(framed[1:]) != "hello" {
		t.Fatalf("unexpected framing: %v", framed)
	}
	if n, _ := o.Stats()["channel.5.sent"].(uint64); n != 1 {
		t.Fatalf("expected channel.5.sent=1, got %v", o.Stats()["channel.5.sent"])
	}
}

func TestOrchestrator_SendPacketUnregisteredChannelErrors(t *testing.T) {
	o := New(16, 16)
	if err := o.SendPacket(9, []byte("x")); err == nil {
		t.Fatalf("expected error for unregistered channel")
	}
}

func TestOrchestrator_ReceivedTaskFlowsToProcessedAndCallback(t *testing.T) {
	o := New(16, 16)
	o.AddChannels(fakeChannel{id: 1})

	var gotPayload []byte
	done := make(chan struct{}, 1)
	o.SetProcessedCallback(1, func(data []byte, meta network.Meta) {
		gotPayload = data
		done <- struct{}{}
	})
	o.Start()
	defer o.Close()

	if err := o.AddTask(1, Received, []byte{0xAA, 'h', 'i'}, network.Meta{}); err != nil {
		t.Fatalf("add task: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for processed callback")
	}

	if string(gotPayload) != "hi" {
		t.Fatalf("expected payload %q, got %q", "hi", gotPayload)
	}

	payload, meta := o.Retrieve(1)
	if string(payload) != "hi" {
		t.Fatalf("expected retrievable payload %q, got %q", "hi", payload)
	}
	if _, ok := meta["time_processed"]; !ok {
		t.Fatalf("expected time_processed to be stamped in meta")
	}
	if n, _ := o.Stats()["channel.1.processed"].(uint64); n != 1 {
		t.Fatalf("expected channel.1.processed=1, got %v", o.Stats()["channel.1.processed"])
	}
}

func TestOrchestrator_DecodeFailureIsCounted(t *testing.T) {
	o := New(16, 16)
	o.AddChannels(fakeChannel{id: 2})
	o.Start()
	defer o.Close()

	if err := o.AddTask(2, Received, []byte{0x00, 'b', 'a', 'd'}, network.Meta{}); err != nil {
		t.Fatalf("add task: %v", err)
	}

	// decode_failed is bumped synchronously inside processTask, but the
	// worker goroutine runs it asynchronously; poll briefly for it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := o.Stats()["channel.2.decode_failed"].(uint64); n == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected channel.2.decode_failed=1, got %v", o.Stats()["channel.2.decode_failed"])
}

func TestOrchestrator_NotRunningChannelSkipsTask(t *testing.T) {
	o := New(16, 16)
	o.AddChannels(fakeChannel{id: 3})
	o.SetRunning(3, false)
	o.Start()
	defer o.Close()

	if err := o.AddTask(3, Received, []byte{0xAA, 'x'}, network.Meta{}); err != nil {
		t.Fatalf("add task: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if payload, _ := o.Retrieve(3); payload != nil {
		t.Fatalf("expected no processed output while channel is not running")
	}
}

func TestOrchestrator_DebugProbesExposeChannelList(t *testing.T) {
	o := New(16, 16)
	o.AddChannels(fakeChannel{id: 7})

	state := o.DumpDebugState()
	ids, ok := state["orchestrator.channels"].([]byte)
	if !ok || len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("expected orchestrator.channels to list [7], got %v", state["orchestrator.channels"])
	}
}

// fakeClock is a concurrency.Clock stub returning a fixed timestamp.
type fakeClock struct{ nanos int64 }

func (c fakeClock) NowNanos() int64 { return c.nanos }

func TestOrchestrator_ProcessTaskStampsTimeProcessedFromInjectedClock(t *testing.T) {
	o := New(16, 16)
	o.AddChannels(fakeChannel{id: 6})
	o.SetClock(fakeClock{nanos: 42})
	o.Start()
	defer o.Close()

	if err := o.AddTask(6, Received, []byte{0xAA, 'y'}, network.Meta{}); err != nil {
		t.Fatalf("add task: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if payload, meta := o.Retrieve(6); payload != nil {
			if meta["time_processed"] != int64(42) {
				t.Fatalf("expected time_processed stamped from the injected Clock, got %v", meta["time_processed"])
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected a processed packet on channel 6")
}

func TestOrchestrator_SetConfigFiresInstanceReloadListener(t *testing.T) {
	o := New(16, 16)

	done := make(chan struct{})
	o.OnReload(func() { close(done) })

	if err := o.SetConfig(map[string]any{"uplink_interval_ms": 500}); err != nil {
		t.Fatalf("set config: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for this orchestrator's reload listener")
	}

	if v := o.GetConfig()["uplink_interval_ms"]; v != 500 {
		t.Fatalf("expected config to be merged, got %v", v)
	}
}
