// File: orchestrator/orchestrator.go
//
// Orchestrator is the single point where received bytes finish becoming
// decoded application data, and where fully-processed data is handed off
// to whatever is waiting to Receive it. One dedicated goroutine drains a
// bounded task queue; RECEIVED tasks run a channel's decode pipeline and,
// on success, requeue themselves as PROCESSED tasks so the original
// RECEIVED caller is never blocked on decode.
//
// Grounded on orchestrator/orchestrator.py's Orchestrator class. The
// _thread.allocate_lock-guarded dict-of-RingBuffer plus a single
// "director thread" busy-polling tasks.pop() becomes a single worker
// goroutine blocked on a notify channel (the same wake/notify idiom
// internal/concurrency.Scheduler already uses for its timer run loop),
// backed by internal/concurrency.RingBuffer for the bounded, drop-on-full
// task/send/processed queues — same overflow-drop behavior as the
// Python's `except RingBufferOverflow: pass`, without the busy loop.
// Orchestrator also implements api.Control, using control.ConfigStore/
// MetricsRegistry/DebugProbes to expose per-channel sent/received/
// processed/dropped counters and a channel-listing debug probe.
// processTask's meta["time_processed"] stamp goes through an injected
// internal/concurrency.Clock rather than a bare time.Now(), the same
// "inject a Clock trait" discipline internal/concurrency.Scheduler and
// scheduler.Scheduler follow.
package orchestrator

import (
	"fmt"
	"sync"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/control"
	"github.com/meshwire/cuttlefish/internal/concurrency"
	"github.com/meshwire/cuttlefish/network"
)

// TaskKind enumerates the two task kinds the orchestrate loop dispatches.
// Python's SEND=0 constant is never actually pushed through add_task (send
// packets flow straight from Channel.send to Orchestrator.send_packet, not
// through the task queue), so it has no Go counterpart here.
type TaskKind int

const (
	Received TaskKind = iota
	Processed
)

type task struct {
	channelID byte
	kind      TaskKind
	data      []byte
	meta      network.Meta
}

type processedItem struct {
	data []byte
	meta network.Meta
}

// ChannelProcessor is the subset of channel.Channel the orchestrator needs
// to finish decoding a received packet. A narrow interface here (rather
// than importing the channel package) avoids an import cycle — channel
// imports orchestrator, not the reverse.
type ChannelProcessor interface {
	ID() byte
	Process(data []byte, meta network.Meta) (payload []byte, outMeta network.Meta, ok bool)
}

var _ network.PacketSink = (*Orchestrator)(nil)
var _ api.Control = (*Orchestrator)(nil)

// Orchestrator dispatches RECEIVED/PROCESSED tasks on a single worker
// goroutine and brokers per-channel send/processed buffers. It also
// implements api.Control, wiring control.ConfigStore/MetricsRegistry/
// DebugProbes in as its configuration, live counters and introspection
// surface — the one node in SPEC_FULL.md every channel passes through,
// so it's the natural place for per-channel sent/received/processed/
// dropped counters to live.
type Orchestrator struct {
	tasks         *concurrency.RingBuffer[task]
	maxBufferSize uint64

	mu                sync.Mutex
	channels          map[byte]ChannelProcessor
	running           map[byte]bool
	processedCallback map[byte]func(data []byte, meta network.Meta)
	send              map[byte]*concurrency.RingBuffer[[]byte]
	processed         map[byte]*concurrency.RingBuffer[processedItem]

	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes

	// clock stamps meta["time_processed"] in processTask. Defaults to
	// concurrency.NewClock(); tests can substitute a fake Clock to assert
	// on exact timestamps without racing the wall clock.
	clock concurrency.Clock

	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// New constructs an Orchestrator. maxTaskBufferSize bounds the shared task
// queue; maxChannelBufferSize bounds each channel's send/processed queues.
func New(maxTaskBufferSize, maxChannelBufferSize uint64) *Orchestrator {
	o := &Orchestrator{
		tasks:             concurrency.NewRingBuffer[task](maxTaskBufferSize),
		maxBufferSize:     maxChannelBufferSize,
		channels:          make(map[byte]ChannelProcessor),
		running:           make(map[byte]bool),
		processedCallback: make(map[byte]func([]byte, network.Meta)),
		send:              make(map[byte]*concurrency.RingBuffer[[]byte]),
		processed:         make(map[byte]*concurrency.RingBuffer[processedItem]),
		config:            control.NewConfigStore(),
		metrics:           control.NewMetricsRegistry(),
		debug:             control.NewDebugProbes(),
		clock:             concurrency.NewClock(),
		notify:            make(chan struct{}, 1),
		stop:              make(chan struct{}),
	}
	control.RegisterPlatformProbes(o.debug)
	o.debug.RegisterProbe("orchestrator.channels", func() any {
		o.mu.Lock()
		defer o.mu.Unlock()
		ids := make([]byte, 0, len(o.channels))
		for id := range o.channels {
			ids = append(ids, id)
		}
		return ids
	})
	return o
}

// SetClock overrides the Clock used to stamp meta["time_processed"],
// letting tests substitute a fake Clock instead of racing the wall clock.
func (o *Orchestrator) SetClock(c concurrency.Clock) { o.clock = c }

// GetConfig implements api.Control.
func (o *Orchestrator) GetConfig() map[string]any { return o.config.GetSnapshot() }

// SetConfig implements api.Control. It merges cfg into this
// Orchestrator's own config store and also trips the process-wide
// control.TriggerHotReload signal, so a listener registered once via
// RegisterDebugProbe-style global wiring (control.RegisterReloadHook)
// hears about every Orchestrator's config pushes, not just this one's.
func (o *Orchestrator) SetConfig(cfg map[string]any) error {
	o.config.SetConfig(cfg)
	control.TriggerHotReload()
	return nil
}

// Stats implements api.Control, returning the live sent/received/
// processed/dropped counters recorded by SendPacket/AddTask/processTask.
func (o *Orchestrator) Stats() map[string]any { return o.metrics.GetSnapshot() }

// OnReload implements api.Control. fn is registered both against this
// Orchestrator's own config store and, via control.RegisterReloadHook,
// against every other Orchestrator's SetConfig in the process.
func (o *Orchestrator) OnReload(fn func()) {
	o.config.OnReload(fn)
	control.RegisterReloadHook(fn)
}

// RegisterDebugProbe implements api.Control.
func (o *Orchestrator) RegisterDebugProbe(name string, fn func() any) {
	o.debug.RegisterProbe(name, fn)
}

// DumpDebugState returns the output of every registered debug probe,
// including the per-channel ones channel.New registers through
// RegisterDebugProbe.
func (o *Orchestrator) DumpDebugState() map[string]any { return o.debug.DumpState() }

// bump increments a per-channel counter. control.MetricsRegistry guards
// its own map, so no Orchestrator-level locking is needed here.
func (o *Orchestrator) bump(channelID byte, counter string) {
	key := fmt.Sprintf("channel.%d.%s", channelID, counter)
	n, _ := o.metrics.GetSnapshot()[key].(uint64)
	o.metrics.Set(key, n+1)
}

// AddChannels registers channels with the orchestrator, allocating each a
// send and processed buffer. Mirrors add_channels.
func (o *Orchestrator) AddChannels(channels ...ChannelProcessor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range channels {
		id := ch.ID()
		o.channels[id] = ch
		o.running[id] = true
		o.send[id] = concurrency.NewRingBuffer[[]byte](o.maxBufferSize)
		o.processed[id] = concurrency.NewRingBuffer[processedItem](o.maxBufferSize)
	}
}

// SetProcessedCallback registers a callback invoked with every
// fully-processed payload for channelID, in addition to it being buffered
// for Retrieve.
func (o *Orchestrator) SetProcessedCallback(channelID byte, cb func(data []byte, meta network.Meta)) {
	o.mu.Lock()
	o.processedCallback[channelID] = cb
	o.mu.Unlock()
}

// SetRunning toggles whether channelID's tasks are processed at all,
// mirroring Orchestrator.running being checked at the top of process_task.
func (o *Orchestrator) SetRunning(channelID byte, running bool) {
	o.mu.Lock()
	o.running[channelID] = running
	o.mu.Unlock()
}

// Start launches the worker goroutine. Safe to call more than once; only
// the first call takes effect.
func (o *Orchestrator) Start() {
	o.once.Do(func() { go o.run() })
}

// Close stops the worker goroutine.
func (o *Orchestrator) Close() {
	close(o.stop)
}

// SendPacket implements network.PacketSink. It prefixes data with
// channelID (the physical link is shared and multiplexed by a leading
// channel-id byte, read back by the socket layer's downlink demux) and
// queues the framed packet for the scheduler's uplink to pop. Mirrors
// send_packet; a full send buffer silently drops the packet, matching
// Python's `except RingBufferOverflow: return 0`.
func (o *Orchestrator) SendPacket(channelID byte, data []byte) error {
	o.mu.Lock()
	buf, ok := o.send[channelID]
	o.mu.Unlock()
	if !ok {
		return api.NewError(api.ErrCodeOrchestratorDispatch, "channel not registered").WithContext("channel_id", channelID)
	}

	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, channelID)
	framed = append(framed, data...)

	if err := buf.Push(framed); err != nil {
		o.bump(channelID, "dropped")
		return nil // dropped: buffer full, not a caller error
	}
	o.bump(channelID, "sent")
	return nil
}

// GetPacket pops the next channel-id-prefixed packet queued for
// channelID, for the scheduler's uplink to hand to the socket. Mirrors
// get_packet.
func (o *Orchestrator) GetPacket(channelID byte) ([]byte, bool) {
	o.mu.Lock()
	buf, ok := o.send[channelID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, err := buf.Pop()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Retrieve implements network.PacketSink: pops the next fully-processed
// payload queued for channelID. Mirrors retrieve.
func (o *Orchestrator) Retrieve(channelID byte) ([]byte, network.Meta) {
	o.mu.Lock()
	buf, ok := o.processed[channelID]
	o.mu.Unlock()
	if !ok {
		return nil, network.Meta{}
	}
	item, err := buf.Pop()
	if err != nil {
		return nil, network.Meta{}
	}
	return item.data, item.meta
}

// AddTask enqueues a task for the worker goroutine. Mirrors add_task.
func (o *Orchestrator) AddTask(channelID byte, kind TaskKind, data []byte, meta network.Meta) error {
	err := o.tasks.Push(task{channelID: channelID, kind: kind, data: data, meta: meta})
	if err != nil {
		o.bump(channelID, "dropped")
		return nil // dropped: task buffer full, not a caller error
	}
	if kind == Received {
		o.bump(channelID, "received")
	}
	o.wake()
	return nil
}

func (o *Orchestrator) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) run() {
	for {
		t, err := o.tasks.Pop()
		if err == nil {
			o.processTask(t)
			continue
		}
		select {
		case <-o.notify:
		case <-o.stop:
			return
		}
	}
}

// processTask mirrors process_task: RECEIVED finishes decode through the
// owning channel and, on success, requeues as PROCESSED; PROCESSED
// buffers the payload for Retrieve and fires the registered callback.
func (o *Orchestrator) processTask(t task) {
	o.mu.Lock()
	running := o.running[t.channelID]
	ch := o.channels[t.channelID]
	o.mu.Unlock()

	if !running {
		return
	}

	switch t.kind {
	case Received:
		payload, meta, ok := ch.Process(t.data, t.meta)
		if meta == nil {
			meta = network.Meta{}
		}
		meta["time_processed"] = o.clock.NowNanos()
		if ok {
			o.AddTask(t.channelID, Processed, payload, meta)
		} else {
			o.bump(t.channelID, "decode_failed")
		}

	case Processed:
		o.mu.Lock()
		buf := o.processed[t.channelID]
		cb := o.processedCallback[t.channelID]
		o.mu.Unlock()

		if buf != nil {
			buf.Push(processedItem{data: t.data, meta: t.meta})
		}
		if cb != nil {
			cb(t.data, t.meta)
		}
		o.bump(t.channelID, "processed")
	}
}
