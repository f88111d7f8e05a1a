// File: scheduler/scheduler.go
//
// Scheduler drives when packets actually hit the wire: it owns the
// Socket, resolves each channel's configured Mode into concrete
// uplink/downlink behavior, and (for asynchronous mode) keeps its own
// periodic timers running via api.Scheduler.
//
// Grounded on scheduler/scheduler.py's Scheduler class and its
// module-level uplink/downlink functions. Timer.Alarm(periodic=True)
// becomes a self-rescheduling api.Scheduler callback
// (internal/concurrency.Scheduler); _thread.allocate_lock-guarded state
// becomes a sync.Mutex. downlink's meta["time_recv"] stamp goes through
// the injected Clock field rather than a bare time.Now(), the same
// "inject a Clock trait" discipline internal/concurrency.Scheduler
// already follows for its own run loop.
package scheduler

import (
	"sync"
	"time"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/internal/concurrency"
	"github.com/meshwire/cuttlefish/network"
	"github.com/meshwire/cuttlefish/orchestrator"
	"github.com/meshwire/cuttlefish/socket"
)

var _ network.ConnectionScheduler = (*Scheduler)(nil)

type channelState struct {
	opts    Options
	cancels []api.Cancelable
}

// Scheduler manages uplink/downlink timing for every channel sharing one
// physical Socket. Exactly one Scheduler exists per socket, mirroring the
// Python docstring's "exactly one Scheduler object instantiated during
// runtime".
type Scheduler struct {
	Orchestrator *orchestrator.Orchestrator
	Timer        api.Scheduler
	Socket       socket.Socket

	// Clock stamps meta["time_recv"] in downlink. Defaults to
	// concurrency.NewClock() (the platform's monotonic clock) so
	// production callers need not set it; tests can substitute a fake
	// Clock to assert on exact timestamps without racing the wall clock.
	Clock concurrency.Clock

	mu       sync.Mutex
	channels map[byte]*channelState
}

// New constructs a Scheduler. timer drives asynchronous-mode periodic
// alarms; implicitly-synchronous receive windows poll on the calling
// goroutine instead.
func New(orch *orchestrator.Orchestrator, timer api.Scheduler) *Scheduler {
	return &Scheduler{
		Orchestrator: orch,
		Timer:        timer,
		Clock:        concurrency.NewClock(),
		channels:     make(map[byte]*channelState),
	}
}

// SetConnectionParameters implements network.ConnectionScheduler. rawOpts
// must be a scheduler.Options value; it is typed `any` only to satisfy
// the narrow ConnectionScheduler interface network declares to avoid an
// import cycle. Mirrors set_connection_parameters, including its
// synchronous-family modes returning their immediate_send/immediate_recv
// pair straight away rather than waiting for Start.
func (s *Scheduler) SetConnectionParameters(channelID byte, rawOpts any) (network.ImmediateTransmit, error) {
	opts, ok := rawOpts.(Options)
	if !ok {
		return network.ImmediateTransmit{}, api.NewError(api.ErrCodeSchedulerConfiguration, "scheduler requires scheduler.Options")
	}

	s.mu.Lock()
	s.channels[channelID] = &channelState{opts: opts}
	s.mu.Unlock()

	switch opts.Mode {
	case Synchronous:
		return s.synchronousSchedule(channelID, opts), nil
	case ImplicitSynchronous:
		return s.implicitSynchronousSchedule(channelID, opts), nil
	case ImplicitSynchronousGateway:
		return s.implicitSynchronousGatewaySchedule(channelID, opts), nil
	case Asynchronous:
		return network.ImmediateTransmit{}, nil
	default:
		return network.ImmediateTransmit{}, api.NewError(api.ErrCodeSchedulerConfiguration, "unknown schedule mode")
	}
}

// Start begins asynchronous-mode periodic uplink/downlink timers for
// every channel configured with Mode == Asynchronous. Mirrors
// Scheduler.start iterating channels and invoking only
// ASYNCHRONOUS_SIMPLE callbacks.
func (s *Scheduler) Start() error {
	if s.Socket == nil {
		return api.NewError(api.ErrCodeSchedulerConfiguration, "connection not initialized by channel")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.channels) == 0 {
		return api.NewError(api.ErrCodeSchedulerConfiguration, "connection not initialized by channel")
	}

	for channelID, st := range s.channels {
		if st.opts.Mode != Asynchronous {
			continue
		}
		s.scheduleAsyncUplink(channelID, st)
		time.Sleep(st.opts.UplinkDownlinkInterval)
		s.scheduleAsyncDownlink(channelID, st)
	}
	return nil
}

func (s *Scheduler) scheduleAsyncUplink(channelID byte, st *channelState) {
	var tick func()
	tick = func() {
		s.uplink(channelID, st.opts)
		if c, err := s.Timer.Schedule(st.opts.UplinkInterval.Nanoseconds(), tick); err == nil {
			s.mu.Lock()
			st.cancels = append(st.cancels, c)
			s.mu.Unlock()
		}
	}
	if c, err := s.Timer.Schedule(st.opts.UplinkInterval.Nanoseconds(), tick); err == nil {
		st.cancels = append(st.cancels, c)
	}
}

func (s *Scheduler) scheduleAsyncDownlink(channelID byte, st *channelState) {
	var tick func()
	tick = func() {
		s.downlink(channelID, st.opts)
		if c, err := s.Timer.Schedule(st.opts.DownlinkInterval.Nanoseconds(), tick); err == nil {
			s.mu.Lock()
			st.cancels = append(st.cancels, c)
			s.mu.Unlock()
		}
	}
	if c, err := s.Timer.Schedule(st.opts.DownlinkInterval.Nanoseconds(), tick); err == nil {
		st.cancels = append(st.cancels, c)
	}
}

// Stop cancels every channel's pending asynchronous-mode timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.channels {
		for _, c := range st.cancels {
			c.Cancel()
		}
		st.cancels = nil
	}
}

// GetPacket returns the next packet queued for channelID, for a mode's
// uplink to hand to the Socket. Mirrors Scheduler.get_packet.
func (s *Scheduler) GetPacket(channelID byte) ([]byte, bool) {
	return s.Orchestrator.GetPacket(channelID)
}

// SubmitReceivedBytes enqueues received bytes as a RECEIVED task. Mirrors
// submit_received_bytes.
func (s *Scheduler) SubmitReceivedBytes(channelID byte, data []byte, meta network.Meta) {
	s.Orchestrator.AddTask(channelID, orchestrator.Received, data, meta)
}

// uplink pops the next queued packet for channelID and transmits it.
// Mirrors the module-level uplink function, with channelID always an
// explicit parameter (see Open Question 2 in modes.go's doc comment).
func (s *Scheduler) uplink(channelID byte, opts Options) bool {
	data, ok := s.GetPacket(channelID)
	if !ok {
		return false
	}

	s.Socket.SetBlocking(true)
	err := s.Socket.Send(data)
	s.Socket.SetBlocking(false)
	if err != nil {
		return false
	}

	if opts.SentCallback != nil {
		opts.SentCallback(data)
	}
	return true
}

// downlink drains whatever is currently available from the Socket,
// demultiplexes the leading channel-id byte (see orchestrator.go's
// SendPacket framing), and submits the remainder as a received task.
// Returns whether the received packet belonged to channelID. Mirrors the
// module-level downlink function.
func (s *Scheduler) downlink(channelID byte, opts Options) bool {
	var data []byte

	s.Socket.SetBlocking(false)
	for {
		chunk, err := s.Socket.Recv(opts.bufferSize())
		if err != nil || len(chunk) == 0 {
			break
		}
		data = append(data, chunk...)
	}

	if len(data) == 0 {
		return false
	}

	receivedChannelID := data[0]
	meta := network.Meta{"time_recv": s.Clock.NowNanos()}
	s.SubmitReceivedBytes(receivedChannelID, data[1:], meta)

	if opts.RecvCallback != nil {
		opts.RecvCallback(data)
	}

	return receivedChannelID == channelID
}
