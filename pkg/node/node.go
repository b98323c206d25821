// Package node assembles one end of the intercom link from its parts and
// runs it.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/audio"
	"github.com/dbehnke/intercom-bridge/pkg/button"
	"github.com/dbehnke/intercom-bridge/pkg/call"
	"github.com/dbehnke/intercom-bridge/pkg/codec"
	"github.com/dbehnke/intercom-bridge/pkg/config"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/network"
	"github.com/dbehnke/intercom-bridge/pkg/ptt"
	"github.com/dbehnke/intercom-bridge/pkg/scheduler"
	"github.com/dbehnke/intercom-bridge/pkg/status"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options injects collaborators. Zero values select the defaults built
// from config.
type Options struct {
	Codec  codec.Codec
	Source audio.Source
	Sink   audio.Sink
	Conn   net.PacketConn

	// Pack only
	Battery      status.BatteryReader
	SleepManager status.SleepManager

	BootID string
}

// Node is one end of the link, base or pack
type Node struct {
	cfg    *config.Config
	log    *logger.Logger
	bootID string

	codec     codec.Codec
	transport *network.Transport
	ptt       *ptt.Machine
	call      *call.Machine
	buttons   *button.Queue
	tracker   *button.Tracker
	route     func(button.Event)
	sched     *scheduler.Scheduler

	battery  *status.BatteryMonitor
	idle     *status.IdleTracker
	agg      *status.Aggregator
	reporter *status.Reporter
}

// New builds a node. Codec or battery setup failures are returned.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Node, error) {
	n := &Node{
		cfg:    cfg,
		log:    log.WithComponent("node"),
		bootID: opts.BootID,
	}
	if n.bootID == "" {
		n.bootID = uuid.NewString()
	}

	n.codec = opts.Codec
	if n.codec == nil {
		c, err := codec.NewOpus(codec.Config{
			SampleRate: cfg.Audio.SampleRate,
			FrameMS:    cfg.Audio.FrameMS,
			Bitrate:    cfg.Audio.Bitrate,
			MaxPayload: cfg.Audio.MaxPayload,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create codec: %w", err)
		}
		n.codec = c
	}

	source := opts.Source
	if source == nil {
		source = newSource(cfg.Audio)
	}
	sink := opts.Sink
	if sink == nil {
		sink = &audio.LevelSink{}
	}

	// The base answers whoever reaches it; the pack dials a fixed address
	n.transport = network.New(network.Options{
		BindAddress:  cfg.Node.BindAddress,
		Port:         cfg.Node.Port,
		PeerAddress:  cfg.Node.PeerAddress,
		LearnPeer:    !cfg.IsPack(),
		MaxPayload:   cfg.Audio.MaxPayload,
		PollInterval: cfg.Node.PollInterval,
	}, log)
	if opts.Conn != nil {
		n.transport.WithConn(opts.Conn)
	}

	n.ptt = ptt.NewMachine(time.Duration(cfg.PTT.HoldThresholdMS) * time.Millisecond)
	n.call = call.NewMachine()
	n.buttons = button.NewQueue(cfg.PTT.QueueSize)
	n.tracker = button.NewTracker(n.buttons, time.Duration(cfg.PTT.HoldRepeatMS)*time.Millisecond)
	n.route = button.Route(n.ptt, n.call)

	n.sched = scheduler.New(scheduler.Config{
		FrameSize:        cfg.Audio.FrameSamples(),
		FrameDuration:    cfg.Audio.FrameDuration(),
		LimiterEnabled:   cfg.Audio.LimiterEnabled,
		LimiterThreshold: cfg.Audio.LimiterThreshold,
		SidetoneEnabled:  cfg.Audio.SidetoneEnabled,
		SidetoneLevel:    cfg.Audio.SidetoneLevel,
		MaxConceal:       cfg.Audio.MaxConceal,
	}, source, sink, n.codec, n.transport, n.ptt, n.call, log)

	if cfg.IsPack() {
		n.idle = status.NewIdleTracker(cfg.Status.LightSleep, cfg.Status.DeepSleep)
		if cfg.Battery.Enabled {
			reader := opts.Battery
			if reader == nil {
				reader = status.FixedBattery(cfg.Battery.FixedVolts)
			}
			n.battery = status.NewBatteryMonitor(reader, status.BatteryThresholds{
				Full:     cfg.Battery.FullVolts,
				Low:      cfg.Battery.LowVolts,
				Critical: cfg.Battery.CriticalVolts,
				Empty:    cfg.Battery.EmptyVolts,
			}, cfg.Battery.CheckInterval, log)
		}
	}

	n.agg = status.NewAggregator(status.Identity{
		Role:     cfg.Node.Role,
		DeviceID: cfg.Node.DeviceID,
		PairedID: cfg.Node.PairedID,
		BootID:   n.bootID,
	}, status.Providers{
		PTT:         n.ptt,
		Call:        n.call,
		Transport:   n.transport,
		Audio:       n.sched,
		ButtonDrops: n.buttons.Dropped,
		Battery:     n.battery,
		Idle:        n.idle,
	}, cfg.Status.LinkTimeout, cfg.Status.LossWarnPercent)

	n.reporter = status.NewReporter(n.agg, cfg.Status.Interval, log)
	n.reporter.AddSink(status.NewLogSink(log, cfg.Status.LossWarnPercent))
	if opts.SleepManager != nil && n.idle != nil {
		n.reporter.AddSink(status.NewSleepSink(opts.SleepManager))
	}

	n.wire()
	return n, nil
}

func newSource(cfg config.AudioConfig) audio.Source {
	if cfg.Source == "tone" {
		return audio.NewToneSource(cfg.SampleRate, cfg.ToneHz, cfg.ToneAmplitude)
	}
	return audio.SilenceSource{}
}

// wire connects state machine listeners and the receive path
func (n *Node) wire() {
	n.ptt.Subscribe(func(s ptt.State, tx bool) {
		n.touch()
		n.reporter.Notify(status.Event{
			Type:         status.EventPTT,
			PTT:          s.String(),
			Transmitting: tx,
			PacketsSent:  n.transport.Stats().PacketsSent,
		})
	})
	n.call.Subscribe(func(s call.State, calling bool) {
		n.touch()
		n.reporter.Notify(status.Event{
			Type:    status.EventCall,
			Call:    s.String(),
			Calling: calling,
		})
	})
	n.transport.OnReceive(func(rx network.Received) {
		n.touch()
		n.sched.HandleReceive(rx)
	})
}

func (n *Node) touch() {
	if n.idle != nil {
		n.idle.Touch()
	}
}

func (n *Node) handleButton(ev button.Event) {
	n.touch()
	n.route(ev)
}

// Run starts the transport, transmit cycle, button task and reporter and
// blocks until ctx is cancelled or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	n.log.Info("Starting node",
		logger.String("role", n.cfg.Node.Role),
		logger.Int("device_id", n.cfg.Node.DeviceID),
		logger.String("boot_id", n.bootID))

	g.Go(func() error { return n.transport.Start(gctx) })
	g.Go(func() error {
		select {
		case <-n.transport.Ready():
		case <-gctx.Done():
			return gctx.Err()
		}
		return n.sched.Run(gctx)
	})
	g.Go(func() error { return n.buttons.Run(gctx, n.handleButton) })
	g.Go(func() error { return n.tracker.Run(gctx) })
	g.Go(func() error { return n.reporter.Run(gctx) })
	if n.battery != nil {
		g.Go(func() error { return n.battery.Run(gctx) })
	}

	err := g.Wait()
	n.log.Info("Node stopped", logger.String("role", n.cfg.Node.Role))
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Ready returns a channel closed once the socket is bound
func (n *Node) Ready() <-chan struct{} { return n.transport.Ready() }

// LocalAddr returns the bound UDP address, or nil before Run
func (n *Node) LocalAddr() net.Addr { return n.transport.LocalAddr() }

// Role returns the configured role
func (n *Node) Role() string { return n.cfg.Node.Role }

// BootID identifies this run of the node
func (n *Node) BootID() string { return n.bootID }

// AddSink registers a status sink. Call before Run.
func (n *Node) AddSink(s status.Sink) { n.reporter.AddSink(s) }

// SubmitButtonEvent queues a debounced button event. It returns false when
// the queue is full and the event was dropped.
func (n *Node) SubmitButtonEvent(ev button.Event) bool {
	return n.buttons.Submit(ev)
}

// Press records a raw press edge; holds are re-reported while it lasts
func (n *Node) Press(b button.Button) bool { return n.tracker.Press(b) }

// Release records a raw release edge
func (n *Node) Release(b button.Button) bool { return n.tracker.Release(b) }

// SetButton applies an edge given as a boolean
func (n *Node) SetButton(b button.Button, pressed bool) bool { return n.tracker.Set(b, pressed) }

// ButtonHeld reports whether b is currently down
func (n *Node) ButtonHeld(b button.Button) bool { return n.tracker.Held(b) }

// IsTransmitting reports whether local audio is being sent
func (n *Node) IsTransmitting() bool { return n.ptt.IsTransmitting() }

// PTTState returns the current PTT state
func (n *Node) PTTState() ptt.State { return n.ptt.State() }

// CallState returns the current call state
func (n *Node) CallState() call.State { return n.call.State() }

// TransportStats returns a consistent copy of the transport counters
func (n *Node) TransportStats() network.Stats { return n.transport.Stats() }

// AudioStats returns the scheduler counters
func (n *Node) AudioStats() scheduler.Stats { return n.sched.Stats() }

// ResetStats zeroes transport and scheduler counters
func (n *Node) ResetStats() {
	n.transport.ResetStats()
	n.sched.ResetStats()
}

// SubscribePTT registers a listener for PTT changes
func (n *Node) SubscribePTT(l ptt.Listener) { n.ptt.Subscribe(l) }

// SubscribeCall registers a listener for call changes
func (n *Node) SubscribeCall(l call.Listener) { n.call.Subscribe(l) }

// Snapshot returns the current status
func (n *Node) Snapshot() status.Snapshot { return n.agg.Snapshot() }

// PublishStatus pushes a snapshot to every sink now
func (n *Node) PublishStatus() status.Snapshot { return n.reporter.Publish() }
