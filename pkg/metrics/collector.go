package metrics

import (
	"sync"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "intercom"

// Collector mirrors status snapshots and events into a private Prometheus
// registry. It implements status.Sink.
type Collector struct {
	registry *prometheus.Registry

	// Link
	linkUp      prometheus.Gauge
	signalGood  prometheus.Gauge
	lossPercent prometheus.Gauge
	uptime      prometheus.Gauge

	// Transport, mirrored from cumulative counters that can be reset
	packets *prometheus.GaugeVec
	bytes   *prometheus.GaugeVec

	// Audio
	frames      *prometheus.GaugeVec
	audioErrors *prometheus.GaugeVec
	inputLevel  prometheus.Gauge
	outputLevel prometheus.Gauge

	// State
	transmitting prometheus.Gauge
	calling      prometheus.Gauge
	beingCalled  prometheus.Gauge
	remotePTT    prometheus.Gauge
	buttonDrops  prometheus.Gauge
	battery      prometheus.Gauge

	pttTransitions  *prometheus.CounterVec
	callTransitions *prometheus.CounterVec
	burstDuration   prometheus.Histogram

	mu       sync.Mutex
	keyedAt  time.Time
	snapshot status.Snapshot
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		linkUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "link_up",
			Help: "1 when audio has been received within the link timeout",
		}),
		signalGood: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "signal_good",
			Help: "1 when packet loss is below the warning threshold",
		}),
		lossPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "packet_loss_percent",
			Help: "Estimated packet loss since the last stats reset",
		}),
		uptime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "uptime_seconds",
			Help: "Seconds since the node started",
		}),
		packets: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "packets",
			Help: "Transport packet counters since the last stats reset",
		}, []string{"kind"}),
		bytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "bytes",
			Help: "Transport byte counters since the last stats reset",
		}, []string{"direction"}),
		frames: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "audio_frames",
			Help: "Audio frame counters by pipeline stage",
		}, []string{"stage"}),
		audioErrors: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "audio_errors",
			Help: "Audio pipeline error counters by stage",
		}, []string{"stage"}),
		inputLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "audio_input_level",
			Help: "RMS of the last captured frame, 0..1",
		}),
		outputLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "audio_output_level",
			Help: "RMS of the last played frame, 0..1",
		}),
		transmitting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transmitting",
			Help: "1 while the local PTT is keyed",
		}),
		calling: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "calling",
			Help: "1 while the local call button is held",
		}),
		beingCalled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "being_called",
			Help: "1 while the peer signals a call",
		}),
		remotePTT: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "remote_ptt",
			Help: "PTT flag of the last received packet",
		}),
		buttonDrops: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "button_events_dropped",
			Help: "Button events dropped because the queue was full",
		}),
		battery: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "battery_percent",
			Help: "Battery charge estimate",
		}),
		pttTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ptt_transitions_total",
			Help: "PTT state changes by new state",
		}, []string{"state"}),
		callTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "call_transitions_total",
			Help: "Call state changes by new state",
		}, []string{"state"}),
		burstDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "talk_burst_seconds",
			Help:    "Duration of local talk bursts",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// PublishSnapshot implements status.Sink
func (c *Collector) PublishSnapshot(s status.Snapshot) {
	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()

	c.linkUp.Set(boolToFloat(s.Link == status.LinkConnected))
	c.signalGood.Set(boolToFloat(s.Signal == status.SignalGood))
	c.lossPercent.Set(s.Transport.LossPercent)
	c.uptime.Set(s.Uptime.Seconds())

	t := s.Transport
	c.packets.WithLabelValues("sent").Set(float64(t.PacketsSent))
	c.packets.WithLabelValues("received").Set(float64(t.PacketsReceived))
	c.packets.WithLabelValues("lost").Set(float64(t.PacketsLost))
	c.packets.WithLabelValues("malformed").Set(float64(t.PacketsMalformed))
	c.packets.WithLabelValues("send_error").Set(float64(t.SendErrors))
	c.bytes.WithLabelValues("tx").Set(float64(t.BytesSent))
	c.bytes.WithLabelValues("rx").Set(float64(t.BytesReceived))

	a := s.Audio
	c.frames.WithLabelValues("captured").Set(float64(a.FramesCaptured))
	c.frames.WithLabelValues("encoded").Set(float64(a.FramesEncoded))
	c.frames.WithLabelValues("sent").Set(float64(a.FramesSent))
	c.frames.WithLabelValues("decoded").Set(float64(a.FramesDecoded))
	c.frames.WithLabelValues("concealed").Set(float64(a.FramesConcealed))
	c.frames.WithLabelValues("played").Set(float64(a.FramesPlayed))
	c.audioErrors.WithLabelValues("capture").Set(float64(a.CaptureErrors))
	c.audioErrors.WithLabelValues("encode").Set(float64(a.EncodeErrors))
	c.audioErrors.WithLabelValues("send").Set(float64(a.SendErrors))
	c.audioErrors.WithLabelValues("decode").Set(float64(a.DecodeErrors))
	c.audioErrors.WithLabelValues("playback").Set(float64(a.PlaybackErrors))
	c.inputLevel.Set(a.InputLevel)
	c.outputLevel.Set(a.OutputLevel)

	c.transmitting.Set(boolToFloat(s.Transmitting))
	c.calling.Set(boolToFloat(s.Calling))
	c.beingCalled.Set(boolToFloat(s.BeingCalled))
	c.remotePTT.Set(boolToFloat(s.RemotePTT))
	c.buttonDrops.Set(float64(s.ButtonDrops))
	if s.Battery != nil {
		c.battery.Set(float64(s.Battery.Percent))
	}
}

// PublishEvent implements status.Sink
func (c *Collector) PublishEvent(ev status.Event) {
	switch ev.Type {
	case status.EventPTT:
		c.pttTransitions.WithLabelValues(ev.PTT).Inc()
		c.transmitting.Set(boolToFloat(ev.Transmitting))
		c.trackBurst(ev)
	case status.EventCall:
		c.callTransitions.WithLabelValues(ev.Call).Inc()
		c.calling.Set(boolToFloat(ev.Calling))
	}
}

func (c *Collector) trackBurst(ev status.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case ev.Transmitting && c.keyedAt.IsZero():
		c.keyedAt = ev.Time
	case !ev.Transmitting && !c.keyedAt.IsZero():
		c.burstDuration.Observe(ev.Time.Sub(c.keyedAt).Seconds())
		c.keyedAt = time.Time{}
	}
}

// LastSnapshot returns the last snapshot the collector saw
func (c *Collector) LastSnapshot() status.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
