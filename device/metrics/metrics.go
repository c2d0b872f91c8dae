// Package metrics exposes a connection's counters as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kabili207/inav-msp-go/device/fc"
	"github.com/kabili207/inav-msp-go/transport"
)

// Source supplies counter snapshots. *fc.Client satisfies it.
type Source interface {
	Stats() fc.Stats
}

// Config names the exported metrics.
type Config struct {
	// Namespace prefixes every metric name. Default: "msp".
	Namespace string
	// Device is the value of the "device" label, typically the port or
	// broker topic the connection uses.
	Device string
	// LinkDrops, when set, reports messages the link discarded before the
	// client read them. The MQTT link supplies this.
	LinkDrops func() uint64
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(fc.Stats) uint64
}

// Collector reports a Source's counters on every scrape.
type Collector struct {
	src      Source
	device   string
	state    *prometheus.Desc
	counters []counterDesc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for src.
func NewCollector(src Source, cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "msp"
	}
	labels := []string{"device"}
	counter := func(sub, name, help string, value func(fc.Stats) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(cfg.Namespace, sub, name), help, labels, nil),
			value: value,
		}
	}

	c := &Collector{
		src:    src,
		device: cfg.Device,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(cfg.Namespace, "", "connection_state"),
			"Connection lifecycle state, one series per state set to 1 when current.",
			[]string{"device", "state"}, nil,
		),
		counters: []counterDesc{
			counter("link", "read_bytes_total", "Bytes read from the link.",
				func(s fc.Stats) uint64 { return s.Pump.BytesRead }),
			counter("link", "written_bytes_total", "Bytes written to the link.",
				func(s fc.Stats) uint64 { return s.Pump.BytesWritten }),
			counter("link", "read_timeouts_total", "Link reads that returned no data in time.",
				func(s fc.Stats) uint64 { return s.Pump.ReadTimeouts }),
			counter("link", "read_errors_total", "Non-timeout link read failures.",
				func(s fc.Stats) uint64 { return s.Pump.ReadErrors }),
			counter("link", "write_retries_total", "Writes retried after a transient failure.",
				func(s fc.Stats) uint64 { return s.Pump.WriteRetries }),
			counter("link", "write_errors_total", "Frames dropped after a fatal write failure.",
				func(s fc.Stats) uint64 { return s.Pump.WriteErrors }),
			counter("decoder", "frames_total", "Frames decoded from the link.",
				func(s fc.Stats) uint64 { return s.Pump.FramesDecoded }),
			counter("decoder", "checksum_errors_total", "Frames dropped for a bad checksum.",
				func(s fc.Stats) uint64 { return s.Pump.ChecksumErrors }),
			counter("decoder", "resyncs_total", "Forced decoder resets.",
				func(s fc.Stats) uint64 { return s.Pump.Resyncs }),
			counter("encoder", "frames_total", "Frames written to the link.",
				func(s fc.Stats) uint64 { return s.Pump.FramesWritten }),
			counter("router", "routed_total", "Replies delivered to a waiting mailbox.",
				func(s fc.Stats) uint64 { return s.Router.FramesRouted }),
			counter("router", "ignored_total", "Frames not sent by the device.",
				func(s fc.Stats) uint64 { return s.Router.FramesIgnored }),
			counter("router", "error_replies_total", "Commands rejected by the device.",
				func(s fc.Stats) uint64 { return s.Router.ErrorReplies }),
			counter("router", "unknown_commands_total", "Replies for commands with no handler.",
				func(s fc.Stats) uint64 { return s.Router.UnknownCommands }),
			counter("router", "decode_errors_total", "Replies with a malformed payload.",
				func(s fc.Stats) uint64 { return s.Router.DecodeErrors }),
			counter("router", "stale_replaced_total", "Unread replies overwritten by newer ones.",
				func(s fc.Stats) uint64 { return s.Router.StaleReplaced }),
			counter("dataflash", "sessions_total", "Dataflash sessions opened.",
				func(s fc.Stats) uint64 { return s.Session.SessionsOpened }),
			counter("dataflash", "chunk_requests_total", "Dataflash chunk requests sent.",
				func(s fc.Stats) uint64 { return s.Session.ChunkRequests }),
			counter("dataflash", "chunks_total", "Dataflash chunks accepted.",
				func(s fc.Stats) uint64 { return s.Session.ChunksReceived }),
			counter("dataflash", "stale_chunks_total", "Dataflash chunks discarded as already read.",
				func(s fc.Stats) uint64 { return s.Session.StaleChunks }),
			counter("dataflash", "chunk_timeouts_total", "Dataflash chunk waits that expired.",
				func(s fc.Stats) uint64 { return s.Session.ChunkTimeouts }),
			counter("dataflash", "bytes_total", "Dataflash bytes returned to readers.",
				func(s fc.Stats) uint64 { return s.Session.BytesStreamed }),
		},
	}
	if drops := cfg.LinkDrops; drops != nil {
		c.counters = append(c.counters, counter("link", "dropped_messages_total",
			"Inbound messages the link discarded because its buffer was full.",
			func(fc.Stats) uint64 { return drops() }))
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	for _, cd := range c.counters {
		ch <- cd.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Stats()

	for _, st := range []transport.State{
		transport.StateIdle,
		transport.StateConnected,
		transport.StateStopping,
		transport.StateStopped,
	} {
		v := 0.0
		if st == stats.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, c.device, st.String())
	}

	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(stats)), c.device)
	}
}
