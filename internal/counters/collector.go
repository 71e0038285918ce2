// Package counters implements spec.md §4.9's per-module counter structs
// and dump operation, backed by Prometheus client_golang the way the rest
// of this codebase exposes telemetry.
package counters

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Transport holds the C4 transport layer's tx/rx counters.
type Transport struct {
	TxMessages atomic.Uint64
	RxMessages atomic.Uint64
	TxErrors   atomic.Uint64
	RxErrors   atomic.Uint64
	Reconnects atomic.Uint64
}

// Manager holds the C7 manager's tx/rx counters.
type Manager struct {
	PeerEnableSent     atomic.Uint64
	PeerEnableRecv     atomic.Uint64
	PeerStartSent      atomic.Uint64
	PeerStartRecv      atomic.Uint64
	ReloadDelayExpired atomic.Uint64
	StopTimeouts       atomic.Uint64
	PortDeleteTimeouts atomic.Uint64
}

// Election holds the C5 master-election FSM's event counters.
type Election struct {
	Transitions      atomic.Uint64
	SwitchStatusSent atomic.Uint64
	EqualIPErrors    atomic.Uint64
}

// Clear zeros every counter in Transport.
func (t *Transport) Clear() {
	t.TxMessages.Store(0)
	t.RxMessages.Store(0)
	t.TxErrors.Store(0)
	t.RxErrors.Store(0)
	t.Reconnects.Store(0)
}

// Clear zeros every counter in Manager.
func (m *Manager) Clear() {
	m.PeerEnableSent.Store(0)
	m.PeerEnableRecv.Store(0)
	m.PeerStartSent.Store(0)
	m.PeerStartRecv.Store(0)
	m.ReloadDelayExpired.Store(0)
	m.StopTimeouts.Store(0)
	m.PortDeleteTimeouts.Store(0)
}

// Clear zeros every counter in Election.
func (e *Election) Clear() {
	e.Transitions.Store(0)
	e.SwitchStatusSent.Store(0)
	e.EqualIPErrors.Store(0)
}

// snapshot returns a copy of a counter set as a name->value map, used by
// both Dump and the Prometheus collector.
func (t *Transport) snapshot() map[string]uint64 {
	return map[string]uint64{
		"tx_messages": t.TxMessages.Load(),
		"rx_messages": t.RxMessages.Load(),
		"tx_errors":   t.TxErrors.Load(),
		"rx_errors":   t.RxErrors.Load(),
		"reconnects":  t.Reconnects.Load(),
	}
}

func (m *Manager) snapshot() map[string]uint64 {
	return map[string]uint64{
		"peer_enable_sent":     m.PeerEnableSent.Load(),
		"peer_enable_recv":     m.PeerEnableRecv.Load(),
		"peer_start_sent":      m.PeerStartSent.Load(),
		"peer_start_recv":      m.PeerStartRecv.Load(),
		"reload_delay_expired": m.ReloadDelayExpired.Load(),
		"stop_timeouts":        m.StopTimeouts.Load(),
		"port_delete_timeouts": m.PortDeleteTimeouts.Load(),
	}
}

func (e *Election) snapshot() map[string]uint64 {
	return map[string]uint64{
		"transitions":        e.Transitions.Load(),
		"switch_status_sent": e.SwitchStatusSent.Load(),
		"equal_ip_errors":    e.EqualIPErrors.Load(),
	}
}

// Collector aggregates the core's counters and exposes them both as
// Prometheus metrics and via Dump, per spec.md §4.9.
type Collector struct {
	Transport Transport
	Manager   Manager
	Election  Election

	desc *prometheus.Desc
}

// NewCollector constructs a Collector and registers it with reg. If reg
// is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		desc: prometheus.NewDesc("mlagd_counter", "MLAG core counter value", []string{"subsystem", "name"}, nil),
	}
	reg.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	emit := func(subsystem string, values map[string]uint64) {
		for name, v := range values {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), subsystem, name)
		}
	}
	emit("transport", c.Transport.snapshot())
	emit("manager", c.Manager.snapshot())
	emit("election", c.Election.snapshot())
}

// Clear zeros every counter across every subsystem.
func (c *Collector) Clear() {
	c.Transport.Clear()
	c.Manager.Clear()
	c.Election.Clear()
}

// DumpFunc is the callback signature spec.md §4.9's dump(callback) takes:
// one call per "subsystem.name=value" line.
type DumpFunc func(line string)

// Dump renders a human-readable snapshot. If fn is nil, lines are written
// to w instead (spec.md: "via callback or via logging when callback is
// null" — w stands in for the logging sink at the API boundary).
func (c *Collector) Dump(fn DumpFunc, w io.Writer) {
	sections := []struct {
		name   string
		values map[string]uint64
	}{
		{"transport", c.Transport.snapshot()},
		{"manager", c.Manager.snapshot()},
		{"election", c.Election.snapshot()},
	}

	for _, section := range sections {
		names := make([]string, 0, len(section.values))
		for n := range section.values {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, n := range names {
			line := fmt.Sprintf("%s.%s=%d", section.name, n, section.values[n])
			if fn != nil {
				fn(line)
			} else if w != nil {
				fmt.Fprintln(w, line)
			}
		}
	}
}
