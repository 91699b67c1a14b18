package driver

import (
	"sync/atomic"
	"time"
)

// clientStats belongs to exactly one virtual client. Only that client writes
// it; the atomics let a reporter read it while the client is running.
type clientStats struct {
	sent         atomic.Uint64
	succeeded    atomic.Uint64
	failed       atomic.Uint64
	latencyNanos atomic.Int64
	maxLatency   atomic.Int64
	perTemplate  []atomic.Uint64
}

func newClientStats(templates int) *clientStats {
	return &clientStats{perTemplate: make([]atomic.Uint64, templates)}
}

func (s *clientStats) record(template int, latency time.Duration, err error) {
	s.sent.Add(1)
	s.perTemplate[template].Add(1)
	s.latencyNanos.Add(int64(latency))

	// Single writer, so a plain compare is enough
	if int64(latency) > s.maxLatency.Load() {
		s.maxLatency.Store(int64(latency))
	}

	if err != nil {
		s.failed.Add(1)
		return
	}
	s.succeeded.Add(1)
}

// A ClientSnapshot is a point-in-time copy of one client's counters.
// PerTemplate is indexed in registration order.
type ClientSnapshot struct {
	ID          int
	Sent        uint64
	Succeeded   uint64
	Failed      uint64
	PerTemplate []uint64
}

func (s *clientStats) snapshot(id int) ClientSnapshot {
	snap := ClientSnapshot{
		ID:          id,
		Sent:        s.sent.Load(),
		Succeeded:   s.succeeded.Load(),
		Failed:      s.failed.Load(),
		PerTemplate: make([]uint64, len(s.perTemplate)),
	}
	for i := range s.perTemplate {
		snap.PerTemplate[i] = s.perTemplate[i].Load()
	}
	return snap
}

// A Snapshot aggregates every client's counters at one instant
type Snapshot struct {
	Taken        time.Time
	Clients      int
	Sent         uint64
	Succeeded    uint64
	Failed       uint64
	TotalLatency time.Duration
	MaxLatency   time.Duration
	PerTemplate  map[string]uint64
}

// MeanLatency is the average time spent waiting on a response
func (s Snapshot) MeanLatency() time.Duration {
	if s.Sent == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Sent)
}

func (s *Snapshot) add(stats *clientStats, templates []*Template) {
	s.Clients++
	s.Sent += stats.sent.Load()
	s.Succeeded += stats.succeeded.Load()
	s.Failed += stats.failed.Load()
	s.TotalLatency += time.Duration(stats.latencyNanos.Load())

	if max := time.Duration(stats.maxLatency.Load()); max > s.MaxLatency {
		s.MaxLatency = max
	}

	for i, t := range templates {
		s.PerTemplate[t.Name] += stats.perTemplate[i].Load()
	}
}
