/*
Copyright (c) The AWDL-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats tracks the event-loop counters and renders them both as a
// one-shot textual dump and as Prometheus gauges.
package stats

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Counter names, matching the fields of the daemon's signal-triggered dump.
const (
	TxAction        = "tx_action"
	TxData          = "tx_data"
	TxDataUnicast   = "tx_data_unicast"
	TxDataMulticast = "tx_data_multicast"
	RxAction        = "rx_action"
	RxData          = "rx_data"
	RxUnknown       = "rx_unknown"
	TxFail          = "tx_fail"
	RxIgnored       = "rx_ignored"
	RxMalformed     = "rx_malformed"
	PeerEvicted     = "peer_evicted"
	ElectionRuns    = "election_runs"
)

var order = []string{
	TxAction, TxData, TxDataUnicast, TxDataMulticast,
	RxAction, RxData, RxUnknown,
	TxFail, RxIgnored, RxMalformed,
	PeerEvicted, ElectionRuns,
}

// Counters is a fixed set of atomically-updated named counters. It is
// written only from the event-loop goroutine and read from any goroutine
// (stats-dump signal handler, Prometheus scrape), mirroring the single
// writer / many readers discipline the daemon's event loop relies on
// throughout.
type Counters struct {
	vals map[string]*int64
}

// New allocates a zeroed counter set.
func New() *Counters {
	c := &Counters{vals: make(map[string]*int64, len(order))}
	for _, name := range order {
		var v int64
		c.vals[name] = &v
	}
	return c
}

// Inc increments the named counter by one. Incrementing an unknown name is a
// programmer error and panics, the same way an unhandled RX result kind
// would indicate a missing case in the switch that classifies frames.
func (c *Counters) Inc(name string) {
	c.Add(name, 1)
}

// Add adds delta to the named counter.
func (c *Counters) Add(name string, delta int64) {
	p, ok := c.vals[name]
	if !ok {
		panic("stats: unknown counter " + name)
	}
	atomic.AddInt64(p, delta)
}

// Get returns the current value of the named counter.
func (c *Counters) Get(name string) int64 {
	p, ok := c.vals[name]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// Snapshot returns a point-in-time copy of every counter, keyed by name.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(c.vals))
	for _, name := range order {
		out[name] = atomic.LoadInt64(c.vals[name])
	}
	return out
}

// Dump renders the counters as the plain-text report the daemon prints on
// receipt of its stats-dump signal.
func (c *Counters) Dump() string {
	snap := c.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	width := 0
	for _, name := range names {
		if len(name) > width {
			width = len(name)
		}
	}

	out := ""
	for _, name := range order {
		out += fmt.Sprintf("%-*s %d\n", width, name, snap[name])
	}
	return out
}
