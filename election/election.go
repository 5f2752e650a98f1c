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

// Package election implements the AWDL distributed master election: a
// per-node comparison over a bounded-height synchronization tree, in the
// same "iterate candidates, track the best seen so far" shape as a Best
// Master Clock Algorithm comparison loop.
package election

import "github.com/openwifid/awdl/wire"

// MaxTreeHeight bounds how many hops a node may be from the tree root.
const MaxTreeHeight = 10

// InitialMetric is the self-metric a freshly initialized node starts at.
const InitialMetric = 60

// InitialCounter is the self-counter a freshly initialized node starts at.
const InitialCounter = 0

// State is a node's election snapshot: its view of who the tree root
// (master) is, who it directly synchronizes to (sync parent), and the
// counters/metrics that feed the comparison.
type State struct {
	SelfAddr      wire.EtherAddr
	MasterAddr    wire.EtherAddr
	SyncAddr      wire.EtherAddr
	Height        uint8
	SelfMetric    uint32
	MasterMetric  uint32
	SelfCounter   uint32
	MasterCounter uint32
}

// NewState returns a freshly initialized State: the node is its own master
// and sync parent at height 0.
func NewState(self wire.EtherAddr) *State {
	s := &State{SelfAddr: self, SelfMetric: InitialMetric, SelfCounter: InitialCounter}
	s.ResetSelf()
	return s
}

// ResetSelf restores the node to being its own master and sync parent at
// height 0, keeping SelfMetric/SelfCounter as currently configured.
func (s *State) ResetSelf() {
	s.Height = 0
	s.MasterAddr = s.SelfAddr
	s.SyncAddr = s.SelfAddr
	s.MasterMetric = s.SelfMetric
	s.MasterCounter = s.SelfCounter
}

// IsSyncMaster reports whether addr is this node's current sync parent.
func (s *State) IsSyncMaster(addr wire.EtherAddr) bool {
	return s.SyncAddr == addr
}

// Candidate is a peer's election snapshot as seen during a Run, paired with
// the address used for tie-breaking (the peer's own hardware address, not
// necessarily its advertised SelfAddr field, though they coincide in
// practice).
type Candidate struct {
	Addr          wire.EtherAddr
	SyncAddr      wire.EtherAddr
	MasterAddr    wire.EtherAddr
	Height        uint8
	MasterMetric  uint32
	MasterCounter uint32
}

// better reports whether candidate c beats the current best under the
// lexicographic (counter, metric) order, with height and then address as
// tie-breakers. It mirrors the reference implementation's compare_master
// followed by height/address tie-break logic.
func better(c Candidate, bestCounter, bestMetric uint32, bestHeight uint8, bestAddr wire.EtherAddr) bool {
	switch {
	case c.MasterCounter != bestCounter:
		return c.MasterCounter > bestCounter
	case c.MasterMetric != bestMetric:
		return c.MasterMetric > bestMetric
	case c.Height != bestHeight:
		return c.Height < bestHeight
	default:
		return bestAddr.Less(c.Addr)
	}
}

// Run executes one election pass over candidates (the valid peer set) and
// updates s accordingly. It is idempotent: calling Run twice in a row with
// an unchanged candidate set yields identical state both times.
func (s *State) Run(candidates []Candidate) {
	s.ResetSelf()

	bestAddr := s.SelfAddr
	bestHeight := s.Height
	bestCounter := s.MasterCounter
	bestMetric := s.MasterMetric
	bestMaster := s.MasterAddr
	adopted := false

	for _, c := range candidates {
		if int(c.Height)+1 > MaxTreeHeight {
			continue
		}
		// Cycle prevention: never adopt a peer that syncs to us.
		if c.SyncAddr == s.SelfAddr {
			continue
		}
		if !better(c, bestCounter, bestMetric, bestHeight, bestAddr) {
			continue
		}
		bestAddr = c.Addr
		bestHeight = c.Height
		bestCounter = c.MasterCounter
		bestMetric = c.MasterMetric
		bestMaster = c.MasterAddr
		adopted = true
	}

	if adopted {
		s.MasterAddr = bestMaster
		s.SyncAddr = bestAddr
		s.MasterMetric = bestMetric
		s.MasterCounter = bestCounter
		s.Height = bestHeight + 1
	}
}
