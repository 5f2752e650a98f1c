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

// Package peer implements the AWDL peer table: a map of observed stations
// keyed by hardware address, with lazy expiry and validity-transition
// callbacks that integrate with the OS neighbor cache.
package peer

import (
	"github.com/openwifid/awdl/channel"
	"github.com/openwifid/awdl/election"
	"github.com/openwifid/awdl/wire"
)

// DefaultTimeoutUs is the default interval after which a peer with no
// observed traffic is considered gone.
const DefaultTimeoutUs = 2_000_000

// DefaultCleanIntervalUs is the default interval between expiry sweeps.
const DefaultCleanIntervalUs = 1_000_000

// ElectionSnapshot is the subset of a peer's advertised election-params TLV
// that feeds an election.Candidate.
type ElectionSnapshot struct {
	MasterAddr    wire.EtherAddr
	SyncAddr      wire.EtherAddr
	Height        uint8
	MasterMetric  uint32
	MasterCounter uint32
}

// Peer is a station observed on the AWDL medium.
type Peer struct {
	Addr          wire.EtherAddr
	LastUpdateUs  uint64
	Election      ElectionSnapshot
	Sequence      channel.Sequence
	SyncOffsetUs  int64
	Name          string
	CountryCode   [2]byte
	InfraAddr     wire.EtherAddr
	Version       uint8
	DevClass      uint8
	SupportsV2    bool
	SentMIF       bool
	IsValid       bool
}

func newPeer(addr wire.EtherAddr, nowUs uint64) *Peer {
	p := &Peer{Addr: addr, LastUpdateUs: nowUs, CountryCode: [2]byte{'N', 'A'}}
	for i := range p.Sequence {
		p.Sequence[i] = channel.Null
	}
	return p
}

// isValid implements the peer validity predicate: a peer becomes valid once
// it has sent at least one MIF and has declared a non-zero device class and
// protocol version.
func (p *Peer) isValid() bool {
	return p.SentMIF && p.DevClass != 0 && p.Version != 0
}

// AddResult reports what Table.Add did.
type AddResult int

// Results of Table.Add.
const (
	ResultNew AddResult = iota
	ResultUpdated
)

// Callbacks lets an external collaborator (the OS neighbor cache) observe
// validity transitions on the peer table.
type Callbacks struct {
	OnAdd    func(p *Peer)
	OnRemove func(p *Peer)
}

// Table is the peer table: a map keyed by hardware address.
type Table struct {
	peers        map[wire.EtherAddr]*Peer
	callbacks    Callbacks
	TimeoutUs    uint64
	CleanIntervalUs uint64
}

// NewTable returns an empty peer table using the default timeout and clean
// interval, with cb as the validity-transition callback hooks (either field
// may be nil).
func NewTable(cb Callbacks) *Table {
	return &Table{
		peers:           make(map[wire.EtherAddr]*Peer),
		callbacks:       cb,
		TimeoutUs:       DefaultTimeoutUs,
		CleanIntervalUs: DefaultCleanIntervalUs,
	}
}

// Add inserts a new peer or bumps the LastUpdateUs of an existing one, then
// re-checks the validity predicate, firing OnAdd if it just became true.
// It returns the resulting record together with whether it was newly
// created.
func (t *Table) Add(addr wire.EtherAddr, nowUs uint64) (*Peer, AddResult) {
	p, ok := t.peers[addr]
	result := ResultUpdated
	if !ok {
		p = newPeer(addr, nowUs)
		t.peers[addr] = p
		result = ResultNew
	} else {
		p.LastUpdateUs = nowUs
	}

	wasValid := p.IsValid
	p.IsValid = p.isValid()
	if !wasValid && p.IsValid && t.callbacks.OnAdd != nil {
		t.callbacks.OnAdd(p)
	}
	return p, result
}

// Get looks up a peer by address.
func (t *Table) Get(addr wire.EtherAddr) (*Peer, bool) {
	p, ok := t.peers[addr]
	return p, ok
}

// Remove deletes a peer, firing OnRemove if it was valid. It reports
// whether a peer was actually present.
func (t *Table) Remove(addr wire.EtherAddr) bool {
	p, ok := t.peers[addr]
	if !ok {
		return false
	}
	delete(t.peers, addr)
	if p.IsValid && t.callbacks.OnRemove != nil {
		t.callbacks.OnRemove(p)
	}
	return true
}

// RemoveExpired evicts every peer whose LastUpdateUs predates cutoffUs,
// firing OnRemove for each that was valid. It returns the number removed.
func (t *Table) RemoveExpired(cutoffUs uint64) int {
	removed := 0
	for addr, p := range t.peers {
		if p.LastUpdateUs < cutoffUs {
			delete(t.peers, addr)
			if p.IsValid && t.callbacks.OnRemove != nil {
				t.callbacks.OnRemove(p)
			}
			removed++
		}
	}
	return removed
}

// Len returns the number of peers currently tracked.
func (t *Table) Len() int {
	return len(t.peers)
}

// Range calls f for every peer in the table. If f returns false, iteration
// stops early. Range is safe against f removing the current peer via
// Remove.
func (t *Table) Range(f func(p *Peer) bool) {
	for _, p := range t.peers {
		if !f(p) {
			return
		}
	}
}

// Candidates returns an election.Candidate for every currently valid peer,
// for use as the input to election.State.Run.
func (t *Table) Candidates() []election.Candidate {
	out := make([]election.Candidate, 0, len(t.peers))
	for _, p := range t.peers {
		if !p.IsValid {
			continue
		}
		out = append(out, election.Candidate{
			Addr:          p.Addr,
			SyncAddr:      p.Election.SyncAddr,
			MasterAddr:    p.Election.MasterAddr,
			Height:        p.Election.Height,
			MasterMetric:  p.Election.MasterMetric,
			MasterCounter: p.Election.MasterCounter,
		})
	}
	return out
}
