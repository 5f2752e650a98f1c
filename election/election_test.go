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

package election

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/openwifid/awdl/wire"
)

func TestLoneNodeElection(t *testing.T) {
	self := wire.EtherAddr{}
	s := NewState(self)
	s.Run(nil)

	require.Equal(t, self, s.MasterAddr)
	require.Equal(t, self, s.SyncAddr)
	require.Equal(t, uint8(0), s.Height)
	require.Equal(t, uint32(InitialMetric), s.MasterMetric)
	require.Equal(t, uint32(InitialCounter), s.MasterCounter)
}

func TestPairwiseElectionPicksLargerAddress(t *testing.T) {
	self := wire.EtherAddr{}
	peer := wire.EtherAddr{1, 1, 1, 1, 1, 1}
	s := NewState(self)

	s.Run([]Candidate{{
		Addr:          peer,
		SyncAddr:      peer,
		MasterAddr:    peer,
		Height:        0,
		MasterMetric:  InitialMetric,
		MasterCounter: InitialCounter,
	}})

	require.Equal(t, peer, s.MasterAddr)
	require.Equal(t, peer, s.SyncAddr)
	require.Equal(t, uint8(1), s.Height)
}

func TestCounterBeatsMetric(t *testing.T) {
	self := wire.EtherAddr{}
	peer := wire.EtherAddr{1, 1, 1, 1, 1, 1}
	s := NewState(self)
	s.SelfMetric = 1001
	s.SelfCounter = 0

	s.Run([]Candidate{{
		Addr:          peer,
		SyncAddr:      peer,
		MasterAddr:    peer,
		Height:        0,
		MasterMetric:  1000,
		MasterCounter: 1,
	}})

	require.Equal(t, peer, s.MasterAddr)
	require.Equal(t, uint32(1000), s.MasterMetric)
	require.Equal(t, uint32(1), s.MasterCounter)
}

func TestCycleRejection(t *testing.T) {
	self := wire.EtherAddr{0xaa}
	peer := wire.EtherAddr{1, 1, 1, 1, 1, 1}
	s := NewState(self)

	s.Run([]Candidate{{
		Addr:          peer,
		SyncAddr:      self, // peer claims to sync to us: a cycle.
		MasterAddr:    peer,
		Height:        0,
		MasterMetric:  1000,
		MasterCounter: 5,
	}})

	require.Equal(t, self, s.MasterAddr)
	require.Equal(t, self, s.SyncAddr)
}

func TestHeightBound(t *testing.T) {
	self := wire.EtherAddr{}
	peer := wire.EtherAddr{1, 1, 1, 1, 1, 1}
	s := NewState(self)

	s.Run([]Candidate{{
		Addr:          peer,
		SyncAddr:      peer,
		MasterAddr:    peer,
		Height:        MaxTreeHeight, // would become 11 if adopted.
		MasterMetric:  1000,
		MasterCounter: 5,
	}})

	require.Equal(t, self, s.MasterAddr)
}

func TestElectionIsIdempotent(t *testing.T) {
	self := wire.EtherAddr{}
	peer := wire.EtherAddr{1, 1, 1, 1, 1, 1}
	s := NewState(self)
	candidates := []Candidate{{
		Addr:          peer,
		SyncAddr:      peer,
		MasterAddr:    peer,
		Height:        2,
		MasterMetric:  500,
		MasterCounter: 3,
	}}

	s.Run(candidates)
	first := *s
	s.Run(candidates)
	require.Equal(t, first, *s)
}
