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

package rx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openwifid/awdl/channel"
	"github.com/openwifid/awdl/election"
	"github.com/openwifid/awdl/frame"
	"github.com/openwifid/awdl/peer"
	"github.com/openwifid/awdl/syncstate"
	"github.com/openwifid/awdl/tx"
	"github.com/openwifid/awdl/wire"
)

var (
	selfA = wire.EtherAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xaa}
	selfB = wire.EtherAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xbb}
)

func TestParseDataFrame(t *testing.T) {
	peers := peer.NewTable(peer.Callbacks{})
	peers.Add(selfA, 0)

	st := &tx.State{
		SelfAddr:      selfA,
		Name:          "nodea",
		Version:       frame.VersionCompat,
		DevClass:      1,
		PSFIntervalTU: 100,
		Sync:          syncstate.NewState(0),
		Election:      election.NewState(selfA),
		Channel: &channel.State{
			Encoding: channel.EncodingOpclass,
			Sequence: channel.InitStatic(channel.Opclass6),
			Master:   channel.Opclass6,
			Current:  channel.Opclass6,
		},
	}
	builder := tx.NewBuilder(st)
	payload := []byte("hello, awdl")
	out := builder.BuildDataFrame(selfA, selfB, frame.EthertypeIPv6, payload)

	p := NewParser(NewConfig(selfB), peers, election.NewState(selfB), syncstate.NewState(0), st.Channel)
	frames, err := p.Parse(out, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, selfB, frames[0].Dst)
	require.Equal(t, selfA, frames[0].Src)
	require.Equal(t, uint16(frame.EthertypeIPv6), frames[0].Ethertype)
	require.Equal(t, payload, frames[0].Payload)
}

func TestParseDataFrameFromUnknownPeerIsIgnored(t *testing.T) {
	peers := peer.NewTable(peer.Callbacks{})

	st := &tx.State{
		SelfAddr: selfA,
		Channel:  &channel.State{Encoding: channel.EncodingOpclass},
	}
	builder := tx.NewBuilder(st)
	out := builder.BuildDataFrame(selfA, selfB, frame.EthertypeIPv4, []byte("x"))

	p := NewParser(NewConfig(selfB), peers, election.NewState(selfB), syncstate.NewState(0), st.Channel)
	frames, err := p.Parse(out, 0)
	require.ErrorIs(t, err, ErrIgnorePeer)
	require.Empty(t, frames)
}

func TestParseFromSelfIsIgnored(t *testing.T) {
	peers := peer.NewTable(peer.Callbacks{})
	st := &tx.State{SelfAddr: selfA, Channel: &channel.State{Encoding: channel.EncodingOpclass}}
	builder := tx.NewBuilder(st)
	out := builder.BuildDataFrame(selfA, selfB, frame.EthertypeIPv4, []byte("x"))

	p := NewParser(NewConfig(selfA), peers, election.NewState(selfA), syncstate.NewState(0), st.Channel)
	_, err := p.Parse(out, 0)
	require.ErrorIs(t, err, ErrIgnoreFromSelf)
}

func TestTXRXActionFrameRoundTrip(t *testing.T) {
	chA := &channel.State{
		Encoding: channel.EncodingOpclass,
		Sequence: channel.InitActive(),
		Master:   channel.Opclass6,
		Current:  channel.Opclass149,
	}
	stA := &tx.State{
		SelfAddr:      selfA,
		Name:          "nodea",
		Version:       frame.VersionCompat,
		DevClass:      2,
		PSFIntervalTU: 100,
		Sync:          syncstate.NewState(1000),
		Election:      election.NewState(selfA),
		Channel:       chA,
	}
	builder := tx.NewBuilder(stA)
	out := builder.BuildActionFrame(frame.BSSID, frame.ActionMIF, 1000)

	peers := peer.NewTable(peer.Callbacks{})
	elecB := election.NewState(selfB)
	elecB.SyncAddr = selfA // B has already adopted A as its sync parent
	syncB := syncstate.NewState(1000)
	chB := &channel.State{Encoding: channel.EncodingOpclass, Sequence: channel.InitStatic(channel.Opclass6)}

	p := NewParser(NewConfig(selfB), peers, elecB, syncB, chB)
	frames, err := p.Parse(out, 1000)
	require.NoError(t, err)
	require.Empty(t, frames)

	pr, ok := peers.Get(selfA)
	require.True(t, ok)
	require.Equal(t, stA.Election.MasterAddr, pr.Election.MasterAddr)
	require.Equal(t, stA.Election.MasterMetric, pr.Election.MasterMetric)
	require.Equal(t, stA.Election.MasterCounter, pr.Election.MasterCounter)
	require.Equal(t, stA.Election.Height, pr.Election.Height)
	require.True(t, pr.SupportsV2)
	require.Equal(t, chA.Sequence, pr.Sequence)
	require.Equal(t, "nodea", pr.Name)
	require.Equal(t, stA.Version, pr.Version)
	require.Equal(t, stA.DevClass, pr.DevClass)
	require.True(t, pr.SentMIF)
	require.True(t, pr.IsValid)
}

func TestSyncParamsOnlyAcceptedFromSyncMaster(t *testing.T) {
	chA := &channel.State{Encoding: channel.EncodingOpclass, Sequence: channel.InitStatic(channel.Opclass6)}
	stA := &tx.State{
		SelfAddr:      selfA,
		PSFIntervalTU: 100,
		Sync:          syncstate.NewState(1000),
		Election:      election.NewState(selfA),
		Channel:       chA,
	}
	builder := tx.NewBuilder(stA)
	out := builder.BuildActionFrame(frame.BSSID, frame.ActionPSF, 2000)

	peers := peer.NewTable(peer.Callbacks{})
	elecB := election.NewState(selfB) // B's sync parent is still itself
	syncB := syncstate.NewState(1000)
	chB := &channel.State{Encoding: channel.EncodingOpclass, Sequence: channel.InitStatic(channel.Opclass6)}

	p := NewParser(NewConfig(selfB), peers, elecB, syncB, chB)
	_, err := p.Parse(out, 2000)
	require.NoError(t, err)
	require.Equal(t, uint64(0), syncB.MeasTotal) // sync params ignored: A is not B's sync parent
}

func TestMalformedChanSeqAbortsWholeFrame(t *testing.T) {
	chA := &channel.State{Encoding: channel.EncodingOpclass, Sequence: channel.InitStatic(channel.Opclass6)}
	stA := &tx.State{
		SelfAddr:      selfA,
		PSFIntervalTU: 100,
		Sync:          syncstate.NewState(1000),
		Election:      election.NewState(selfA),
		Channel:       chA,
	}
	builder := tx.NewBuilder(stA)
	out := builder.BuildActionFrame(frame.BSSID, frame.ActionPSF, 1000)

	info, err := frame.ParseRadiotap(out)
	require.NoError(t, err)

	b := wire.NewBuffer(out)
	off := info.HeaderLen + 24 + 16
	_, syncTLV, err := b.ReadTLV(off)
	require.NoError(t, err)
	_, electTLV, err := b.ReadTLV(off + 3 + len(syncTLV.Value))
	require.NoError(t, err)
	chanSeqOff := off + 3 + len(syncTLV.Value) + 3 + len(electTLV.Value)
	// Corrupt the chanseq TLV's count field.
	require.NoError(t, b.WriteU8(chanSeqOff+3, 0xff))

	peers := peer.NewTable(peer.Callbacks{})
	p := NewParser(NewConfig(selfB), peers, election.NewState(selfB), syncstate.NewState(1000), chA)
	_, err = p.Parse(out, 1000)
	require.ErrorIs(t, err, ErrUnexpectedFormat)
}
