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

package daemon

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openwifid/awdl/channel"
	"github.com/openwifid/awdl/peer"
	"github.com/openwifid/awdl/syncstate"
	"github.com/openwifid/awdl/wire"
)

// fakeWLAN, fakeHostTAP, fakePlatform and fakeNeighbors satisfy the iface
// interfaces with no real I/O, sufficient for tests that only exercise the
// Daemon's pure scheduling math and never call Run.
type fakeWLAN struct{ ch chan []byte }

func (f *fakeWLAN) Frames() <-chan []byte { return f.ch }
func (f *fakeWLAN) Inject([]byte) error   { return nil }
func (f *fakeWLAN) Close() error          { return nil }

type fakeHostTAP struct{ ch chan []byte }

func (f *fakeHostTAP) Frames() <-chan []byte { return f.ch }
func (f *fakeHostTAP) Write([]byte) error    { return nil }
func (f *fakeHostTAP) Close() error          { return nil }

type fakePlatform struct{}

func (fakePlatform) SetChannel(context.Context, uint8, int) error          { return nil }
func (fakePlatform) ChannelAvailable(context.Context, uint8) (bool, error) { return true, nil }
func (fakePlatform) SetMonitorMode(context.Context, bool) error            { return nil }
func (fakePlatform) SetLinkUp(context.Context, bool) error                 { return nil }

type fakeNeighbors struct{}

func (fakeNeighbors) Add(context.Context, wire.EtherAddr, net.IP) error    { return nil }
func (fakeNeighbors) Remove(context.Context, wire.EtherAddr, net.IP) error { return nil }

var testSelf = wire.EtherAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func newTestDaemon() *Daemon {
	d := New(Config{SelfAddr: testSelf}, &fakeWLAN{ch: make(chan []byte)}, &fakeHostTAP{ch: make(chan []byte)}, fakePlatform{}, fakeNeighbors{})
	d.sync = syncstate.NewState(0)
	return d
}

func TestCanSendInMiddleOfWindowSendsNow(t *testing.T) {
	d := newTestDaemon()
	// Halfway through the EAW: well clear of both guards.
	nowUs := syncstate.TUToUsec(uint64(eawLengthTU) / 2)
	require.Equal(t, float64(0), d.CanSendIn(nowUs, multicastGuardTU))
}

func TestCanSendInNearWindowEndWaitsNegative(t *testing.T) {
	d := newTestDaemon()
	// One TU before the boundary: inside the guard approaching the end.
	nowUs := syncstate.TUToUsec(uint64(eawLengthTU) - 1)
	got := d.CanSendIn(nowUs, multicastGuardTU)
	require.Less(t, got, float64(0))
}

func TestCanSendInNearWindowStartWaitsPositive(t *testing.T) {
	d := newTestDaemon()
	// One TU after the boundary: inside the guard just past the start.
	nowUs := syncstate.TUToUsec(1)
	got := d.CanSendIn(nowUs, multicastGuardTU)
	require.Greater(t, got, float64(0))
}

func TestSameChannelAsPeerRequiresNonNullMatch(t *testing.T) {
	d := newTestDaemon()
	d.channel.Encoding = channel.EncodingOpclass
	d.channel.Sequence = channel.InitStatic(channel.Opclass6)

	pr := &peer.Peer{Sequence: channel.InitStatic(channel.Opclass6)}
	require.True(t, d.sameChannelAsPeer(0, pr))

	pr.Sequence = channel.InitStatic(channel.Opclass44)
	require.False(t, d.sameChannelAsPeer(0, pr))

	pr.Sequence = channel.InitStatic(channel.Null)
	require.False(t, d.sameChannelAsPeer(0, pr))
}

func TestSameChannelAsPeerAppliesSyncOffset(t *testing.T) {
	d := newTestDaemon()
	d.channel.Encoding = channel.EncodingOpclass
	// Different channel at slot 0 vs slot 8, like InitActive's 149/6 split.
	d.channel.Sequence = channel.InitActive()

	pr := &peer.Peer{Sequence: channel.InitActive()}
	// At now=0 (slot 0), we're both on 149: same channel.
	require.True(t, d.sameChannelAsPeer(0, pr))

	// Shift peer's view forward by exactly 8 EAWs (half the sequence) so its
	// slot reads 6 while ours still reads 149.
	eightEAWsUs := int64(syncstate.TUToUsec(uint64(eawLengthTU))) * 8
	pr.SyncOffsetUs = eightEAWsUs
	require.False(t, d.sameChannelAsPeer(0, pr))
}

func TestCanSendUnicastInWaitsFullEAWWhenNotCoChannel(t *testing.T) {
	d := newTestDaemon()
	d.channel.Encoding = channel.EncodingOpclass
	d.channel.Sequence = channel.InitActive()

	pr := &peer.Peer{Sequence: channel.InitStatic(channel.Null)}
	got := d.CanSendUnicastIn(0, pr, unicastGuardTU)
	require.Greater(t, got, float64(0))
}

func TestCanSendUnicastInSendsNowWhenCoChannelClearOfGuard(t *testing.T) {
	d := newTestDaemon()
	d.channel.Encoding = channel.EncodingOpclass
	d.channel.Sequence = channel.InitStatic(channel.Opclass6)

	pr := &peer.Peer{Sequence: channel.InitStatic(channel.Opclass6)}
	nowUs := syncstate.TUToUsec(uint64(eawLengthTU) / 2)
	require.Equal(t, float64(0), d.CanSendUnicastIn(nowUs, pr, unicastGuardTU))
}

// TestCanSendUnicastInNearWindowEndChecksForwardNotBackward exercises the
// "near the end of the window" guard branch with a peer that is co-channel
// one EAW behind but NOT one EAW ahead. Only the forward direction matters
// to this branch, so the guard must still apply (negative wait) even though
// the backward direction alone would have passed a direction-agnostic check.
func TestCanSendUnicastInNearWindowEndChecksForwardNotBackward(t *testing.T) {
	d := newTestDaemon()
	d.channel.Encoding = channel.EncodingOpclass
	d.channel.Sequence = channel.InitStatic(channel.Opclass6)

	// nowUs lands one TU before an EAW boundary (near-end branch); slot 0
	// one EAW behind is co-channel, slot 2 one EAW ahead is not.
	nowUs := syncstate.TUToUsec(127)
	pr := &peer.Peer{Sequence: channel.InitStatic(channel.Opclass6)}
	pr.Sequence[2] = channel.Opclass44

	got := d.CanSendUnicastIn(nowUs, pr, unicastGuardTU)
	require.Less(t, got, float64(0))
}

// TestCanSendUnicastInNearWindowStartChecksBackwardNotForward exercises the
// "near the start of the window" guard branch with a peer that is co-channel
// one EAW ahead but NOT one EAW behind. Only the backward direction matters
// to this branch, so the guard must still apply (positive wait) even though
// the forward direction alone would have passed a direction-agnostic check.
func TestCanSendUnicastInNearWindowStartChecksBackwardNotForward(t *testing.T) {
	d := newTestDaemon()
	d.channel.Encoding = channel.EncodingOpclass
	d.channel.Sequence = channel.InitStatic(channel.Opclass6)

	// nowUs lands one TU after an EAW boundary (near-start branch); slot 2
	// one EAW ahead is co-channel, slot 0 one EAW behind is not.
	nowUs := syncstate.TUToUsec(65)
	pr := &peer.Peer{Sequence: channel.InitStatic(channel.Opclass6)}
	pr.Sequence[0] = channel.Opclass44

	got := d.CanSendUnicastIn(nowUs, pr, unicastGuardTU)
	require.Greater(t, got, float64(0))
}

func TestPSFIntervalTracksRole(t *testing.T) {
	d := newTestDaemon()
	require.Equal(t, masterPSFIntervalTU, d.psfIntervalTU()) // lone node is its own master

	other := wire.EtherAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	d.election.MasterAddr = other
	require.Equal(t, slavePSFIntervalTU, d.psfIntervalTU())
}

func TestRunCleanupEvictsStalePeersAndElects(t *testing.T) {
	d := newTestDaemon()
	stale := wire.EtherAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x09}
	d.peers.Add(stale, 0)

	d.cfg.PeerTimeoutUs = 1000
	d.runCleanup(5000)

	_, ok := d.peers.Get(stale)
	require.False(t, ok)
	require.Equal(t, int64(1), d.counters.Get("peer_evicted"))
	require.Equal(t, int64(1), d.counters.Get("election_runs"))
}

func TestHostBackpressureTripsOnEitherSinkFull(t *testing.T) {
	d := newTestDaemon()
	require.False(t, d.hostBackpressured())

	d.ucastSlot = &pendingUnicast{}
	require.True(t, d.hostBackpressured())
	d.ucastSlot = nil

	for i := 0; i < d.mcastQueue.Capacity(); i++ {
		require.True(t, d.mcastQueue.PutStrict([]byte("x")))
	}
	require.True(t, d.hostBackpressured())
}
