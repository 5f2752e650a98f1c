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

// Package daemon implements the single-threaded cooperative event loop that
// drives an AWDL node: the channel-switch, PSF, MIF, unicast-TX,
// multicast-TX and peer-cleanup timers, and the two I/O readiness sources
// (the WLAN capture and the host TAP device).
package daemon

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/openwifid/awdl/channel"
	"github.com/openwifid/awdl/election"
	"github.com/openwifid/awdl/frame"
	"github.com/openwifid/awdl/iface"
	"github.com/openwifid/awdl/peer"
	"github.com/openwifid/awdl/ring"
	"github.com/openwifid/awdl/rx"
	"github.com/openwifid/awdl/stats"
	"github.com/openwifid/awdl/syncstate"
	"github.com/openwifid/awdl/tx"
	"github.com/openwifid/awdl/wire"
)

// eawLengthTU is the fixed Extended AW length used by the gating formulas,
// independent of the configured AWPeriodTU/PresenceMode product (which
// defaults to the same value but is not read here, matching the reference
// scheduler's own hardcoded constant).
const eawLengthTU uint16 = 64

// Guard intervals, in TU, applied before a window boundary.
const (
	unicastGuardTU   uint16 = 3
	multicastGuardTU uint16 = 16
)

// Multicast-eligible slots within one 16-slot channel sequence.
const (
	multicastSlotA = 0
	multicastSlotB = 10
)

// Default PSF cadence by role, in TU.
const (
	masterPSFIntervalTU uint16 = 110
	slavePSFIntervalTU  uint16 = 440
)

const defaultMcastQueueCap = 16

// Config configures a Daemon's identity and scheduling parameters. Zero
// fields take the defaults documented alongside them.
type Config struct {
	SelfAddr  wire.EtherAddr
	Name      string
	Version   uint8
	DevClass  uint8
	AppendFCS bool

	// PeerTimeoutUs is how long a peer may go unheard before eviction.
	// Default peer.DefaultTimeoutUs.
	PeerTimeoutUs uint64
	// CleanIntervalUs is the interval between peer-table expiry sweeps.
	// Default peer.DefaultCleanIntervalUs.
	CleanIntervalUs uint64
	// McastQueueCap bounds the outbound multicast ring. Default 16.
	McastQueueCap int

	FilterRSSI    bool
	RSSIThreshold int8
	RSSIGrace     int8

	// Channel is the initial channel configuration (encoding, hopping
	// sequence, master/current channel). Defaults to a static sequence on
	// channel 6 if nil.
	Channel *channel.State
}

// pendingUnicast is the single outstanding unicast data frame awaiting a
// send opportunity.
type pendingUnicast struct {
	frame []byte
	dst   wire.EtherAddr
}

// Daemon owns every piece of live protocol state and drives it from one
// event loop. Nothing outside this package's Run goroutine ever mutates
// peers, election, sync, channel, or the TX/RX queues, matching the
// single-writer discipline the rest of this module tracks in its field
// comments.
type Daemon struct {
	cfg Config
	now func() uint64

	wlan      iface.WLAN
	host      iface.HostTAP
	platform  iface.PlatformControl
	neighbors iface.NeighborTable

	peers    *peer.Table
	election *election.State
	sync     *syncstate.State
	channel  *channel.State
	builder  *tx.Builder
	parser   *rx.Parser
	counters *stats.Counters

	mcastQueue *ring.Buffer
	ucastSlot  *pendingUnicast

	log *log.Entry

	nextChannelSwitchUs uint64
	nextPSFUs           uint64
	nextMIFUs           uint64
	nextCleanupUs       uint64
	nextUcastCheckUs    uint64
	nextMcastCheckUs    uint64
}

func monotonicNowUs() uint64 {
	return uint64(time.Now().UnixMicro())
}

// New builds a Daemon wired to the given platform collaborators. Run must
// be called to start the event loop.
func New(cfg Config, wlan iface.WLAN, host iface.HostTAP, platform iface.PlatformControl, neighbors iface.NeighborTable) *Daemon {
	if cfg.PeerTimeoutUs == 0 {
		cfg.PeerTimeoutUs = peer.DefaultTimeoutUs
	}
	if cfg.CleanIntervalUs == 0 {
		cfg.CleanIntervalUs = peer.DefaultCleanIntervalUs
	}
	if cfg.McastQueueCap == 0 {
		cfg.McastQueueCap = defaultMcastQueueCap
	}
	if cfg.Channel == nil {
		cfg.Channel = &channel.State{
			Encoding: channel.EncodingOpclass,
			Sequence: channel.InitStatic(channel.Opclass6),
			Master:   channel.Opclass6,
			Current:  channel.Opclass6,
		}
	}

	d := &Daemon{
		cfg:       cfg,
		now:       monotonicNowUs,
		wlan:      wlan,
		host:      host,
		platform:  platform,
		neighbors: neighbors,
		election:  election.NewState(cfg.SelfAddr),
		channel:   cfg.Channel,
		counters:  stats.New(),
		log:       log.WithField("component", "daemon"),
	}
	d.sync = syncstate.NewState(d.now())
	d.peers = peer.NewTable(peer.Callbacks{OnAdd: d.onPeerValid, OnRemove: d.onPeerInvalid})

	d.builder = tx.NewBuilder(&tx.State{
		SelfAddr:      cfg.SelfAddr,
		Name:          cfg.Name,
		Version:       cfg.Version,
		DevClass:      cfg.DevClass,
		AppendFCS:     cfg.AppendFCS,
		PSFIntervalTU: d.psfIntervalTU(),
		Sync:          d.sync,
		Election:      d.election,
		Channel:       d.channel,
	})

	rxCfg := rx.NewConfig(cfg.SelfAddr)
	rxCfg.FilterRSSI = cfg.FilterRSSI
	if cfg.RSSIThreshold != 0 {
		rxCfg.RSSIThreshold = cfg.RSSIThreshold
	}
	if cfg.RSSIGrace != 0 {
		rxCfg.RSSIGrace = cfg.RSSIGrace
	}
	d.parser = rx.NewParser(rxCfg, d.peers, d.election, d.sync, d.channel)

	queue, err := ring.New(cfg.McastQueueCap)
	if err != nil {
		// cfg.McastQueueCap is defaulted above to a positive constant, so
		// the only way New fails is a caller-supplied non-positive value.
		panic("daemon: invalid multicast queue capacity: " + err.Error())
	}
	d.mcastQueue = queue

	return d
}

// Stats returns the live counter set for external reporting (textual dump,
// Prometheus export).
func (d *Daemon) Stats() *stats.Counters { return d.counters }

// Peers returns the live peer table, for status introspection.
func (d *Daemon) Peers() *peer.Table { return d.peers }

func (d *Daemon) onPeerValid(p *peer.Peer) {
	ip := p.Addr.LinkLocalIPv6()
	if err := d.neighbors.Add(context.Background(), p.Addr, ip); err != nil {
		d.log.WithError(err).WithField("peer", p.Addr).Error("neighbor table add failed")
	}
}

func (d *Daemon) onPeerInvalid(p *peer.Peer) {
	ip := p.Addr.LinkLocalIPv6()
	if err := d.neighbors.Remove(context.Background(), p.Addr, ip); err != nil {
		d.log.WithError(err).WithField("peer", p.Addr).Error("neighbor table remove failed")
	}
}

func (d *Daemon) psfIntervalTU() uint16 {
	if d.election.MasterAddr == d.election.SelfAddr {
		return masterPSFIntervalTU
	}
	return slavePSFIntervalTU
}

func usecToSec(usec uint64) float64 {
	return float64(usec) / 1e6
}

// secondsToUsec converts a CanSendIn/CanSendUnicastIn result into a
// microsecond delay to wait before rechecking, taking the absolute value
// and adding one TU of slack past the boundary so the recheck does not
// race the guard it just observed.
func secondsToUsec(v float64) uint64 {
	if v < 0 {
		v = -v
	}
	return uint64(v*1e6) + syncstate.TU
}

// CanSendIn implements the can_send_in(now, G) gating function: 0 if the
// current window has at least G TU of margin before its start and its end,
// a positive number of seconds if we are still within G TU of the window's
// start, or a negative number if we are within G TU of the window's end.
// Callers wait the absolute value before rechecking either way.
func (d *Daemon) CanSendIn(nowUs uint64, guardTU uint16) float64 {
	next := d.sync.NextAWTU(nowUs)
	switch {
	case next < guardTU:
		return -usecToSec(syncstate.TUToUsec(uint64(guardTU - next)))
	case eawLengthTU-next < guardTU:
		return usecToSec(syncstate.TUToUsec(uint64(guardTU - (eawLengthTU - next))))
	default:
		return 0
	}
}

func addSigned(base uint64, delta int64) uint64 {
	if delta >= 0 {
		return base + uint64(delta)
	}
	off := uint64(-delta)
	if off > base {
		return 0
	}
	return base - off
}

// sameChannelAsPeer compares the channel our own hopping sequence selects
// at now against the channel peer's advertised sequence selects at
// now+peer.SyncOffsetUs (peer's own notion of "now", approximated by
// shifting our clock by its advertised schedule offset). Both channels
// must be non-null and equal.
func (d *Daemon) sameChannelAsPeer(nowUs uint64, pr *peer.Peer) bool {
	localSlot := int(d.sync.CurrentEAW(nowUs)) % channel.SequenceLength
	localChan := channel.Num(d.channel.Sequence[localSlot], d.channel.Encoding)

	peerNowUs := addSigned(nowUs, pr.SyncOffsetUs)
	peerSlot := int(d.sync.CurrentEAW(peerNowUs)) % channel.SequenceLength
	peerChan := channel.Num(pr.Sequence[peerSlot], d.channel.Encoding)

	return localChan != 0 && peerChan != 0 && localChan == peerChan
}

func (d *Daemon) eawPeriodUs() uint64 {
	return syncstate.TUToUsec(d.sync.AWPeriodTU * d.sync.PresenceMode)
}

// CanSendUnicastIn implements can_send_unicast_in(peer, now, G): if we are
// not currently on the same channel as peer, wait a full EAW and recheck.
// Otherwise this applies the same near-end/near-start guard as CanSendIn,
// except each branch first checks whether peer is co-channel with us one
// EAW in the direction that branch is guarding against (forward for "near
// the end of the window", backward for "near the start"): if so, the
// upcoming hop doesn't change anything, so the guard is skipped. This
// mirrors the original's direction-specific checks; checking both
// directions regardless of which branch is active would skip the guard in
// cases the original would still apply it.
func (d *Daemon) CanSendUnicastIn(nowUs uint64, pr *peer.Peer, guardTU uint16) float64 {
	if !d.sameChannelAsPeer(nowUs, pr) {
		return usecToSec(d.sync.NextAWUs(nowUs))
	}

	eawUs := d.eawPeriodUs()
	next := d.sync.NextAWTU(nowUs)
	switch {
	case next < guardTU:
		if d.sameChannelAsPeer(nowUs+eawUs, pr) {
			return 0
		}
		return -usecToSec(syncstate.TUToUsec(uint64(guardTU - next)))
	case eawLengthTU-next < guardTU:
		prevUs := uint64(0)
		if nowUs > eawUs {
			prevUs = nowUs - eawUs
		}
		if d.sameChannelAsPeer(prevUs, pr) {
			return 0
		}
		return usecToSec(syncstate.TUToUsec(uint64(guardTU - (eawLengthTU - next))))
	default:
		return 0
	}
}

func (d *Daemon) isMulticastEAW(nowUs uint64) bool {
	slot := int(d.sync.CurrentEAW(nowUs)) % channel.SequenceLength
	return slot == multicastSlotA || slot == multicastSlotB
}

// maybeSwitchChannel is the channel-switch timer: at an AW boundary, switch
// to the sequence slot for the current EAW if it names a non-null channel
// different from the one we are on. The availability check result is
// logged but never blocks the switch.
func (d *Daemon) maybeSwitchChannel(ctx context.Context, nowUs uint64) {
	slot := int(d.sync.CurrentEAW(nowUs)) % channel.SequenceLength
	next := d.channel.Sequence[slot]
	chanNum := channel.Num(next, d.channel.Encoding)

	if chanNum != 0 && next != d.channel.Current {
		if avail, err := d.platform.ChannelAvailable(ctx, chanNum); err != nil {
			d.log.WithError(err).Warning("channel availability check failed")
		} else if !avail {
			d.log.WithField("channel", chanNum).Warning("channel reported unavailable, switching anyway")
		}

		freq := channel.ToFrequency(int(chanNum))
		if err := d.platform.SetChannel(ctx, chanNum, freq); err != nil {
			d.log.WithError(err).Error("channel switch failed")
		} else {
			d.channel.Current = next
		}
	}

	d.nextChannelSwitchUs = nowUs + d.sync.NextAWUs(nowUs)
}

func (d *Daemon) sendAction(subtype frame.ActionSubtype, nowUs uint64) {
	out := d.builder.BuildActionFrame(frame.BSSID, subtype, nowUs)
	if err := d.wlan.Inject(out); err != nil {
		d.log.WithError(err).WithField("subtype", subtype).Error("action frame injection failed")
		d.counters.Inc(stats.TxFail)
		return
	}
	d.counters.Inc(stats.TxAction)
}

func (d *Daemon) firePSF(nowUs uint64) {
	d.sendAction(frame.ActionPSF, nowUs)
	d.nextPSFUs = nowUs + syncstate.TUToUsec(uint64(d.psfIntervalTU()))
}

// fireMIF is the MIF timer: it only transmits while tuned to a real
// channel, and always rearms for the midpoint of the upcoming EAW.
func (d *Daemon) fireMIF(nowUs uint64) {
	if channel.Num(d.channel.Current, d.channel.Encoding) != 0 {
		d.sendAction(frame.ActionMIF, nowUs)
	}
	d.nextMIFUs = nowUs + d.sync.NextAWUs(nowUs) + syncstate.TUToUsec(uint64(eawLengthTU)/2)
}

// runCleanup is the peer-cleanup timer: evict stale peers, then run one
// election round over whatever remains, and refresh the advertised PSF
// cadence for the role that election settled on.
func (d *Daemon) runCleanup(nowUs uint64) {
	cutoff := uint64(0)
	if nowUs > d.cfg.PeerTimeoutUs {
		cutoff = nowUs - d.cfg.PeerTimeoutUs
	}
	if removed := d.peers.RemoveExpired(cutoff); removed > 0 {
		d.counters.Add(stats.PeerEvicted, int64(removed))
	}

	d.election.Run(d.peers.Candidates())
	d.counters.Inc(stats.ElectionRuns)
	d.builder.State.PSFIntervalTU = d.psfIntervalTU()

	d.nextCleanupUs = nowUs + d.cfg.CleanIntervalUs
}

func (d *Daemon) tryMulticastTx(nowUs uint64) {
	if d.mcastQueue.Empty() {
		d.nextMcastCheckUs = nowUs + syncstate.TUToUsec(uint64(eawLengthTU))
		return
	}
	if !d.isMulticastEAW(nowUs) {
		d.nextMcastCheckUs = nowUs + syncstate.TUToUsec(uint64(d.sync.NextAWTU(nowUs)))
		return
	}
	if wait := d.CanSendIn(nowUs, multicastGuardTU); wait != 0 {
		d.nextMcastCheckUs = nowUs + secondsToUsec(wait)
		return
	}

	payload, ok := d.mcastQueue.Get(false)
	if !ok {
		return
	}
	if err := d.wlan.Inject(payload); err != nil {
		d.log.WithError(err).Error("multicast data injection failed")
		d.counters.Inc(stats.TxFail)
	} else {
		d.counters.Inc(stats.TxData)
		d.counters.Inc(stats.TxDataMulticast)
	}
	// More may be queued behind it; recheck without delay.
	d.nextMcastCheckUs = nowUs
}

func (d *Daemon) tryUnicastTx(nowUs uint64) {
	if d.ucastSlot == nil {
		d.nextUcastCheckUs = nowUs + syncstate.TUToUsec(uint64(eawLengthTU))
		return
	}

	pr, ok := d.peers.Get(d.ucastSlot.dst)
	if !ok {
		d.log.WithField("dst", d.ucastSlot.dst).Warning("unicast destination aged out before send, dropped")
		d.counters.Inc(stats.TxFail)
		d.ucastSlot = nil
		d.nextUcastCheckUs = nowUs
		return
	}

	if wait := d.CanSendUnicastIn(nowUs, pr, unicastGuardTU); wait != 0 {
		d.nextUcastCheckUs = nowUs + secondsToUsec(wait)
		return
	}

	if err := d.wlan.Inject(d.ucastSlot.frame); err != nil {
		d.log.WithError(err).Error("unicast data injection failed")
		d.counters.Inc(stats.TxFail)
	} else {
		d.counters.Inc(stats.TxData)
		d.counters.Inc(stats.TxDataUnicast)
	}
	d.ucastSlot = nil
	d.nextUcastCheckUs = nowUs
}

// classifyRxError accounts a Parse failure against the counter it belongs
// to, without ever treating it as fatal: wire errors count as malformed,
// the unrecognized-type sentinel counts separately, and every RX-benign
// Ignore* outcome counts as an expected ignore.
func (d *Daemon) classifyRxError(err error) {
	switch {
	case errors.Is(err, rx.ErrUnexpectedType):
		d.counters.Inc(stats.RxUnknown)
	case errors.Is(err, rx.ErrTooShort), errors.Is(err, rx.ErrUnexpectedFormat), errors.Is(err, rx.ErrUnexpectedValue):
		d.counters.Inc(stats.RxMalformed)
		d.log.WithError(err).Debug("dropping malformed frame")
	default:
		d.counters.Inc(stats.RxIgnored)
	}
}

func buildEthernetFrame(f rx.EthernetFrame) []byte {
	out := make([]byte, 14+len(f.Payload))
	copy(out[0:6], f.Dst[:])
	copy(out[6:12], f.Src[:])
	out[12] = byte(f.Ethertype >> 8)
	out[13] = byte(f.Ethertype)
	copy(out[14:], f.Payload)
	return out
}

// handleWLANFrame feeds one captured frame through the RX parser and
// forwards any synthesized Ethernet frames to the host TAP. A frame with no
// synthesized output and no error was a successfully processed action
// frame; one or more outputs means a data (or A-MSDU) frame.
func (d *Daemon) handleWLANFrame(raw []byte) {
	nowUs := d.now()
	frames, err := d.parser.Parse(raw, nowUs)
	if err != nil {
		d.classifyRxError(err)
		return
	}
	if len(frames) == 0 {
		d.counters.Inc(stats.RxAction)
		return
	}
	d.counters.Inc(stats.RxData)
	for _, f := range frames {
		if err := d.host.Write(buildEthernetFrame(f)); err != nil {
			d.log.WithError(err).Error("host tap write failed")
		}
	}
}

// handleHostFrame classifies an outbound Ethernet frame by the multicast
// bit of its destination address and routes it to the corresponding sink,
// kicking that sink's TX timer immediately. The caller (Run's select loop)
// guarantees this is only called when the destined sink has room.
func (d *Daemon) handleHostFrame(eth []byte) {
	if len(eth) < 14 {
		d.log.Warning("short ethernet frame from host, dropped")
		return
	}
	var dst, src wire.EtherAddr
	copy(dst[:], eth[0:6])
	copy(src[:], eth[6:12])
	ethertype := uint16(eth[12])<<8 | uint16(eth[13])
	payload := eth[14:]

	out := d.builder.BuildDataFrame(src, dst, ethertype, payload)
	nowUs := d.now()

	if dst.IsMulticast() {
		if !d.mcastQueue.PutStrict(out) {
			d.log.Warning("multicast queue full, frame dropped")
			return
		}
		d.tryMulticastTx(nowUs)
		return
	}

	d.ucastSlot = &pendingUnicast{frame: out, dst: dst}
	d.tryUnicastTx(nowUs)
}

// hostBackpressured reports whether either TX sink is saturated, the
// condition under which the event loop stops pulling frames from the host
// TAP until a TX timer drains one of them. A single read path cannot tell
// in advance whether the next already-buffered frame is unicast or
// multicast, so it must stop as soon as either sink could not accept one:
// otherwise an already-occupied unicast slot would be silently overwritten
// by the next unicast frame pulled off the TAP.
func (d *Daemon) hostBackpressured() bool {
	return d.ucastSlot != nil || d.mcastQueue.Full()
}

func (d *Daemon) nextDeadline(nowUs uint64) time.Duration {
	deadline := d.nextChannelSwitchUs
	for _, t := range []uint64{d.nextPSFUs, d.nextMIFUs, d.nextCleanupUs, d.nextUcastCheckUs, d.nextMcastCheckUs} {
		if t < deadline {
			deadline = t
		}
	}
	if deadline <= nowUs {
		return 0
	}
	return time.Duration(deadline-nowUs) * time.Microsecond
}

func (d *Daemon) fireDueTimers(ctx context.Context, nowUs uint64) {
	if nowUs >= d.nextChannelSwitchUs {
		d.maybeSwitchChannel(ctx, nowUs)
	}
	if nowUs >= d.nextPSFUs {
		d.firePSF(nowUs)
	}
	if nowUs >= d.nextMIFUs {
		d.fireMIF(nowUs)
	}
	if nowUs >= d.nextCleanupUs {
		d.runCleanup(nowUs)
	}
	if nowUs >= d.nextUcastCheckUs {
		d.tryUnicastTx(nowUs)
	}
	if nowUs >= d.nextMcastCheckUs {
		d.tryMulticastTx(nowUs)
	}
}

// drainWLAN pulls every already-buffered captured frame without blocking,
// the "re-queue if progress made" half of the WLAN readiness rule.
func (d *Daemon) drainWLAN(ch <-chan []byte) bool {
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return false
			}
			d.handleWLANFrame(raw)
		default:
			return true
		}
	}
}

// Run starts the event loop and blocks until ctx is cancelled or a
// platform collaborator's channel closes. It owns wlan/host for its
// lifetime and closes both on return.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.wlan.Close()
	defer d.host.Close()

	nowUs := d.now()
	d.nextChannelSwitchUs = nowUs + d.sync.NextAWUs(nowUs)
	d.nextPSFUs = nowUs + syncstate.TUToUsec(uint64(d.psfIntervalTU()))
	d.nextMIFUs = nowUs + d.sync.NextAWUs(nowUs) + syncstate.TUToUsec(uint64(eawLengthTU)/2)
	d.nextCleanupUs = nowUs + d.cfg.CleanIntervalUs
	d.nextUcastCheckUs = nowUs + syncstate.TUToUsec(uint64(eawLengthTU))
	d.nextMcastCheckUs = nowUs + syncstate.TUToUsec(uint64(eawLengthTU))

	wlanFrames := d.wlan.Frames()
	hostFrames := d.host.Frames()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for {
			timer := time.NewTimer(d.nextDeadline(d.now()))

			// Disabling this case via a nil channel when either TX sink is
			// occupied/full is the cooperative backpressure rule: the loop simply
			// stops offering to read from the host until a TX timer frees
			// a slot, with no frame ever read-then-dropped for lack of
			// room.
			hostCh := hostFrames
			if d.hostBackpressured() {
				hostCh = nil
			}

			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()

			case raw, ok := <-wlanFrames:
				timer.Stop()
				if !ok {
					return errors.New("daemon: WLAN capture closed")
				}
				d.handleWLANFrame(raw)
				if !d.drainWLAN(wlanFrames) {
					return errors.New("daemon: WLAN capture closed")
				}

			case eth, ok := <-hostCh:
				timer.Stop()
				if !ok {
					return errors.New("daemon: host TAP closed")
				}
				d.handleHostFrame(eth)

			case <-timer.C:
				d.fireDueTimers(ctx, d.now())
			}
		}
	})
	return eg.Wait()
}
