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

// Package tx assembles AWDL action and data frames: radiotap + 802.11 +
// AWDL action header + TLVs for PSF/MIF, and radiotap + 802.11 + LLC/SNAP +
// AWDL data shim for Ethernet payloads.
package tx

import (
	"hash/crc32"

	"github.com/openwifid/awdl/channel"
	"github.com/openwifid/awdl/election"
	"github.com/openwifid/awdl/frame"
	"github.com/openwifid/awdl/syncstate"
	"github.com/openwifid/awdl/wire"
)

// 802.11 frame-control values this implementation emits: management/action
// and data/data, both with no ToDS/FromDS/protected bits set.
const (
	frameControlAction uint16 = 0x00d0
	frameControlData   uint16 = 0x0008
)

const chanseqSlots = 16

// State is the live context a Builder reads from when assembling a frame:
// the node's own identity plus the three state machines that feed the TLVs.
type State struct {
	SelfAddr      wire.EtherAddr
	Name          string
	Version       uint8
	DevClass      uint8
	AppendFCS     bool
	PSFIntervalTU uint16

	Sync     *syncstate.State
	Election *election.State
	Channel  *channel.State
}

// Builder assembles AWDL frames, keeping the monotonically increasing
// 802.11 and AWDL data sequence counters across calls.
type Builder struct {
	State *State

	seq80211 uint16
	seqData  uint16
}

// NewBuilder returns a Builder reading from s.
func NewBuilder(s *State) *Builder {
	return &Builder{State: s}
}

func (b *Builder) next80211Sequence() uint16 {
	b.seq80211++
	return b.seq80211
}

func (b *Builder) nextDataSequence() uint16 {
	b.seqData++
	return b.seqData
}

func build80211Header(dst, src wire.EtherAddr, fc, seq uint16) []byte {
	bb := wire.NewBuilder(24)
	bb.PutLE16(fc)
	bb.PutLE16(0) // duration_id
	bb.PutEtherAddr(dst)
	bb.PutEtherAddr(src)
	bb.PutEtherAddr(frame.BSSID)
	bb.PutLE16(seq << 4)
	return bb.Bytes()
}

func buildActionHeader(subtype frame.ActionSubtype, nowUs uint64) []byte {
	bb := wire.NewBuilder(12)
	bb.PutU8(frame.VendorSpecificCategory)
	bb.PutBytes(frame.OUI[:])
	bb.PutU8(frame.ActionType)
	bb.PutU8(frame.VersionCompat)
	bb.PutU8(uint8(subtype))
	bb.PutU8(0) // reserved
	ts := uint32(nowUs)
	bb.PutLE32(ts) // phy_tx
	bb.PutLE32(ts) // target_tx
	return bb.Bytes()
}

func buildChanseq(ch *channel.State) []byte {
	encLen := channel.EncodingSize(ch.Encoding)
	if encLen < 0 {
		encLen = 1
	}
	bb := wire.NewBuilder(6 + chanseqSlots*encLen)
	bb.PutU8(frame.ChanSeqCount)
	bb.PutU8(uint8(ch.Encoding))
	bb.PutU8(frame.ChanSeqDuplicateCnt)
	bb.PutU8(frame.ChanSeqStepCount)
	bb.PutLE16(frame.ChanSeqFillChannel)
	for i := 0; i < chanseqSlots; i++ {
		bb.PutBytes(ch.Sequence[i].Val[:encLen])
	}
	return bb.Bytes()
}

func buildChanSeqTLV(ch *channel.State) []byte {
	bb := wire.NewBuilder(6 + chanseqSlots*2 + 3)
	bb.PutBytes(buildChanseq(ch))
	bb.PutU8(0)
	bb.PutU8(0)
	bb.PutU8(0)
	return bb.Bytes()
}

// buildSyncParamsTLV computes the remaining_aw_length clamp exactly as the
// reference implementation does: 0 if aw_com_length would underflow against
// (aw_period * presence_mode - tx_down_counter), otherwise the difference.
func buildSyncParamsTLV(s *State, nowUs uint64) []byte {
	sync := s.Sync
	elec := s.Election
	ch := s.Channel

	awPeriod := uint16(sync.AWPeriodTU)
	presenceMode := uint8(sync.PresenceMode)
	awComLength := awPeriod
	awExtLength := awPeriod
	txDownCounter := sync.NextAWTU(nowUs)
	nextAWSeq := sync.CurrentAW(nowUs)

	need := uint32(awPeriod)*uint32(presenceMode) - uint32(txDownCounter)
	remaining := uint16(0)
	if uint32(awComLength) >= need {
		remaining = awComLength - uint16(need)
	}

	bb := wire.NewBuilder(33 + 6 + chanseqSlots*2 + 2)
	bb.PutU8(channel.Num(ch.Current, ch.Encoding))
	bb.PutLE16(txDownCounter)
	bb.PutU8(channel.Num(ch.Master, ch.Encoding))
	bb.PutU8(0) // guard_time
	bb.PutLE16(awPeriod)
	bb.PutLE16(s.PSFIntervalTU)
	bb.PutLE16(frame.SyncParamsFlags)
	bb.PutLE16(awExtLength)
	bb.PutLE16(awComLength)
	bb.PutLE16(remaining)
	bb.PutU8(presenceMode - 1) // min_ext
	bb.PutU8(presenceMode - 1) // max_ext_multicast
	bb.PutU8(presenceMode - 1) // max_ext_unicast
	bb.PutU8(presenceMode - 1) // max_ext_af
	bb.PutEtherAddr(elec.MasterAddr)
	bb.PutU8(presenceMode)
	bb.PutU8(0) // reserved
	bb.PutLE16(nextAWSeq)
	bb.PutLE16(nextAWSeq) // ap_alignment mirrors next_aw_seq
	bb.PutBytes(buildChanseq(ch))
	bb.PutU8(0) // 2-byte padding
	bb.PutU8(0)
	return bb.Bytes()
}

func buildElectionParamsV1TLV(e *election.State) []byte {
	bb := wire.NewBuilder(21)
	bb.PutU8(0) // flags
	bb.PutLE16(0) // id
	bb.PutU8(e.Height) // distancetop
	bb.PutU8(0)        // unknown
	bb.PutEtherAddr(e.MasterAddr)
	bb.PutLE32(e.MasterMetric)
	bb.PutLE32(e.SelfMetric)
	bb.PutU8(0)
	bb.PutU8(0)
	return bb.Bytes()
}

func buildElectionParamsV2TLV(e *election.State) []byte {
	bb := wire.NewBuilder(40)
	bb.PutEtherAddr(e.MasterAddr)
	bb.PutEtherAddr(e.SyncAddr)
	bb.PutLE32(e.MasterCounter)
	bb.PutLE32(uint32(e.Height))
	bb.PutLE32(e.MasterMetric)
	bb.PutLE32(e.SelfMetric)
	bb.PutLE32(0) // unknown
	bb.PutLE32(0) // reserved
	bb.PutLE32(e.SelfCounter)
	return bb.Bytes()
}

func buildServiceParamsTLV() []byte {
	bb := wire.NewBuilder(9)
	bb.PutU8(0)
	bb.PutU8(0)
	bb.PutU8(0)
	bb.PutLE16(0) // sui
	bb.PutLE32(0) // bitmask
	return bb.Bytes()
}

func buildHTCapabilitiesTLV() []byte {
	bb := wire.NewBuilder(8)
	bb.PutLE16(0) // unknown
	bb.PutLE16(frame.HTCapabilities)
	bb.PutU8(frame.AMPDUParams)
	bb.PutU8(frame.RxMCS)
	bb.PutLE16(0) // unknown2
	return bb.Bytes()
}

func buildDataPathStateTLV(s *State) []byte {
	bb := wire.NewBuilder(16)
	bb.PutLE16(frame.DataPathStateFlags)
	bb.PutBytes([]byte{'X', '0', 0})
	masterChan := channel.Num(s.Channel.Master, channel.EncodingOpclass)
	bb.PutLE16(frame.SocialChannelBit(masterChan))
	bb.PutEtherAddr(s.SelfAddr)
	bb.PutLE16(0) // ext_flags
	return bb.Bytes()
}

// buildArpaTLV appends the ".local" DNS-suffix pointer directly after the
// hostname bytes, matching the reference implementation's literal
// AWDL_DNS_SHORT_LOCAL constant.
func buildArpaTLV(name string) []byte {
	bb := wire.NewBuilder(2 + len(name) + 2)
	bb.PutU8(3) // flags: only value ever observed
	bb.PutU8(uint8(len(name)))
	bb.PutBytes([]byte(name))
	bb.PutBE16(0xc00c)
	return bb.Bytes()
}

func buildVersionTLV(s *State) []byte {
	bb := wire.NewBuilder(2)
	bb.PutU8(s.Version)
	bb.PutU8(s.DevClass)
	return bb.Bytes()
}

// appendFCS computes a CRC-32 over everything in b written since radiotapLen
// (i.e. the 802.11 header through the last TLV, radiotap excluded) and
// appends it as the little-endian frame check sequence.
func appendFCS(b *wire.Builder, radiotapLen int) {
	crc := crc32.ChecksumIEEE(b.Bytes()[radiotapLen:])
	b.PutLE32(crc)
}

// BuildActionFrame assembles a complete PSF or MIF action frame addressed to
// dst, using nowUs as the monotonic microsecond clock sample for the action
// header timestamps and every time-derived TLV field.
func (b *Builder) BuildActionFrame(dst wire.EtherAddr, subtype frame.ActionSubtype, nowUs uint64) []byte {
	s := b.State
	out := wire.NewBuilder(256)
	out.PutBytes(frame.BuildRadiotapHeader())
	radiotapLen := out.Len()

	out.PutBytes(build80211Header(dst, s.SelfAddr, frameControlAction, b.next80211Sequence()))
	out.PutBytes(buildActionHeader(subtype, nowUs))

	out.PutTLV(uint8(frame.TLVSyncParams), buildSyncParamsTLV(s, nowUs))
	out.PutTLV(uint8(frame.TLVElectionParams), buildElectionParamsV1TLV(s.Election))
	out.PutTLV(uint8(frame.TLVChanSeq), buildChanSeqTLV(s.Channel))
	out.PutTLV(uint8(frame.TLVElectionParamsV2), buildElectionParamsV2TLV(s.Election))
	out.PutTLV(uint8(frame.TLVServiceParams), buildServiceParamsTLV())
	if subtype == frame.ActionMIF {
		out.PutTLV(uint8(frame.TLVEDRCapabilities), buildHTCapabilitiesTLV())
		out.PutTLV(uint8(frame.TLVArpa), buildArpaTLV(s.Name))
	}
	out.PutTLV(uint8(frame.TLVDataPathState), buildDataPathStateTLV(s))
	out.PutTLV(uint8(frame.TLVVersion), buildVersionTLV(s))

	if s.AppendFCS {
		appendFCS(out, radiotapLen)
	}
	return out.Bytes()
}

// BuildDataFrame assembles a complete AWDL data frame carrying an Ethernet
// payload of the given ethertype from src to dst.
func (b *Builder) BuildDataFrame(src, dst wire.EtherAddr, ethertype uint16, payload []byte) []byte {
	s := b.State
	out := wire.NewBuilder(64 + len(payload))
	out.PutBytes(frame.BuildRadiotapHeader())
	radiotapLen := out.Len()

	out.PutBytes(build80211Header(dst, src, frameControlData, b.next80211Sequence()))

	out.PutU8(0xaa) // dsap: SNAP extension used
	out.PutU8(0xaa) // ssap: SNAP extension used
	out.PutU8(0x03) // control
	out.PutBytes(frame.OUI[:])
	out.PutBE16(frame.LLCProtocolID)

	out.PutLE16(frame.DataShimHead)
	out.PutLE16(b.nextDataSequence())
	out.PutLE16(0) // pad
	out.PutBE16(ethertype)

	out.PutBytes(payload)

	if s.AppendFCS {
		appendFCS(out, radiotapLen)
	}
	return out.Bytes()
}
