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

// Package rx parses a captured frame -- radiotap onward -- into peer-table
// and sync/election state updates, and synthesized Ethernet frames for data
// and A-MSDU payloads.
package rx

import (
	"encoding/binary"
	"errors"

	"github.com/openwifid/awdl/channel"
	"github.com/openwifid/awdl/election"
	"github.com/openwifid/awdl/frame"
	"github.com/openwifid/awdl/peer"
	"github.com/openwifid/awdl/syncstate"
	"github.com/openwifid/awdl/wire"
)

// Wire errors: malformed or structurally invalid frame content. Local to one
// frame; never propagated past Parse's caller.
var (
	ErrTooShort         = errors.New("rx: frame too short")
	ErrUnexpectedFormat = errors.New("rx: unexpected frame format")
	ErrUnexpectedType   = errors.New("rx: unrecognized 802.11 type/subtype")
	ErrUnexpectedValue  = errors.New("rx: unexpected TLV field value")
)

// RX-benign errors: expected, silent outcomes that a caller accounts for in
// statistics but never logs as a failure.
var (
	ErrIgnore          = errors.New("rx: ignored")
	ErrIgnorePeer      = errors.New("rx: ignored, source is not a known peer")
	ErrIgnoreRSSI      = errors.New("rx: ignored, rssi below threshold")
	ErrIgnoreFailedCRC = errors.New("rx: ignored, bad frame check sequence")
	ErrIgnoreFromSelf  = errors.New("rx: ignored, source is self")
	// ErrIgnoreNoPromisc marks a unicast frame addressed to neither a
	// multicast group nor ourselves. No path in this parser currently
	// returns it -- the capture source is expected to apply BSSID/address
	// filtering before frames reach here -- but it is kept as a named
	// outcome for callers (statistics, logging) that enumerate every RX
	// result kind.
	ErrIgnoreNoPromisc = errors.New("rx: ignored, neither broadcast nor addressed to self")
)

// Default RSSI filter thresholds, in dBm.
const (
	defaultRSSIThreshold = -65
	defaultRSSIGrace     = -5
)

// Config configures a Parser's identity and RSSI filtering.
type Config struct {
	SelfAddr      wire.EtherAddr
	FilterRSSI    bool
	RSSIThreshold int8
	RSSIGrace     int8
}

// NewConfig returns a Config for self with the default RSSI threshold/grace
// and RSSI filtering disabled.
func NewConfig(self wire.EtherAddr) Config {
	return Config{SelfAddr: self, RSSIThreshold: defaultRSSIThreshold, RSSIGrace: defaultRSSIGrace}
}

// EthernetFrame is a frame synthesized from an AWDL data or A-MSDU subframe.
type EthernetFrame struct {
	Dst, Src  wire.EtherAddr
	Ethertype uint16
	Payload   []byte
}

// Parser holds the live state an incoming frame is checked against and
// folded into: the peer table, this node's election/sync view, and its
// channel configuration (for chanseq validation against presence mode).
type Parser struct {
	Config   Config
	Peers    *peer.Table
	Election *election.State
	Sync     *syncstate.State
	Channel  *channel.State
}

// NewParser returns a Parser wired to the given collaborators.
func NewParser(cfg Config, peers *peer.Table, elec *election.State, sync *syncstate.State, ch *channel.State) *Parser {
	return &Parser{Config: cfg, Peers: peers, Election: elec, Sync: sync, Channel: ch}
}

const ieee80211HeaderLen = 24
const actionHeaderLen = 16
const llcHeaderLen = 8
const dataShimLen = 8
const amsduSubframeHeaderLen = 14
const maxHostNameLength = 64

const (
	ftypeStypeMask = 0x000c | 0x00f0
	mgmtAction     = 0x0000 | 0x00d0
	dataData       = 0x0008 | 0x0000
	dataQoSData    = 0x0008 | 0x0080
)

const qosControlLen = 2
const qosAMSDUPresent = 0x0080

// Parse decodes one captured frame (radiotap onward) and returns any
// Ethernet frames it produced. Action frames never produce output; a nil
// slice with a nil error is their normal successful outcome.
func (p *Parser) Parse(data []byte, nowUs uint64) ([]EthernetFrame, error) {
	info, err := frame.ParseRadiotap(data)
	if err != nil {
		return nil, ErrUnexpectedFormat
	}
	rssi := int8(0)
	if info.HasSignal {
		rssi = info.DBMAntSignal
	}
	body := data[info.HeaderLen:]

	if info.HasFlags {
		if info.Flags&frame.RadiotapFlagBadFCS != 0 {
			return nil, ErrIgnoreFailedCRC
		}
		if info.Flags&frame.RadiotapFlagFCSAtEnd != 0 {
			if len(body) < 4 {
				return nil, ErrTooShort
			}
			body = body[:len(body)-4]
		}
	}
	// If flags are absent altogether, admit the frame unchanged: many
	// capture sources never populate the radiotap flags field.

	if len(body) < ieee80211HeaderLen {
		return nil, ErrTooShort
	}
	fc := binary.LittleEndian.Uint16(body[0:2])
	var dst, src wire.EtherAddr
	copy(dst[:], body[4:10])
	copy(src[:], body[10:16])

	if src == p.Config.SelfAddr {
		return nil, ErrIgnoreFromSelf
	}
	body = body[ieee80211HeaderLen:]

	switch fc & ftypeStypeMask {
	case mgmtAction:
		return nil, p.parseAction(body, rssi, nowUs, src)
	case dataQoSData:
		if len(body) < qosControlLen {
			return nil, ErrTooShort
		}
		qos := binary.LittleEndian.Uint16(body[0:2])
		body = body[qosControlLen:]
		if qos&qosAMSDUPresent != 0 {
			return p.parseAMSDU(body)
		}
		f, err := p.parseData(body, dst, src)
		return wrapSingle(f), err
	case dataData:
		f, err := p.parseData(body, dst, src)
		return wrapSingle(f), err
	default:
		return nil, ErrUnexpectedType
	}
}

func wrapSingle(f *EthernetFrame) []EthernetFrame {
	if f == nil {
		return nil
	}
	return []EthernetFrame{*f}
}

func (p *Parser) parseAction(data []byte, rssi int8, nowUs uint64, src wire.EtherAddr) error {
	if len(data) < actionHeaderLen {
		return ErrTooShort
	}
	category := data[0]
	var oui [3]byte
	copy(oui[:], data[1:4])
	typ := data[4]
	version := data[5]
	subtype := frame.ActionSubtype(data[6])

	valid := category == frame.VendorSpecificCategory && oui == frame.OUI &&
		typ == frame.ActionType && version == frame.VersionCompat &&
		(subtype == frame.ActionPSF || subtype == frame.ActionMIF)
	if !valid {
		return ErrIgnore
	}

	if p.Config.FilterRSSI {
		_, known := p.Peers.Get(src)
		if known && rssi < p.Config.RSSIThreshold+p.Config.RSSIGrace {
			return ErrIgnoreRSSI
		}
		if !known && rssi < p.Config.RSSIThreshold {
			return ErrIgnoreRSSI
		}
	}

	pr, _ := p.Peers.Add(src, nowUs)

	tlvData := data[actionHeaderLen:]
	b := wire.NewBuffer(tlvData)
	offset := 0
	for offset < len(tlvData) {
		next, tlv, err := b.ReadTLV(offset)
		if err != nil {
			return ErrUnexpectedFormat
		}
		if err := p.handleTLV(pr, frame.TLVType(tlv.Type), tlv.Value, src, nowUs); err != nil {
			return ErrUnexpectedFormat
		}
		offset = next
	}

	if subtype == frame.ActionMIF {
		pr.SentMIF = true
	}
	// Re-check the validity predicate now that every TLV has landed, so the
	// transition callback fires on the frame that actually completes it.
	p.Peers.Add(src, nowUs)
	return nil
}

func (p *Parser) handleTLV(pr *peer.Peer, typ frame.TLVType, val []byte, src wire.EtherAddr, nowUs uint64) error {
	switch typ {
	case frame.TLVSyncParams:
		return p.handleSyncParams(pr, val, src, nowUs)
	case frame.TLVChanSeq:
		return p.handleChanSeq(pr, val)
	case frame.TLVElectionParams:
		return p.handleElectionParamsV1(pr, val)
	case frame.TLVElectionParamsV2:
		return p.handleElectionParamsV2(pr, val)
	case frame.TLVArpa:
		return p.handleArpa(pr, val)
	case frame.TLVDataPathState:
		return p.handleDataPathState(pr, val)
	case frame.TLVVersion:
		return p.handleVersion(pr, val)
	default:
		// Includes the sync-tree TLV (known-buggy on wire, intentionally
		// not consumed) and any vendor TLV this implementation does not
		// recognize.
		return nil
	}
}

func (p *Parser) handleSyncParams(pr *peer.Peer, val []byte, src wire.EtherAddr, nowUs uint64) error {
	b := wire.NewBuffer(val)
	var ttna, awCounter uint16
	if err := b.ReadLE16(1, &ttna); err != nil {
		return err
	}
	if err := b.ReadLE16(29, &awCounter); err != nil {
		return err
	}

	// Every peer's sync-params TLV carries its own down-counter to its next
	// AW boundary, which tells us how far its hopping schedule leads or
	// trails ours regardless of whether it is our sync parent. Channel
	// coordination (the daemon's sameChannelAsPeer) needs this for every peer; only the
	// sync parent's advertisement disciplines our own schedule below.
	pr.SyncOffsetUs = int64(p.Sync.NextAWUs(nowUs)) - int64(syncstate.TUToUsec(uint64(ttna)))

	if !p.Election.IsSyncMaster(src) {
		return nil
	}
	p.Sync.ObserveMaster(nowUs, ttna, awCounter)
	return nil
}

func (p *Parser) handleChanSeq(pr *peer.Peer, val []byte) error {
	b := wire.NewBuffer(val)
	var count, encodingByte, dup, step uint8
	var fill uint16
	if err := b.ReadU8(0, &count); err != nil {
		return err
	}
	if int(count)+1 != channel.SequenceLength {
		return ErrUnexpectedValue
	}
	if err := b.ReadU8(1, &encodingByte); err != nil {
		return err
	}
	if err := b.ReadU8(2, &dup); err != nil {
		return err
	}
	if dup != 0 {
		return ErrUnexpectedValue
	}
	if err := b.ReadU8(3, &step); err != nil {
		return err
	}
	if int(step)+1 != int(p.Sync.PresenceMode) {
		return ErrUnexpectedValue
	}
	if err := b.ReadLE16(4, &fill); err != nil {
		return err
	}
	if fill != frame.ChanSeqFillChannel {
		return ErrUnexpectedValue
	}

	encSize := channel.EncodingSize(channel.Encoding(encodingByte))
	if encSize < 1 {
		return ErrUnexpectedValue
	}

	var seq channel.Sequence
	offset := 6
	for i := 0; i < channel.SequenceLength; i++ {
		raw, err := b.ReadBytes(offset, encSize)
		if err != nil {
			return err
		}
		copy(seq[i].Val[:encSize], raw)
		offset += encSize
	}
	pr.Sequence = seq
	return nil
}

func (p *Parser) handleElectionParamsV1(pr *peer.Peer, val []byte) error {
	if pr.SupportsV2 {
		return nil
	}
	b := wire.NewBuffer(val)
	var height uint8
	var masterAddr wire.EtherAddr
	var masterMetric uint32
	if err := b.ReadU8(3, &height); err != nil {
		return err
	}
	if err := b.ReadEtherAddr(5, &masterAddr); err != nil {
		return err
	}
	if err := b.ReadLE32(11, &masterMetric); err != nil {
		return err
	}
	// self_metric @15 describes the peer's own tie-break input, not
	// consumed by our election comparison; read for bounds-checking only.
	if _, err := b.ReadBytes(15, 4); err != nil {
		return err
	}
	pr.Election.Height = height
	pr.Election.MasterAddr = masterAddr
	pr.Election.MasterMetric = masterMetric
	return nil
}

func (p *Parser) handleElectionParamsV2(pr *peer.Peer, val []byte) error {
	b := wire.NewBuffer(val)
	var masterAddr, syncAddr wire.EtherAddr
	var masterCounter, height32, masterMetric uint32
	if err := b.ReadEtherAddr(0, &masterAddr); err != nil {
		return err
	}
	if err := b.ReadEtherAddr(6, &syncAddr); err != nil {
		return err
	}
	if err := b.ReadLE32(12, &masterCounter); err != nil {
		return err
	}
	if err := b.ReadLE32(16, &height32); err != nil {
		return err
	}
	if err := b.ReadLE32(20, &masterMetric); err != nil {
		return err
	}
	if _, err := b.ReadBytes(24, 4); err != nil { // self_metric: not consumed
		return err
	}
	if _, err := b.ReadBytes(36, 4); err != nil { // self_counter: not consumed
		return err
	}

	pr.Election.MasterAddr = masterAddr
	pr.Election.SyncAddr = syncAddr
	pr.Election.MasterCounter = masterCounter
	pr.Election.Height = uint8(height32)
	pr.Election.MasterMetric = masterMetric
	pr.SupportsV2 = true
	return nil
}

func (p *Parser) handleArpa(pr *peer.Peer, val []byte) error {
	b := wire.NewBuffer(val)
	_, name, err := b.ReadIntString(1, maxHostNameLength)
	if err != nil {
		return err
	}
	pr.Name = name
	return nil
}

// handleDataPathState walks the optional sub-fields in the order their
// presence bits are checked by the reference implementation: unlike the TX
// side (which always emits a fixed layout), the fields actually present
// here depend entirely on which flag bits are set, so the offset of every
// field but the first is conditional on what came before it.
func (p *Parser) handleDataPathState(pr *peer.Peer, val []byte) error {
	b := wire.NewBuffer(val)
	var flags uint16
	if err := b.ReadLE16(0, &flags); err != nil {
		return err
	}
	offset := 2

	if flags&frame.DataPathFlagCountryCode != 0 {
		raw, err := b.ReadBytes(offset, 3)
		if err != nil {
			return err
		}
		pr.CountryCode = [2]byte{raw[0], raw[1]}
		offset += 3
	}
	if flags&frame.DataPathFlagSocialChannelMap != 0 {
		if _, err := b.ReadBytes(offset, 2); err != nil { // supported social channels: not retained
			return err
		}
		offset += 2
	}
	if flags&frame.DataPathFlagInfraInfo != 0 {
		if _, err := b.ReadBytes(offset, 6); err != nil { // BSSID: not retained
			return err
		}
		offset += 6
		if _, err := b.ReadBytes(offset, 2); err != nil { // channel: not retained
			return err
		}
		offset += 2
	}
	if flags&frame.DataPathFlagInfraAddress != 0 {
		var addr wire.EtherAddr
		if err := b.ReadEtherAddr(offset, &addr); err != nil {
			return err
		}
		pr.InfraAddr = addr
		offset += 6
	}
	if flags&frame.DataPathFlagAWDLAddress != 0 {
		if _, err := b.ReadBytes(offset, 6); err != nil { // sender's AWDL address: not retained
			return err
		}
		offset += 6
	}
	return nil
}

func (p *Parser) handleVersion(pr *peer.Peer, val []byte) error {
	b := wire.NewBuffer(val)
	var version, devclass uint8
	if err := b.ReadU8(0, &version); err != nil {
		return err
	}
	if err := b.ReadU8(1, &devclass); err != nil {
		return err
	}
	pr.Version = version
	pr.DevClass = devclass
	return nil
}

// parseData validates the LLC/SNAP + AWDL data shim and synthesizes an
// Ethernet frame from the remaining payload.
func (p *Parser) parseData(data []byte, dst, src wire.EtherAddr) (*EthernetFrame, error) {
	if _, ok := p.Peers.Get(src); !ok {
		return nil, ErrIgnorePeer
	}
	if len(data) < llcHeaderLen {
		return nil, ErrUnexpectedFormat
	}
	if data[0] != 0xaa || data[1] != 0xaa || data[2] != 0x03 {
		return nil, ErrUnexpectedFormat
	}
	var oui [3]byte
	copy(oui[:], data[3:6])
	if oui != frame.OUI {
		return nil, ErrUnexpectedFormat
	}
	if binary.BigEndian.Uint16(data[6:8]) != frame.LLCProtocolID {
		return nil, ErrUnexpectedFormat
	}
	data = data[llcHeaderLen:]

	if len(data) < dataShimLen {
		return nil, ErrTooShort
	}
	ethertype := binary.BigEndian.Uint16(data[6:8])
	payload := data[dataShimLen:]

	return &EthernetFrame{Dst: dst, Src: src, Ethertype: ethertype, Payload: payload}, nil
}

// parseAMSDU iterates A-MSDU subframes, each dst(6)‖src(6)‖length(BE16)
// followed by that many payload bytes, padded to a 4-byte boundary between
// subframes.
func (p *Parser) parseAMSDU(data []byte) ([]EthernetFrame, error) {
	var out []EthernetFrame
	for len(data) > 0 {
		if len(data) < amsduSubframeHeaderLen {
			return out, ErrTooShort
		}
		var subDst, subSrc wire.EtherAddr
		copy(subDst[:], data[0:6])
		copy(subSrc[:], data[6:12])
		subLen := int(binary.BigEndian.Uint16(data[12:14]))
		data = data[amsduSubframeHeaderLen:]
		if subLen > len(data) {
			return out, ErrTooShort
		}
		sub := data[:subLen]

		f, err := p.parseData(sub, subDst, subSrc)
		if err != nil {
			return out, err
		}
		if f != nil {
			out = append(out, *f)
		}
		data = data[subLen:]

		if len(data) > 0 {
			pad := (4 - (amsduSubframeHeaderLen+subLen)%4) % 4
			if pad > len(data) {
				return out, ErrTooShort
			}
			data = data[pad:]
		}
	}
	return out, nil
}
