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

// Package frame holds the AWDL wire constants and TLV type enumeration:
// the vendor OUI and BSSID, the action header layout, and every recognized
// TLV type, mirroring the way ptp/protocol enumerates PTP message and TLV
// types.
package frame

import "github.com/openwifid/awdl/wire"

// LLCProtocolID is the fixed SNAP protocol ID used in the LLC/SNAP header
// that precedes every AWDL data frame (distinct from the ethertype carried
// in the AWDL data shim itself).
const LLCProtocolID = 0x0800

// EthertypeIPv4 and EthertypeIPv6 are the only AWDL data-shim ethertypes
// this implementation builds; others are passed through unmodified on
// decode.
const (
	EthertypeIPv4 = 0x0800
	EthertypeIPv6 = 0x86DD
)

// OUI is the AWDL vendor-specific organizationally unique identifier.
var OUI = [3]byte{0x00, 0x17, 0xf2}

// BSSID is the fixed group address AWDL frames are addressed to.
var BSSID = wire.EtherAddr{0x00, 0x25, 0x00, 0xff, 0x94, 0x73}

// VendorSpecificCategory is the 802.11 management-action category value
// used by every AWDL action frame.
const VendorSpecificCategory = 127

// ActionType is the fixed "type" byte following the OUI in an AWDL action
// header.
const ActionType = 8

// VersionCompat packs the AWDL protocol version (major.minor) this
// implementation advertises: 1.0.
const VersionCompat uint8 = 1<<4 | 0

// PackedVersion packs a major/minor pair the way AWDL packs its 4.4-bit
// protocol version byte.
func PackedVersion(major, minor uint8) uint8 {
	return (major << 4) | (minor & 0x0f)
}

// UnpackVersion splits a packed 4.4 version byte back into major/minor.
func UnpackVersion(v uint8) (major, minor uint8) {
	return v >> 4, v & 0x0f
}

// ActionSubtype identifies the kind of AWDL action frame.
type ActionSubtype uint8

// Recognized action subtypes.
const (
	ActionPSF ActionSubtype = 0
	ActionMIF ActionSubtype = 3
)

// String renders the action subtype for logging.
func (t ActionSubtype) String() string {
	switch t {
	case ActionPSF:
		return "PSF"
	case ActionMIF:
		return "MIF"
	default:
		return "UNKNOWN"
	}
}

// TLVType identifies an AWDL action-frame TLV.
type TLVType uint8

// Recognized TLV types. Values not listed here are logged and ignored on
// receipt, per the vendor-TLV-fidelity non-goal.
const (
	TLVSSTHRequest           TLVType = 0
	TLVServiceRequest        TLVType = 1
	TLVServiceResponse       TLVType = 2
	TLVSyncParams            TLVType = 4
	TLVElectionParams        TLVType = 5
	TLVServiceParams         TLVType = 6
	TLVEDRCapabilities       TLVType = 7
	TLVDataPathState         TLVType = 12
	TLVArpa                  TLVType = 16
	TLVChanSeq               TLVType = 18
	TLVSyncTree              TLVType = 20
	TLVVersion               TLVType = 21
	TLVBloomFilter           TLVType = 22
	TLVNANSync               TLVType = 23
	TLVElectionParamsV2      TLVType = 24
)

// String renders the TLV type for logging.
func (t TLVType) String() string {
	switch t {
	case TLVSSTHRequest:
		return "SSTH_REQUEST"
	case TLVServiceRequest:
		return "SERVICE_REQUEST"
	case TLVServiceResponse:
		return "SERVICE_RESPONSE"
	case TLVSyncParams:
		return "SYNCHRONIZATION_PARAMETERS"
	case TLVElectionParams:
		return "ELECTION_PARAMETERS"
	case TLVServiceParams:
		return "SERVICE_PARAMETERS"
	case TLVEDRCapabilities:
		return "ENHANCED_DATA_RATE_CAPABILITIES"
	case TLVDataPathState:
		return "DATA_PATH_STATE"
	case TLVArpa:
		return "ARPA"
	case TLVChanSeq:
		return "CHAN_SEQ"
	case TLVSyncTree:
		return "SYNCTREE"
	case TLVVersion:
		return "VERSION"
	case TLVBloomFilter:
		return "BLOOM_FILTER"
	case TLVNANSync:
		return "NAN_SYNC"
	case TLVElectionParamsV2:
		return "ELECTION_PARAMETERS_V2"
	default:
		return "UNKNOWN"
	}
}

// Data-path-state optional-field presence bits.
const (
	DataPathFlagInfraInfo       = 0x0001
	DataPathFlagInfraAddress    = 0x0002
	DataPathFlagAWDLAddress     = 0x0004
	DataPathFlagUMI             = 0x0010
	DataPathFlagCountryCode     = 0x0100
	DataPathFlagSocialChannelMap = 0x0200
)

// SyncParamsFlags is the fixed flags value this implementation advertises
// in the sync-params TLV.
const SyncParamsFlags = 0x1800

// DataPathStateFlags is the fixed flags value this implementation
// advertises in the data-path-state TLV (country code + social channel map
// + AWDL address present).
const DataPathStateFlags = 0x8f24

// HTCapabilities, AMPDUParams and RxMCS are the fixed HT-capabilities TLV
// field values this implementation advertises.
const (
	HTCapabilities = 0x11ce
	AMPDUParams    = 0x1b
	RxMCS          = 0xff
)

// ChanSeqSentinel values used in the embedded channel-sequence field.
const (
	ChanSeqCount        = 15 // AWDL_CHANSEQ_LENGTH - 1
	ChanSeqDuplicateCnt = 0
	ChanSeqStepCount    = 3
	ChanSeqFillChannel  = 0xffff
)

// DataShimHead is the fixed first field of the AWDL data shim prepended to
// every data frame payload.
const DataShimHead = 0x0403

// SocialChannelBit returns the data-path-state social-channel-map bit for
// a master channel number: 6 -> 0x0001, 44 -> 0x0002, anything else
// (including 149) -> 0x0004.
func SocialChannelBit(masterChan uint8) uint16 {
	switch masterChan {
	case 6:
		return 0x0001
	case 44:
		return 0x0002
	default:
		return 0x0004
	}
}
