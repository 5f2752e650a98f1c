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

package frame

import (
	"encoding/binary"

	"github.com/openwifid/awdl/wire"
)

// Radiotap present-bit indices this implementation understands. Unlisted
// fields are skipped using the standard field size/alignment table, since
// every present field must be walked in bit order to find the ones we
// want.
const (
	RadiotapBitTSFT          = 0
	RadiotapBitFlags         = 1
	RadiotapBitRate          = 2
	RadiotapBitChannel       = 3
	RadiotapBitDBMAntSignal  = 5
	RadiotapBitExtPresent    = 31
)

// Radiotap flags bits (field at RadiotapBitFlags).
const (
	RadiotapFlagFCSAtEnd = 0x10
	RadiotapFlagBadFCS   = 0x40
)

type radiotapField struct {
	size  int
	align int
}

// radiotapFieldTable gives the size and alignment of every standard
// radiotap.org present-bit field this parser can skip over. Bits beyond
// what is listed here are never set by this implementation's own TX path;
// on RX, an unrecognized high bit only matters if it appears before a bit
// we care about, which does not happen for the field set captured here.
var radiotapFieldTable = map[int]radiotapField{
	0:  {8, 8}, // TSFT
	1:  {1, 1}, // Flags
	2:  {1, 1}, // Rate
	3:  {4, 2}, // Channel (freq + flags)
	4:  {2, 2}, // FHSS
	5:  {1, 1}, // dBm antenna signal
	6:  {1, 1}, // dBm antenna noise
	7:  {2, 2}, // Lock quality
	8:  {2, 2}, // TX attenuation
	9:  {2, 2}, // dB TX attenuation
	10: {1, 1}, // dBm TX power
	11: {1, 1}, // Antenna
	12: {1, 1}, // dB antenna signal
	13: {1, 1}, // dB antenna noise
	14: {2, 2}, // RX flags
	15: {2, 2}, // TX flags
	16: {1, 1}, // RTS retries
	17: {1, 1}, // Data retries
}

// RadiotapHeaderLen is the length of the fixed header preceding the first
// presence word.
const RadiotapHeaderLen = 8

// BuildRadiotapHeader emits a minimal radiotap header advertising only the
// RATE field, matching this implementation's TX path (rate fixed at 12,
// meaning 6 Mb/s in 500 kb/s units).
func BuildRadiotapHeader() []byte {
	b := wire.NewBuilder(RadiotapHeaderLen + 1)
	b.PutU8(0)    // it_version
	b.PutU8(0)    // it_pad
	b.PutLE16(uint16(RadiotapHeaderLen + 1))
	b.PutLE32(1 << RadiotapBitRate)
	b.PutU8(12)
	return b.Bytes()
}

// RadiotapInfo holds the fields this implementation extracts from a
// received radiotap header.
type RadiotapInfo struct {
	HeaderLen    int
	Flags        uint8
	HasFlags     bool
	DBMAntSignal int8
	HasSignal    bool
	TSFT         uint64
	HasTSFT      bool
}

// ParseRadiotap reads the radiotap header at the start of data and reports
// the fields this implementation cares about, along with the header's
// total length (data[:HeaderLen] should be stripped by the caller).
func ParseRadiotap(data []byte) (RadiotapInfo, error) {
	var info RadiotapInfo
	if len(data) < RadiotapHeaderLen {
		return info, wire.ErrOutOfBounds
	}
	headerLen := int(binary.LittleEndian.Uint16(data[2:4]))
	if headerLen > len(data) || headerLen < RadiotapHeaderLen {
		return info, wire.ErrOutOfBounds
	}
	info.HeaderLen = headerLen

	present := binary.LittleEndian.Uint32(data[4:8])
	offset := 8
	// Skip any extended presence words; none of our fields of interest
	// live past bit 31 of the first word.
	word := present
	for word&(1<<RadiotapBitExtPresent) != 0 {
		if offset+4 > len(data) {
			return info, wire.ErrOutOfBounds
		}
		word = binary.LittleEndian.Uint32(data[offset : offset+4])
		offset += 4
	}

	for bit := 0; bit < 32; bit++ {
		if present&(1<<uint(bit)) == 0 {
			continue
		}
		fld, known := radiotapFieldTable[bit]
		if !known {
			// We cannot safely continue walking past an unrecognized
			// field without knowing its size; stop field interpretation
			// here. The header length itself is still authoritative for
			// stripping.
			break
		}
		if fld.align > 1 && offset%fld.align != 0 {
			offset += fld.align - offset%fld.align
		}
		if offset+fld.size > len(data) || offset+fld.size > headerLen {
			break
		}
		switch bit {
		case RadiotapBitTSFT:
			info.TSFT = binary.LittleEndian.Uint64(data[offset:])
			info.HasTSFT = true
		case RadiotapBitFlags:
			info.Flags = data[offset]
			info.HasFlags = true
		case RadiotapBitDBMAntSignal:
			info.DBMAntSignal = int8(data[offset])
			info.HasSignal = true
		}
		offset += fld.size
	}

	return info, nil
}
