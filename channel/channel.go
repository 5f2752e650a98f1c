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

// Package channel implements the 16-slot AWDL channel sequence, its three
// wire encodings, and IEEE 802.11 channel/frequency conversion.
package channel

// SequenceLength is the fixed number of slots in a channel sequence,
// matching the number of EAWs one full sequence spans.
const SequenceLength = 16

// Encoding identifies how a Chan value is packed on the wire.
type Encoding uint8

// Supported channel encodings.
const (
	EncodingSimple  Encoding = 0
	EncodingLegacy  Encoding = 1
	EncodingOpclass Encoding = 3
)

// EncodingSize returns the number of bytes a Chan occupies under enc, or -1
// for an unrecognized encoding.
func EncodingSize(enc Encoding) int {
	switch enc {
	case EncodingSimple:
		return 1
	case EncodingLegacy, EncodingOpclass:
		return 2
	default:
		return -1
	}
}

// Chan is a single channel-sequence slot as it appears on the wire. Val
// holds up to two raw bytes; interpretation is encoding-dependent.
type Chan struct {
	Val [2]byte
}

// Canonical channel values used by the static/active/idle sequence
// initializers. These mirror CHAN_NULL / CHAN_OPCLASS_{6,44,149}.
var (
	Null        = Chan{Val: [2]byte{0, 0x00}}
	Opclass6    = Chan{Val: [2]byte{6, 0x51}}
	Opclass44   = Chan{Val: [2]byte{44, 0x80}}
	Opclass149  = Chan{Val: [2]byte{149, 0x80}}
)

// Num extracts the numeric channel from c under encoding enc, or 0 for an
// unrecognized encoding (all three supported encodings place chan_num in
// Val[0]).
func Num(c Chan, enc Encoding) uint8 {
	switch enc {
	case EncodingSimple, EncodingLegacy, EncodingOpclass:
		return c.Val[0]
	default:
		return 0
	}
}

// Sequence is the 16-slot channel hopping plan.
type Sequence [SequenceLength]Chan

// InitActive returns the "active" sequence shape: 8 slots of channel 149
// followed by 8 slots of channel 6.
func InitActive() Sequence {
	var seq Sequence
	for i := range seq {
		if i < 8 {
			seq[i] = Opclass149
		} else {
			seq[i] = Opclass6
		}
	}
	return seq
}

// InitIdle returns the "idle" sequence shape: channel 149 at slots 0, 9 and
// 10, channel 6 at slot 8, and the null channel elsewhere.
func InitIdle() Sequence {
	var seq Sequence
	for i := range seq {
		switch i {
		case 8:
			seq[i] = Opclass6
		case 0, 9, 10:
			seq[i] = Opclass149
		default:
			seq[i] = Null
		}
	}
	return seq
}

// InitStatic returns a sequence with every slot set to c. This is the
// default sequence shipped by the daemon.
func InitStatic(c Chan) Sequence {
	var seq Sequence
	for i := range seq {
		seq[i] = c
	}
	return seq
}

// State is the live channel configuration: the wire encoding in use, the
// current hopping sequence, the operator-configured master channel, and the
// channel presently tuned on the radio.
type State struct {
	Encoding Encoding
	Sequence Sequence
	Master   Chan
	Current  Chan
}

// ToFrequency converts an IEEE 802.11 channel number to its center
// frequency in MHz, per 802.11 §17.3.8.3.2 and Annex J. It returns 0 for
// channel numbers with no defined mapping.
func ToFrequency(chanNum int) int {
	if chanNum <= 0 {
		return 0
	}

	// 2.4 GHz band.
	if chanNum == 14 {
		return 2484
	}
	if chanNum < 14 {
		return 2407 + chanNum*5
	}

	// 5 GHz band.
	if chanNum < 32 {
		return 0
	}
	if chanNum >= 182 && chanNum <= 196 {
		// Japan-only 4.9 GHz extension.
		return 4000 + chanNum*5
	}
	return 5000 + chanNum*5
}

// ToChannel converts a center frequency in MHz to its IEEE 802.11 channel
// number, the inverse of ToFrequency (and covering the DMG 60 GHz band,
// which ToFrequency does not produce but many capture sources report). It
// returns 0 for frequencies with no defined mapping.
func ToChannel(freqMHz int) int {
	switch {
	case freqMHz == 2484:
		return 14
	case freqMHz < 2484:
		return (freqMHz - 2407) / 5
	case freqMHz >= 4910 && freqMHz <= 4980:
		return (freqMHz - 4000) / 5
	case freqMHz <= 45000:
		return (freqMHz - 5000) / 5
	case freqMHz >= 58320 && freqMHz <= 64800:
		return (freqMHz - 56160) / 2160
	default:
		return 0
	}
}
