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

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	b := NewOwnedBuffer(16)

	require.NoError(t, b.WriteU8(0, 0xab))
	var u8 uint8
	require.NoError(t, b.ReadU8(0, &u8))
	require.Equal(t, uint8(0xab), u8)

	require.NoError(t, b.WriteLE16(1, 0x1234))
	var le16 uint16
	require.NoError(t, b.ReadLE16(1, &le16))
	require.Equal(t, uint16(0x1234), le16)

	require.NoError(t, b.WriteBE16(3, 0x1234))
	var be16 uint16
	require.NoError(t, b.ReadBE16(3, &be16))
	require.Equal(t, uint16(0x1234), be16)

	require.NoError(t, b.WriteLE32(5, 0xdeadbeef))
	var le32 uint32
	require.NoError(t, b.ReadLE32(5, &le32))
	require.Equal(t, uint32(0xdeadbeef), le32)

	addr := EtherAddr{1, 2, 3, 4, 5, 6}
	require.NoError(t, b.WriteEtherAddr(9, addr))
	var got EtherAddr
	require.NoError(t, b.ReadEtherAddr(9, &got))
	require.Equal(t, addr, got)
}

func TestOutOfBoundsDoesNotMutate(t *testing.T) {
	b := NewOwnedBuffer(4)
	before := append([]byte(nil), b.Bytes()...)

	require.ErrorIs(t, b.WriteU8(4, 1), ErrOutOfBounds)
	require.ErrorIs(t, b.WriteLE32(2, 1), ErrOutOfBounds)
	require.ErrorIs(t, b.ReadU8(-1, nil), ErrOutOfBounds)

	require.Equal(t, before, b.Bytes())
}

func TestStripAndTake(t *testing.T) {
	b := NewBuffer([]byte{1, 2, 3, 4, 5})
	require.NoError(t, b.Strip(2))
	require.Equal(t, []byte{3, 4, 5}, b.Bytes())
	require.NoError(t, b.Take(2))
	require.Equal(t, []byte{3, 4}, b.Bytes())

	require.ErrorIs(t, b.Strip(-1), ErrOutOfBounds)
	require.ErrorIs(t, b.Strip(10), ErrOutOfBounds)
	require.ErrorIs(t, b.Take(10), ErrOutOfBounds)
}

func TestReadIntString(t *testing.T) {
	b := NewBuffer([]byte{5, 'h', 'e', 'l', 'l', 'o', 0xff})
	consumed, s, err := b.ReadIntString(0, 63)
	require.NoError(t, err)
	require.Equal(t, 6, consumed)
	require.Equal(t, "hello", s)

	_, s, err = b.ReadIntString(0, 3)
	require.NoError(t, err)
	require.Equal(t, "hel", s)
}

func TestReadIntStringTruncatesBeforeBoundsCheck(t *testing.T) {
	// Declared length (10) overruns the buffer, but max (2) truncates the
	// read to a length that fits; the bounds check must run against the
	// truncated length, not the declared one, so this succeeds rather than
	// returning ErrOutOfBounds.
	b := NewBuffer([]byte{10, 'h', 'i'})
	consumed, s, err := b.ReadIntString(0, 2)
	require.NoError(t, err)
	require.Equal(t, 3, consumed)
	require.Equal(t, "hi", s)
}

func TestTLVRoundTrip(t *testing.T) {
	builder := NewBuilder(0)
	builder.PutTLV(4, []byte{0xaa, 0xbb, 0xcc})

	b := NewBuffer(builder.Bytes())
	next, tlv, err := b.ReadTLV(0)
	require.NoError(t, err)
	require.Equal(t, uint8(4), tlv.Type)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc}, tlv.Value)
	require.Equal(t, b.Len(), next)
}

func TestReadTLVOutOfBounds(t *testing.T) {
	b := NewBuffer([]byte{4, 0xff, 0xff})
	_, _, err := b.ReadTLV(0)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestEtherAddrHelpers(t *testing.T) {
	mcast := EtherAddr{0x01, 0, 0, 0, 0, 0}
	require.True(t, mcast.IsMulticast())

	ucast := EtherAddr{0x02, 0, 0, 0, 0, 0}
	require.False(t, ucast.IsMulticast())

	require.True(t, EtherAddr{}.IsZero())
	require.Equal(t, "01:02:03:04:05:06", EtherAddr{1, 2, 3, 4, 5, 6}.String())

	a := EtherAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	b := EtherAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestLinkLocalIPv6(t *testing.T) {
	addr := EtherAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	ip := addr.LinkLocalIPv6()
	require.Equal(t, "fe80::ff:fe00:1", ip.String())
}
