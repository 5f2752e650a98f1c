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

// Package wire implements a bounds-checked cursor over a byte region, the
// primitive every AWDL frame (de)serializer in this module is built on.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// ErrOutOfBounds is returned whenever a read, write, strip or take would
// reach past either end of the underlying byte region.
var ErrOutOfBounds = errors.New("wire: out of bounds")

// EtherAddrLen is the length in bytes of an 802 hardware address.
const EtherAddrLen = 6

// EtherAddr is a 6-byte hardware address.
type EtherAddr [EtherAddrLen]byte

// String renders the address in colon-separated hex, lowercase.
func (a EtherAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsMulticast reports whether the first octet has the multicast bit set.
func (a EtherAddr) IsMulticast() bool {
	return a[0]&0x01 != 0
}

// IsZero reports whether the address is all-zero.
func (a EtherAddr) IsZero() bool {
	return a == EtherAddr{}
}

// Less defines a total order used for election tie-breaking: byte-wise
// unsigned comparison, most significant octet first.
func (a EtherAddr) Less(b EtherAddr) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// LinkLocalIPv6 derives the fe80::/64 modified-EUI-64 address for a, the
// address AWDL uses to key OS neighbor-cache entries: the 24-bit OUI, the
// fixed 0xfffe middle octets, the 24-bit NIC-specific part, with the
// universal/local bit of the first octet flipped.
func (a EtherAddr) LinkLocalIPv6() net.IP {
	ip := make(net.IP, net.IPv6len)
	ip[0], ip[1] = 0xfe, 0x80
	ip[8] = a[0] ^ 0x02
	ip[9] = a[1]
	ip[10] = a[2]
	ip[11] = 0xff
	ip[12] = 0xfe
	ip[13] = a[3]
	ip[14] = a[4]
	ip[15] = a[5]
	return ip
}

// Buffer is a mutable, bounds-checked view over a byte slice. It plays the
// role of both the "owned" and "borrowed" buffer kinds from the reference
// design: a Buffer wrapping a freshly allocated slice is owned, one wrapping
// a slice borrowed from elsewhere (e.g. a capture buffer) is not freed by
// the Buffer itself -- Go's GC makes the distinction moot, but Strip/Take
// still behave identically either way.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data for bounds-checked reads and writes in place.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// NewOwnedBuffer allocates a new zeroed buffer of the given length.
func NewOwnedBuffer(length int) *Buffer {
	return &Buffer{data: make([]byte, length)}
}

// Bytes returns the buffer's current backing slice.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes currently in the buffer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Strip removes n bytes from the front of the buffer.
func (b *Buffer) Strip(n int) error {
	if n < 0 || n > len(b.data) {
		return ErrOutOfBounds
	}
	b.data = b.data[n:]
	return nil
}

// Take truncates the buffer to its first n bytes, discarding the rest.
func (b *Buffer) Take(n int) error {
	if n < 0 || n > len(b.data) {
		return ErrOutOfBounds
	}
	b.data = b.data[:n]
	return nil
}

func (b *Buffer) checkRange(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(b.data) {
		return ErrOutOfBounds
	}
	return nil
}

// ReadU8 reads a single byte at offset. value may be nil to discard it.
func (b *Buffer) ReadU8(offset int, value *uint8) error {
	if err := b.checkRange(offset, 1); err != nil {
		return err
	}
	if value != nil {
		*value = b.data[offset]
	}
	return nil
}

// ReadLE16 reads a little-endian uint16 at offset.
func (b *Buffer) ReadLE16(offset int, value *uint16) error {
	if err := b.checkRange(offset, 2); err != nil {
		return err
	}
	if value != nil {
		*value = binary.LittleEndian.Uint16(b.data[offset:])
	}
	return nil
}

// ReadBE16 reads a big-endian uint16 at offset.
func (b *Buffer) ReadBE16(offset int, value *uint16) error {
	if err := b.checkRange(offset, 2); err != nil {
		return err
	}
	if value != nil {
		*value = binary.BigEndian.Uint16(b.data[offset:])
	}
	return nil
}

// ReadLE32 reads a little-endian uint32 at offset.
func (b *Buffer) ReadLE32(offset int, value *uint32) error {
	if err := b.checkRange(offset, 4); err != nil {
		return err
	}
	if value != nil {
		*value = binary.LittleEndian.Uint32(b.data[offset:])
	}
	return nil
}

// ReadBE32 reads a big-endian uint32 at offset.
func (b *Buffer) ReadBE32(offset int, value *uint32) error {
	if err := b.checkRange(offset, 4); err != nil {
		return err
	}
	if value != nil {
		*value = binary.BigEndian.Uint32(b.data[offset:])
	}
	return nil
}

// ReadEtherAddr reads a 6-byte hardware address at offset.
func (b *Buffer) ReadEtherAddr(offset int, addr *EtherAddr) error {
	if err := b.checkRange(offset, EtherAddrLen); err != nil {
		return err
	}
	if addr != nil {
		copy(addr[:], b.data[offset:offset+EtherAddrLen])
	}
	return nil
}

// ReadBytes returns a sub-slice of length bytes at offset without copying.
// The returned slice aliases the buffer's backing array.
func (b *Buffer) ReadBytes(offset, length int) ([]byte, error) {
	if err := b.checkRange(offset, length); err != nil {
		return nil, err
	}
	return b.data[offset : offset+length], nil
}

// ReadBytesCopy copies length bytes at offset into dst.
func (b *Buffer) ReadBytesCopy(offset int, dst []byte) error {
	if err := b.checkRange(offset, len(dst)); err != nil {
		return err
	}
	copy(dst, b.data[offset:offset+len(dst)])
	return nil
}

// ReadIntString reads a length-prefixed string: the byte at offset is an
// unsigned length, followed by that many bytes of data, truncated to max
// bytes of payload if the declared length exceeds it. The truncation happens
// before the bounds check, so a declared length that overruns the buffer but
// not max is still read successfully. It returns the total number of bytes
// consumed (1 + the truncated length) and the string value.
func (b *Buffer) ReadIntString(offset, max int) (consumed int, s string, err error) {
	var declared uint8
	if err = b.ReadU8(offset, &declared); err != nil {
		return 0, "", err
	}
	readLen := int(declared)
	if readLen > max {
		readLen = max
	}
	if err = b.checkRange(offset+1, readLen); err != nil {
		return 0, "", err
	}
	s = string(b.data[offset+1 : offset+1+readLen])
	return 1 + readLen, s, nil
}

// TLV is a decoded type-length-value triple: a 1-byte type, a little-endian
// 2-byte length, and that many bytes of value.
type TLV struct {
	Type  uint8
	Value []byte
}

// ReadTLV decodes the TLV at offset and returns the offset of the next TLV
// (offset + 3 + len(Value)).
func (b *Buffer) ReadTLV(offset int) (next int, tlv TLV, err error) {
	if err = b.checkRange(offset, 3); err != nil {
		return 0, TLV{}, err
	}
	typ := b.data[offset]
	length := binary.LittleEndian.Uint16(b.data[offset+1:])
	if err = b.checkRange(offset+3, int(length)); err != nil {
		return 0, TLV{}, err
	}
	tlv = TLV{Type: typ, Value: b.data[offset+3 : offset+3+int(length)]}
	return offset + 3 + int(length), tlv, nil
}

// WriteU8 writes a single byte at offset.
func (b *Buffer) WriteU8(offset int, value uint8) error {
	if err := b.checkRange(offset, 1); err != nil {
		return err
	}
	b.data[offset] = value
	return nil
}

// WriteLE16 writes a little-endian uint16 at offset.
func (b *Buffer) WriteLE16(offset int, value uint16) error {
	if err := b.checkRange(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b.data[offset:], value)
	return nil
}

// WriteBE16 writes a big-endian uint16 at offset.
func (b *Buffer) WriteBE16(offset int, value uint16) error {
	if err := b.checkRange(offset, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[offset:], value)
	return nil
}

// WriteLE32 writes a little-endian uint32 at offset.
func (b *Buffer) WriteLE32(offset int, value uint32) error {
	if err := b.checkRange(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[offset:], value)
	return nil
}

// WriteBE32 writes a big-endian uint32 at offset.
func (b *Buffer) WriteBE32(offset int, value uint32) error {
	if err := b.checkRange(offset, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[offset:], value)
	return nil
}

// WriteEtherAddr writes a 6-byte hardware address at offset.
func (b *Buffer) WriteEtherAddr(offset int, addr EtherAddr) error {
	if err := b.checkRange(offset, EtherAddrLen); err != nil {
		return err
	}
	copy(b.data[offset:offset+EtherAddrLen], addr[:])
	return nil
}

// WriteBytes copies data into the buffer at offset.
func (b *Buffer) WriteBytes(offset int, data []byte) error {
	if err := b.checkRange(offset, len(data)); err != nil {
		return err
	}
	copy(b.data[offset:offset+len(data)], data)
	return nil
}

// Builder accumulates bytes for frame assembly, growing as needed. Unlike
// Buffer it never errors on write; it is used by the TX builder where the
// final length is not known up front.
type Builder struct {
	data []byte
}

// NewBuilder returns an empty Builder with the given initial capacity hint.
func NewBuilder(capacityHint int) *Builder {
	return &Builder{data: make([]byte, 0, capacityHint)}
}

// Len returns the number of bytes written so far.
func (w *Builder) Len() int {
	return len(w.data)
}

// Bytes returns the accumulated bytes.
func (w *Builder) Bytes() []byte {
	return w.data
}

// PutU8 appends a single byte.
func (w *Builder) PutU8(v uint8) {
	w.data = append(w.data, v)
}

// PutLE16 appends a little-endian uint16.
func (w *Builder) PutLE16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.data = append(w.data, tmp[:]...)
}

// PutBE16 appends a big-endian uint16.
func (w *Builder) PutBE16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.data = append(w.data, tmp[:]...)
}

// PutLE32 appends a little-endian uint32.
func (w *Builder) PutLE32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.data = append(w.data, tmp[:]...)
}

// PutBE32 appends a big-endian uint32.
func (w *Builder) PutBE32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.data = append(w.data, tmp[:]...)
}

// PutEtherAddr appends a 6-byte hardware address.
func (w *Builder) PutEtherAddr(addr EtherAddr) {
	w.data = append(w.data, addr[:]...)
}

// PutBytes appends raw bytes.
func (w *Builder) PutBytes(b []byte) {
	w.data = append(w.data, b...)
}

// PutIntString appends a length-prefixed string: one byte length followed by
// the string bytes, truncated to 255 bytes.
func (w *Builder) PutIntString(s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	w.PutU8(uint8(len(s)))
	w.data = append(w.data, s...)
}

// PutTLV appends a type-length-value triple with a little-endian length.
func (w *Builder) PutTLV(typ uint8, value []byte) {
	w.PutU8(typ)
	w.PutLE16(uint16(len(value)))
	w.PutBytes(value)
}
