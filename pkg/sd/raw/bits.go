/*
   SDSPI - SD card driver for the serial peripheral bus
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SDSPI.

   SDSPI is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SDSPI is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SDSPI. If not, see <http://www.gnu.org/licenses/>.
*/

package raw

import (
	"fmt"
	"strings"
)

/*
	Bits reads unsigned bit fields out of a card register. Bit addressing is
	MSB first and big endian: offset 0 is the most significant bit of the
	first byte, which is bit 127 in the numbering of a 128 bit register like
	CSD or CID. A field of width w at offset o therefore corresponds to
	register bits [N-1-o : N-o-w].

	Reading outside of the buffer, or a width outside of 1..32, is a caller
	precondition violation and panics.
*/
type Bits struct {
	data  []byte
	index map[string][2]int
}

// NewBits creates a bit reader over data, which is copied.
func NewBits(data []byte, index map[string][2]int) *Bits {
	d := make([]byte, len(data))
	copy(d, data)
	return &Bits{data: d, index: index}
}

//
func (b *Bits) Len() int {
	return len(b.data) * 8
}

// Uint returns the unsigned value of width bits starting at offset.
func (b *Bits) Uint(offset, width int) uint32 {

	if width < 1 || width > 32 {
		panic(fmt.Sprintf("invalid bit field width %d", width))
	}
	if offset < 0 || offset+width > b.Len() {
		panic(fmt.Sprintf("bit field [%d:%d] exceeds %d bits",
			offset, offset+width, b.Len()))
	}

	var ret uint32
	for ix := offset; ix < offset+width; ix++ {
		bit := (b.data[ix/8] >> (7 - uint(ix%8))) & 0x01
		ret = ret<<1 | uint32(bit)
	}
	return ret
}

// Flag returns the single bit at offset.
func (b *Bits) Flag(offset int) bool {
	return b.Uint(offset, 1) == 1
}

// Get returns the value of the named field from this reader's index.
func (b *Bits) Get(name string) uint32 {
	f, ok := b.index[name]
	if !ok {
		panic(fmt.Sprintf("unknown bit field '%s'", name))
	}
	return b.Uint(f[0], f[1])
}

// GetString interprets the named field as a byte aligned ASCII string.
func (b *Bits) GetString(name string) string {

	f, ok := b.index[name]
	if !ok {
		panic(fmt.Sprintf("unknown bit field '%s'", name))
	}
	if f[0]%8 != 0 || f[1]%8 != 0 {
		panic(fmt.Sprintf("bit field '%s' is not byte aligned", name))
	}

	start := f[0] / 8
	return strings.TrimRight(string(b.data[start:start+f[1]/8]), "\x00")
}

// Bytes returns a copy of the underlying data.
func (b *Bits) Bytes() []byte {
	ret := make([]byte, len(b.data))
	copy(ret, b.data)
	return ret
}

/*
	Put stores the lowest width bits of v into data at offset, using the same
	bit addressing as Bits. It is the inverse of Uint, and is used for
	building register contents, e.g. in a simulated card.
*/
func Put(data []byte, offset, width int, v uint32) {

	if width < 1 || width > 32 {
		panic(fmt.Sprintf("invalid bit field width %d", width))
	}
	if offset < 0 || offset+width > len(data)*8 {
		panic(fmt.Sprintf("bit field [%d:%d] exceeds %d bits",
			offset, offset+width, len(data)*8))
	}

	for ix := offset + width - 1; ix >= offset; ix-- {
		mask := byte(0x80) >> uint(ix%8)
		if v&0x01 == 1 {
			data[ix/8] |= mask
		} else {
			data[ix/8] &^= mask
		}
		v >>= 1
	}
}

// PutField stores v into the named field of index.
func PutField(data []byte, index map[string][2]int, name string, v uint32) {
	f, ok := index[name]
	if !ok {
		panic(fmt.Sprintf("unknown bit field '%s'", name))
	}
	Put(data, f[0], f[1], v)
}
