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
	"testing"
)

func TestUint(t *testing.T) {

	data := []byte{0b10110010, 0b01011100, 0xFF, 0x00, 0x12, 0x34, 0x56, 0x78}
	b := NewBits(data, nil)

	tests := []struct {
		offset int
		width  int
		want   uint32
	}{
		{0, 1, 1},
		{1, 1, 0},
		{0, 2, 0b10},
		{0, 8, 0b10110010},
		{4, 8, 0b00100101},
		{6, 6, 0b100101},
		{8, 8, 0x5C},
		{16, 16, 0xFF00},
		{32, 32, 0x12345678},
		{36, 12, 0x234},
		{63, 1, 0},
	}

	for _, tt := range tests {
		if got := b.Uint(tt.offset, tt.width); got != tt.want {
			t.Errorf("Uint(%d, %d) = %#x, want %#x",
				tt.offset, tt.width, got, tt.want)
		}
	}
}

func TestNamedFields(t *testing.T) {

	index := map[string][2]int{
		"id":   {0, 8},
		"name": {8, 24},
		"flag": {39, 1},
	}
	b := NewBits([]byte{0x03, 'S', 'D', 'C', 0x01}, index)

	if got := b.Get("id"); got != 3 {
		t.Errorf("id = %d, want 3", got)
	}
	if got := b.GetString("name"); got != "SDC" {
		t.Errorf("name = %q, want SDC", got)
	}
	if got := b.Get("flag"); got != 1 {
		t.Errorf("flag = %d, want 1", got)
	}
	if !b.Flag(39) {
		t.Error("expected bit 39 set")
	}
}

func TestDataIsCopied(t *testing.T) {
	data := []byte{0xAA}
	b := NewBits(data, nil)
	data[0] = 0x00
	if got := b.Uint(0, 8); got != 0xAA {
		t.Errorf("reader changed with source slice: %#x", got)
	}
}

func TestPreconditions(t *testing.T) {

	b := NewBits([]byte{0, 0}, nil)

	for _, tc := range []struct {
		name          string
		offset, width int
	}{
		{"zero width", 0, 0},
		{"too wide", 0, 33},
		{"out of range", 10, 8},
		{"negative", -1, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for [%d:%d]", tc.offset, tc.width)
				}
			}()
			b.Uint(tc.offset, tc.width)
		})
	}
}

func TestPut(t *testing.T) {

	data := make([]byte, 4)

	Put(data, 0, 2, 0b01)
	Put(data, 6, 6, 0b111111)
	Put(data, 20, 12, 0xABC)

	want := []byte{0b01000011, 0b11110000, 0x0A, 0xBC}
	for ix := range want {
		if data[ix] != want[ix] {
			t.Fatalf("data = % X, want % X", data, want)
		}
	}

	// overwriting clears bits
	Put(data, 6, 6, 0)
	if data[0] != 0b01000000 || data[1] != 0 {
		t.Errorf("data = % X after clearing", data)
	}

	index := map[string][2]int{"serial": {8, 16}}
	PutField(data, index, "serial", 0x1234)
	if got := NewBits(data, index).Get("serial"); got != 0x1234 {
		t.Errorf("serial = %#x, want 0x1234", got)
	}
}
