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

package sd

// CRC7 computes the 7 bit CRC (x^7 + x^3 + 1) over data, as used for
// command frames and register contents.
func CRC7(data ...byte) byte {
	var crc byte
	for _, d := range data {
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if (d^crc)&0x80 != 0 {
				crc ^= 0x09
			}
			d <<= 1
		}
	}
	return crc & 0x7F
}

// CommandCRC returns the last byte of a command frame: the CRC7 over the
// first five frame bytes, followed by the end bit.
func CommandCRC(index, p1, p2, p3, p4 byte) byte {
	return CRC7(0x40|index, p1, p2, p3, p4)<<1 | 0x01
}

// CRC16 continues the CCITT CRC-16 (x^16 + x^12 + x^5 + 1) of a data block
// from crc over data. Start a new block with crc = 0.
func CRC16(crc uint16, data []byte) uint16 {
	for _, d := range data {
		crc ^= uint16(d) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
