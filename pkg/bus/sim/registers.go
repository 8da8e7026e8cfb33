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

package sim

import (
	"github.com/xelalexv/sdspi/pkg/sd"
	"github.com/xelalexv/sdspi/pkg/sd/raw"
)

// register layouts used when building the simulated card's registers
var csdLayout = map[string][2]int{
	"CSD":          {0, 2},
	"TAAC":         {8, 8},
	"TRAN_SPEED":   {24, 8},
	"CCC":          {32, 12},
	"READ_BL_LEN":  {44, 4},
	"C_SIZE_V1":    {54, 12},
	"C_SIZE_MULT":  {78, 3},
	"C_SIZE_V2":    {58, 22},
	"ERASE_BLK_EN": {81, 1},
	"SECTOR_SIZE":  {82, 7},
	"R2W_FACTOR":   {99, 3},
	"WRITE_BL_LEN": {102, 4},
	"CRC":          {120, 7},
}

var cidLayout = map[string][2]int{
	"MID": {0, 8},
	"OID": {8, 16},
	"PRV": {64, 8},
	"PSN": {72, 32},
	"MDT": {108, 12},
	"CRC": {120, 7},
}

var statusLayout = map[string][2]int{
	"SD_CARD_TYPE": {16, 16},
	"SPEED_CLASS":  {64, 8},
	"AU_SIZE":      {80, 4},
	"ERASE_SIZE":   {88, 16},
}

/*
	buildCSD creates a version 2.0 CSD for high capacity cards, and a version
	1.0 CSD with 512 byte blocks otherwise. Capacity is rounded down to what
	the respective layout can express.
*/
func buildCSD(sectors uint32, highCapacity bool) []byte {

	ret := make([]byte, 16)
	put := func(name string, v uint32) { raw.PutField(ret, csdLayout, name, v) }

	put("TAAC", 0x0E)
	put("TRAN_SPEED", 0x32)
	put("CCC", 0x5B5)
	put("READ_BL_LEN", 9)
	put("ERASE_BLK_EN", 1)
	put("SECTOR_SIZE", 0x7F)
	put("R2W_FACTOR", 2)
	put("WRITE_BL_LEN", 9)

	// capacity is rounded up to the register's granularity
	if highCapacity {
		put("CSD", 1)
		put("C_SIZE_V2", (sectors+1023)/1024-1)
	} else {
		// (C_SIZE+1) * 2^(7+2) blocks of 512 bytes
		put("CSD", 0)
		put("C_SIZE_MULT", 7)
		put("C_SIZE_V1", (sectors+511)/512-1)
	}

	put("CRC", uint32(sd.CRC7(ret[:15]...)))
	ret[15] |= 0x01
	return ret
}

//
func buildCID(product string, serial uint32) []byte {

	ret := make([]byte, 16)
	put := func(name string, v uint32) { raw.PutField(ret, cidLayout, name, v) }

	put("MID", 0x5E)
	put("OID", uint32('S')<<8|uint32('M'))
	copy(ret[3:8], []byte(product+"\x00\x00\x00\x00\x00")[:5])
	put("PRV", 0x10)
	put("PSN", serial)
	put("MDT", (22<<4)|6)
	put("CRC", uint32(sd.CRC7(ret[:15]...)))
	ret[15] |= 0x01
	return ret
}

//
func buildStatus() []byte {
	ret := make([]byte, 64)
	put := func(name string, v uint32) { raw.PutField(ret, statusLayout, name, v) }
	put("SPEED_CLASS", 4)
	put("AU_SIZE", 9)
	put("ERASE_SIZE", 16)
	return ret
}

//
func buildOCR(ready, highCapacity bool) []byte {
	ret := []byte{0x00, 0xFF, 0x80, 0x00} // 2.7-3.6V
	if ready {
		ret[0] |= 0x80
		if highCapacity {
			ret[0] |= 0x40
		}
	}
	return ret
}
