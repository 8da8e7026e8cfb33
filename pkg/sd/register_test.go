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

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	ret, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return ret
}

func TestDecodeCSDv2(t *testing.T) {

	csd := DecodeCSD(mustHex(t, "400E00325B5900003B377F800A4000E5"))

	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"CSD_STRUCTURE", csd.Version, 1},
		{"TAAC", csd.TAAC, 0x0E},
		{"TRAN_SPEED", csd.TranSpeed, 0x32},
		{"CCC", csd.CCC, 0x5B5},
		{"READ_BL_LEN", csd.ReadBlLen, 9},
		{"C_SIZE", csd.CSize, 15159},
		{"SECTOR_SIZE", csd.SectorSize, 127},
		{"R2W_FACTOR", csd.R2WFactor, 2},
		{"WRITE_BL_LEN", csd.WriteBlLen, 9},
		{"CRC", csd.CRC, 0x72},
		{"sectors", csd.Sectors(), 15523840},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	if !csd.EraseBlkEn || csd.Copy {
		t.Errorf("ERASE_BLK_EN %v, COPY %v", csd.EraseBlkEn, csd.Copy)
	}
}

func TestDecodeCSDv1(t *testing.T) {

	csd := DecodeCSD(mustHex(t, "002600325F5983C8BEFBCFFF924040DF"))

	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"CSD_STRUCTURE", csd.Version, 0},
		{"READ_BL_LEN", csd.ReadBlLen, 9},
		{"C_SIZE", csd.CSize, 3874},
		{"VDD_R_CURR_MIN", csd.VddRCurrMin, 7},
		{"VDD_R_CURR_MAX", csd.VddRCurrMax, 6},
		{"VDD_W_CURR_MIN", csd.VddWCurrMin, 7},
		{"VDD_W_CURR_MAX", csd.VddWCurrMax, 6},
		{"C_SIZE_MULT", csd.CSizeMult, 7},
		{"sectors", csd.Sectors(), 1984000},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestDecodeCID(t *testing.T) {

	cid := DecodeCID(mustHex(t, "03534453553038478012345678010A9F"))

	if cid.ManufacturerID != 0x03 || cid.OEMID != "SD" ||
		cid.ProductName != "SU08G" {
		t.Errorf("MID 0x%02X, OID %q, PNM %q",
			cid.ManufacturerID, cid.OEMID, cid.ProductName)
	}
	if cid.RevisionString() != "8.0" || cid.SerialNumber != 0x12345678 {
		t.Errorf("PRV %s, PSN 0x%08X", cid.RevisionString(), cid.SerialNumber)
	}
	if year, month := cid.ManufactureDate(); year != 2016 || month != 10 {
		t.Errorf("MDT %d-%d, want 2016-10", year, month)
	}
	if cid.CRC != 0x4F {
		t.Errorf("CRC 0x%02X, want 0x4F", cid.CRC)
	}
}

func TestDecodeOCR(t *testing.T) {

	ocr := DecodeOCR([]byte{R1Ready, 0xC0, 0xFF, 0x80, 0x00})

	if ocr.Raw != 0xC0FF8000 {
		t.Errorf("raw 0x%08X", ocr.Raw)
	}
	if !ocr.PowerUp || !ocr.CCS || ocr.UHSII || ocr.S18A {
		t.Errorf("unexpected flags %+v", ocr)
	}
	for ix, v := range ocr.Voltages {
		if !v {
			t.Errorf("voltage window %d not set", ix)
		}
	}

	ocr = DecodeOCR([]byte{R1IdleState, 0x00, 0x18, 0x00, 0x00})
	if ocr.PowerUp || ocr.CCS {
		t.Errorf("unexpected flags %+v", ocr)
	}
	// 3.2-3.4V only
	want := [9]bool{false, false, false, false, false, true, true, false, false}
	if ocr.Voltages != want {
		t.Errorf("voltages %v, want %v", ocr.Voltages, want)
	}
}

func TestDecodeSDStatus(t *testing.T) {

	data := make([]byte, SDStatusSize)
	data[0] = 0x80
	data[8] = 0x04
	data[10] = 0x90
	data[12] = 0x10
	data[13] = 0x08
	data[14] = 0x0A
	data[15] = 0x01
	data[17] = 0x02
	data[21] = 0x02
	data[24] = 0x01

	st := DecodeSDStatus(data)

	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"DAT_BUS_WIDTH", st.DatBusWidth, 2},
		{"SD_CARD_TYPE", st.CardType, 0},
		{"SPEED_CLASS", st.SpeedClass, 4},
		{"AU_SIZE", st.AUSize, 9},
		{"ERASE_SIZE", st.EraseSize, 16},
		{"ERASE_TIMEOUT", st.EraseTimeout, 2},
		{"ERASE_OFFSET", st.EraseOffset, 0},
		{"UHS_SPEED_GRADE", st.UHSSpeedGrade, 0},
		{"UHS_AU_SIZE", st.UHSAUSize, 10},
		{"VIDEO_SPEED_CLASS", st.VideoSpeedClass, 1},
		{"VSC_AU_SIZE", st.VSCAUSize, 2},
		{"APP_PERF_CLASS", st.AppPerfClass, 2},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	if st.SecuredMode || st.DiscardSupport || !st.FULESupport {
		t.Errorf("SECURED_MODE %v, DISCARD %v, FULE %v",
			st.SecuredMode, st.DiscardSupport, st.FULESupport)
	}
}

func TestReadRegisters(t *testing.T) {

	csd := mustHex(t, "400E00325B5900003B377F800A4000E5")
	status := make([]byte, SDStatusSize)
	status[8] = 0x0A

	script := append([]byte{R1Ready}, blockScript(csd, 0)...)
	script = append(script, R1Ready, 0xC0, 0xFF, 0x80, 0x00)
	// CMD55, ACMD13, second R2 byte, block
	script = append(script, R1Ready, R1Ready, 0x00)
	script = append(script, blockScript(status, 0)...)

	bus := newScriptBus(script...)
	card, _ := newTestCard(bus)

	c, err := card.ReadCSD()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c.Raw, csd) {
		t.Errorf("CSD % X", c.Raw)
	}

	o, err := card.ReadOCR()
	if err != nil {
		t.Fatal(err)
	}
	if !o.CCS {
		t.Error("CCS not set")
	}

	s, err := card.ReadSDStatus()
	if err != nil {
		t.Fatal(err)
	}
	if s.SpeedClass != 10 {
		t.Errorf("speed class %d", s.SpeedClass)
	}

	cmds := bus.commands()
	if cmds[1].Index != CmdReadOCR || cmds[1].CRC != DummyCRC {
		t.Errorf("unexpected OCR command %v", cmds[1])
	}
	if cmds[3].Index != AcmdSDStatus {
		t.Errorf("unexpected SD status command %v", cmds[3])
	}
	if bus.selected {
		t.Error("card still selected")
	}
}

func TestEmit(t *testing.T) {

	info := &Info{
		CID:     DecodeCID(mustHex(t, "03534453553038478012345678010A9F")),
		CSD:     DecodeCSD(mustHex(t, "400E00325B5900003B377F800A4000E5")),
		OCR:     DecodeOCR([]byte{0, 0xC0, 0xFF, 0x80, 0x00}),
		Sectors: 15523840,
	}

	var out strings.Builder
	info.Emit(&out)

	for _, want := range []string{
		"15523840 sectors", `PNM: "SU08G"`, "MDT: 2016-10", "C_SIZE:             15159",
		"CCS:           true", "2.7-2.8",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output misses %q:\n%s", want, out.String())
		}
	}
}
