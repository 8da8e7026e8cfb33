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
	"errors"
	"testing"
)

func TestWriteSector(t *testing.T) {

	// CMD24 response, start token slot, data response, not busy
	bus := newScriptBus(R1Ready, 0xFF, 0xE5, 0x00, 0xFF)
	card, _ := newTestCard(bus)

	if err := card.WriteSector(9, sectorPattern(3)); err != nil {
		t.Fatal(err)
	}

	cmds := bus.commands()
	if len(cmds) != 1 || cmds[0].Index != CmdWriteBlock || cmds[0].Argument() != 9 {
		t.Errorf("unexpected commands %v", cmds)
	}
	if bus.dataBytes() != SectorSize {
		t.Errorf("%d data bytes written", bus.dataBytes())
	}
	if bus.selected {
		t.Error("card still selected")
	}
}

func TestBlockWriterPhases(t *testing.T) {

	bus := newScriptBus(R1Ready, 0xFF, DataResponseAccepted, 0xFF)
	card, _ := newTestCard(bus)

	w, err := card.OpenBlock(1)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.StopNoWait(); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error on incomplete block, got %v", err)
	}
	if _, err := w.Write(make([]byte, SectorSize+1)); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error on oversized write, got %v", err)
	}
	if _, err := w.Write(make([]byte, 200)); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteConst(0xAA, w.Remaining()); err != nil {
		t.Fatal(err)
	}
	if err := w.StopWait(); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error on wait before stop, got %v", err)
	}
	if err := w.StopNoWait(); err != nil {
		t.Fatal(err)
	}
	if err := w.StopWait(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error on second close, got %v", err)
	}
	if bus.selected {
		t.Error("card still selected")
	}
}

func TestWriteSectorRejected(t *testing.T) {

	tests := []struct {
		name   string
		script []byte
		fill   byte
		want   error
	}{
		{"command rejected", []byte{R1AddressError}, 0xFF, ErrRejected},
		{"CRC error", []byte{R1Ready, 0xFF, DataResponseCRCError}, 0xFF, ErrRejected},
		{"write error", []byte{R1Ready, 0xFF, DataResponseWriteErr}, 0xFF, ErrRejected},
		{"busy forever", []byte{R1Ready, 0xFF, DataResponseAccepted}, 0x00, ErrTimeout},
	}

	for _, tt := range tests {
		bus := newScriptBus(tt.script...)
		bus.fill = tt.fill
		card, _ := newTestCard(bus)
		if err := card.WriteSector(0, sectorPattern(0)); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if bus.selected {
			t.Errorf("%s: card still selected", tt.name)
		}
	}
}
