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

func TestErase(t *testing.T) {

	// CMD32, CMD33, CMD38, busy, done
	bus := newScriptBus(R1Ready, R1Ready, R1Ready, 0x00, 0x00, 0xFF)
	card, _ := newTestCard(bus)

	if err := card.Erase(10, 20); err != nil {
		t.Fatal(err)
	}

	cmds := bus.commands()
	if len(cmds) != 3 {
		t.Fatalf("unexpected commands %v", cmds)
	}
	for ix, want := range []struct {
		index byte
		arg   uint32
	}{{CmdEraseWrBlkStart, 10}, {CmdEraseWrBlkEnd, 20}, {CmdErase, 0}} {
		if cmds[ix].Index != want.index || cmds[ix].Argument() != want.arg {
			t.Errorf("command %d is %v", ix, cmds[ix])
		}
	}
	if bus.selected {
		t.Error("card still selected")
	}
}

func TestEraseByteAddressing(t *testing.T) {

	bus := newScriptBus(R1Ready, R1Ready, R1Ready)
	card, _ := newTestCard(bus)
	card.blockAddressing = false

	if err := card.Erase(1, 2); err != nil {
		t.Fatal(err)
	}
	cmds := bus.commands()
	if cmds[0].Argument() != SectorSize || cmds[1].Argument() != 2*SectorSize {
		t.Errorf("unexpected arguments %v", cmds)
	}
}

func TestEraseFailures(t *testing.T) {

	tests := []struct {
		name   string
		script []byte
		fill   byte
		want   error
		cmds   int
	}{
		{"start rejected", []byte{R1AddressError}, 0xFF, ErrRejected, 1},
		{"end rejected", []byte{R1Ready, R1EraseSeqError}, 0xFF, ErrRejected, 2},
		{"erase rejected", []byte{R1Ready, R1Ready, R1EraseSeqError}, 0xFF, ErrRejected, 3},
		{"busy forever", []byte{R1Ready, R1Ready, R1Ready}, 0x00, ErrTimeout, 3},
	}

	for _, tt := range tests {

		bus := newScriptBus(tt.script...)
		bus.fill = tt.fill
		card, _ := newTestCard(bus)

		if err := card.Erase(0, 1); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if n := len(bus.commands()); n != tt.cmds {
			t.Errorf("%s: %d commands, want %d", tt.name, n, tt.cmds)
		}
		if bus.selected {
			t.Errorf("%s: card still selected", tt.name)
		}
	}

	card, _ := newTestCard(newScriptBus())
	if err := card.Erase(5, 4); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error for inverted range, got %v", err)
	}
}
