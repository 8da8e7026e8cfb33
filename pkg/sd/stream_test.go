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

func TestOpenStreamPreErase(t *testing.T) {

	tests := []struct {
		preErase uint32
		script   []byte
		appCmds  int
	}{
		{0, []byte{R1Ready}, 0},
		{8, []byte{R1Ready, R1Ready, R1Ready}, 1},
	}

	for _, tt := range tests {

		bus := newScriptBus(tt.script...)
		card, _ := newTestCard(bus)

		s, err := card.OpenStream(100, tt.preErase)
		if err != nil {
			t.Fatalf("pre-erase %d: %v", tt.preErase, err)
		}

		if n := bus.countCommand(CmdAppCmd); n != tt.appCmds {
			t.Errorf("pre-erase %d: %d CMD55, want %d", tt.preErase, n, tt.appCmds)
		}
		if n := bus.countCommand(AcmdSetWrBlkEraseCount); n != tt.appCmds {
			t.Errorf("pre-erase %d: %d ACMD23, want %d", tt.preErase, n, tt.appCmds)
		}

		cmds := bus.commands()
		last := cmds[len(cmds)-1]
		if last.Index != CmdWriteMultipleBlock || last.Argument() != 100 {
			t.Errorf("pre-erase %d: last command %v", tt.preErase, last)
		}
		if tt.preErase > 0 && cmds[1].Argument() != tt.preErase {
			t.Errorf("pre-erase count %d", cmds[1].Argument())
		}

		if err := s.Close(); err != nil {
			t.Error(err)
		}
	}
}

func TestOpenStreamFailure(t *testing.T) {

	bus := newScriptBus(R1Ready, R1ParamError)
	card, _ := newTestCard(bus)

	if _, err := card.OpenStream(0, 4); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if bus.countCommand(CmdWriteMultipleBlock) != 0 {
		t.Error("CMD25 sent after failed pre-erase")
	}
	if bus.selected {
		t.Error("card still selected")
	}
}

func TestStreamBlocks(t *testing.T) {

	// CMD25, then per block: token slot, data response, not busy
	bus := newScriptBus(R1Ready,
		0xFF, DataResponseAccepted, 0xFF,
		0xFF, DataResponseAccepted, 0xFF)
	card, _ := newTestCard(bus)

	s, err := card.OpenStream(5, 0)
	if err != nil {
		t.Fatal(err)
	}

	for ix := 0; ix < 2; ix++ {
		if err := s.WriteBlock(sectorPattern(byte(ix))); err != nil {
			t.Fatal(err)
		}
	}

	if s.Blocks() != 2 || s.Sector() != 7 {
		t.Errorf("blocks %d, next sector %d", s.Blocks(), s.Sector())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	tokens := 0
	for _, b := range bus.sent {
		if b == TokenStartMultiBlock {
			tokens++
		}
	}
	if tokens < 2 {
		t.Errorf("%d start tokens", tokens)
	}
	if bus.sent[len(bus.sent)-2] != TokenStopMultiBlock {
		t.Errorf("stop token missing, tail % X", bus.sent[len(bus.sent)-4:])
	}
	if bus.selected {
		t.Error("card still selected")
	}
}

func TestStreamClose(t *testing.T) {

	bus := newScriptBus(R1Ready)
	card, _ := newTestCard(bus)

	s, err := card.OpenStream(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error on second close, got %v", err)
	}
	if err := s.StartBlock(); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error on closed stream, got %v", err)
	}
}

func TestStreamCloseMidBlock(t *testing.T) {

	bus := newScriptBus(R1Ready)
	card, _ := newTestCard(bus)

	s, err := card.OpenStream(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartBlock(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error, got %v", err)
	}
	if bus.selected {
		t.Error("card still selected")
	}
}

func TestStreamWriter(t *testing.T) {

	bus := newScriptBus(R1Ready,
		0xFF, DataResponseAccepted, 0xFF,
		0xFF, DataResponseAccepted)
	card, _ := newTestCard(bus)

	s, err := card.OpenStream(0, 0)
	if err != nil {
		t.Fatal(err)
	}

	w := NewStreamWriter(s, 0x00)
	for _, n := range []int{300, 400} {
		if _, err := w.Write(make([]byte, n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if w.Written() != 700 {
		t.Errorf("written %d, want 700", w.Written())
	}
	if s.Blocks() != 2 {
		t.Errorf("%d blocks, want 2", s.Blocks())
	}
	if bus.dataBytes() != 2*SectorSize {
		t.Errorf("%d bytes on the wire, want %d", bus.dataBytes(), 2*SectorSize)
	}
}

func TestStreamWriterPad(t *testing.T) {

	bus := newScriptBus(R1Ready,
		0xFF, DataResponseAccepted, 0xFF,
		0xFF, DataResponseAccepted)
	card, _ := newTestCard(bus)

	s, err := card.OpenStream(0, 0)
	if err != nil {
		t.Fatal(err)
	}

	w := NewStreamWriter(s, 0xFF)
	if _, err := w.Write(make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	if err := w.Pad(); err != nil {
		t.Fatal(err)
	}
	if err := w.Pad(); err != nil {
		t.Fatal(err)
	}
	if s.Blocks() != 1 {
		t.Errorf("%d blocks after padding, want 1", s.Blocks())
	}
	if _, err := w.Write(make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if s.Blocks() != 2 || w.Written() != 20 {
		t.Errorf("%d blocks, %d bytes written", s.Blocks(), w.Written())
	}
}
