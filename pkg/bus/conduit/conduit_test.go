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

package conduit

import (
	"bytes"
	"io"
	"testing"

	"github.com/xelalexv/sdspi/pkg/bus/sim"
	"github.com/xelalexv/sdspi/pkg/sd"
)

// adapter emulates adapter firmware with a simulated card attached.
type adapter struct {
	card    *sim.Card
	replies bytes.Buffer
	closed  bool
	writes  int
}

func (a *adapter) Write(p []byte) (int, error) {

	a.writes++

	if len(p) == 0 {
		return 0, nil
	}

	switch p[0] {

	case cmdHello:
		v := "sdspi-adapter 0.3\n"
		a.replies.WriteByte(byte(len(v)))
		a.replies.WriteString(v)

	case cmdSelect:
		a.card.Select(p[1] == 1)
		a.replies.WriteByte(ack)

	case cmdExchange, cmdWrite:
		n := int(p[1])
		if len(p) != n+2 {
			a.replies.WriteByte(nak)
			return len(p), nil
		}
		for _, b := range p[2:] {
			in, _ := a.card.Exchange(b)
			if p[0] == cmdExchange {
				a.replies.WriteByte(in)
			}
		}
		if p[0] == cmdWrite {
			a.replies.WriteByte(ack)
		}

	default:
		a.replies.WriteByte(nak)
	}

	return len(p), nil
}

func (a *adapter) Read(p []byte) (int, error) {
	if a.replies.Len() == 0 {
		return 0, io.EOF
	}
	return a.replies.Read(p)
}

func (a *adapter) Close() error {
	a.closed = true
	return nil
}

func TestHello(t *testing.T) {

	a := &adapter{card: sim.New(16)}
	c, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	if c.Version() != "sdspi-adapter 0.3" {
		t.Errorf("version %q", c.Version())
	}
	if err := c.Close(); err != nil || !a.closed {
		t.Error("port not closed")
	}
}

func TestRefused(t *testing.T) {

	a := &adapter{card: sim.New(16)}
	c, err := New(a)
	if err != nil {
		t.Fatal(err)
	}

	// malformed request
	if _, err := a.Write([]byte{cmdWrite, 3, 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.expectAck("test"); err == nil {
		t.Error("expected NAK to be reported")
	}
}

func TestCardOverConduit(t *testing.T) {

	a := &adapter{card: sim.New(2048)}
	c, err := New(a)
	if err != nil {
		t.Fatal(err)
	}

	card := sd.NewCard(c, sim.NewTickClock(), sd.DefaultTiming())
	if _, err := card.Init(); err != nil {
		t.Fatal(err)
	}

	data := make([]byte, 2*sd.SectorSize)
	for ix := range data {
		data[ix] = byte(ix / 3)
	}

	s, err := card.OpenStream(5, 2)
	if err != nil {
		t.Fatal(err)
	}
	w := sd.NewStreamWriter(s, 0)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// multiple block read goes through the bulk reader
	a.writes = 0
	buf := make([]byte, 2*sd.SectorSize)
	if err := card.ReadSectors(5, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data) {
		t.Error("read back data differs")
	}
	if a.writes > 200 {
		t.Errorf("%d requests for reading two sectors", a.writes)
	}
}

func TestChunking(t *testing.T) {

	a := &adapter{card: sim.New(16)}
	c, err := New(a)
	if err != nil {
		t.Fatal(err)
	}

	a.writes = 0
	if err := c.Write(make([]byte, 600)); err != nil {
		t.Fatal(err)
	}
	if a.writes != 3 {
		t.Errorf("%d write requests, want 3", a.writes)
	}

	buf := make([]byte, 300)
	a.writes = 0
	if err := c.Read(buf); err != nil {
		t.Fatal(err)
	}
	if a.writes != 2 {
		t.Errorf("%d exchange requests, want 2", a.writes)
	}
	for _, b := range buf {
		if b != 0xFF {
			t.Fatalf("deselected card sent 0x%02X", b)
		}
	}
}
