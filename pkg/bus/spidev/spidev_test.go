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

package spidev

import (
	"bytes"
	"testing"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/xelalexv/sdspi/pkg/bus/sim"
	"github.com/xelalexv/sdspi/pkg/sd"
)

// simPort is an SPI port with a simulated card attached.
type simPort struct {
	card   *sim.Card
	mode   spi.Mode
	freq   physic.Frequency
	txs    int
	closed bool
}

func (p *simPort) String() string { return "sim" }
func (p *simPort) LimitSpeed(f physic.Frequency) error { return nil }
func (p *simPort) Close() error { p.closed = true; return nil }
func (p *simPort) Duplex() conn.Duplex { return conn.Full }
func (p *simPort) TxPackets(pkts []spi.Packet) error { return nil }
func (p *simPort) MaxTxSize() int { return 64 }

func (p *simPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.freq = f
	p.mode = mode
	return p, nil
}

func (p *simPort) Tx(w, r []byte) error {
	p.txs++
	for ix, b := range w {
		in, _ := p.card.Exchange(b)
		if r != nil {
			r[ix] = in
		}
	}
	return nil
}

// csPin forwards chip select to the simulated card.
type csPin struct {
	gpiotest.Pin
	card *sim.Card
}

func (p *csPin) Out(l gpio.Level) error {
	p.card.Select(l == gpio.Low)
	return p.Pin.Out(l)
}

func TestDevice(t *testing.T) {

	card := sim.New(256)
	port := &simPort{card: card}
	cs := &csPin{Pin: gpiotest.Pin{N: "CS"}, card: card}

	d, err := newDevice(port, cs, 4*physic.MegaHertz)
	if err != nil {
		t.Fatal(err)
	}

	if port.mode != spi.Mode0|spi.NoCS {
		t.Errorf("mode %v", port.mode)
	}
	if cs.Read() != gpio.High {
		t.Error("chip select not deasserted initially")
	}
	if d.maxTx != 64 {
		t.Errorf("max transfer %d, want 64", d.maxTx)
	}

	sdc := sd.NewCard(d, sim.NewTickClock(), sd.DefaultTiming())
	if _, err := sdc.Init(); err != nil {
		t.Fatal(err)
	}

	data := bytes.Repeat([]byte{0x5A, 0xA5}, sd.SectorSize/2)
	if err := sdc.WriteSector(3, data); err != nil {
		t.Fatal(err)
	}

	port.txs = 0
	buf := make([]byte, sd.SectorSize)
	if err := sdc.ReadSector(3, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data) {
		t.Error("read back data differs")
	}
	// bulk read in chunks of 64
	if port.txs > 40 {
		t.Errorf("%d transfers for one sector", port.txs)
	}

	if err := d.Close(); err != nil || !port.closed {
		t.Error("port not closed")
	}
}
