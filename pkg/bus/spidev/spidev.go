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
	"fmt"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// PortFTDI selects the MPSSE SPI engine of the first FT232H found on USB.
const PortFTDI = "ftdi"

/*
	Device is an sd.Bus on a host SPI port. Chip select is driven through a
	GPIO pin, since the card needs clocks with chip select deasserted during
	initialisation, and has to stay selected across several transfers.
*/
type Device struct {
	port  spi.PortCloser
	conn  spi.Conn
	cs    gpio.PinOut
	maxTx int
	ones  []byte
	scrap []byte
}

/*
	Open connects to the SPI port with the given clock frequency in Hz, using
	csPin as chip select. port is a name known to the SPI registry, e.g.
	/dev/spidev0.0 or SPI0.0, or PortFTDI. For the FTDI port, csPin names
	one of the D3 to D7 pins of the FT232H.
*/
func Open(port string, hz int64, csPin string) (*Device, error) {

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("error initializing host drivers: %v", err)
	}

	var p spi.PortCloser
	var cs gpio.PinIO
	var err error

	if port == PortFTDI {
		p, cs, err = openFTDI(csPin)
	} else {
		if p, err = spireg.Open(port); err == nil {
			if cs = gpioreg.ByName(csPin); cs == nil {
				p.Close()
				err = fmt.Errorf("unknown chip select pin '%s'", csPin)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("error opening SPI port '%s': %v", port, err)
	}

	d, err := newDevice(p, cs, physic.Frequency(hz)*physic.Hertz)
	if err != nil {
		p.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"port":        port,
		"frequency":   physic.Frequency(hz) * physic.Hertz,
		"chip-select": csPin,
		"max-tx":      d.maxTx,
	}).Info("SPI port opened")

	return d, nil
}

//
func openFTDI(csPin string) (spi.PortCloser, gpio.PinIO, error) {

	for _, dev := range ftdi.All() {

		ft, ok := dev.(*ftdi.FT232H)
		if !ok {
			continue
		}

		var cs gpio.PinIO
		switch csPin {
		case "D3", "":
			cs = ft.D3
		case "D4":
			cs = ft.D4
		case "D5":
			cs = ft.D5
		case "D6":
			cs = ft.D6
		case "D7":
			cs = ft.D7
		default:
			return nil, nil, fmt.Errorf("invalid FT232H chip select '%s'", csPin)
		}

		p, err := ft.SPI()
		return p, cs, err
	}

	return nil, nil, fmt.Errorf("no FT232H found")
}

//
func newDevice(p spi.PortCloser, cs gpio.PinOut, f physic.Frequency) (*Device, error) {

	c, err := p.Connect(f, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SPI port: %v", err)
	}

	maxTx := 4096
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		maxTx = l.MaxTxSize()
	}

	d := &Device{
		port:  p,
		conn:  c,
		cs:    cs,
		maxTx: maxTx,
		ones:  make([]byte, maxTx),
		scrap: make([]byte, maxTx),
	}
	for ix := range d.ones {
		d.ones[ix] = 0xFF
	}

	return d, d.Select(false)
}

//
func (d *Device) Close() error {
	d.Select(false)
	return d.port.Close()
}

// Select implements sd.Bus. Chip select is active low.
func (d *Device) Select(active bool) error {
	if active {
		return d.cs.Out(gpio.Low)
	}
	return d.cs.Out(gpio.High)
}

// Exchange implements sd.Bus.
func (d *Device) Exchange(out byte) (byte, error) {
	r := []byte{0}
	if err := d.conn.Tx([]byte{out}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Write implements sd.Bus.
func (d *Device) Write(buf []byte) error {
	for len(buf) > 0 {
		n := d.chunk(len(buf))
		if err := d.conn.Tx(buf[:n], d.scrap[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Read implements sd.BulkReader.
func (d *Device) Read(buf []byte) error {
	for len(buf) > 0 {
		n := d.chunk(len(buf))
		if err := d.conn.Tx(d.ones[:n], buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

//
func (d *Device) chunk(n int) int {
	if n > d.maxTx {
		return d.maxTx
	}
	return n
}
