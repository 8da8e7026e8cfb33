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
	"fmt"
	"io"
	"strings"

	"github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

/*
	A conduit talks to an SPI adapter board over a serial line. Requests are
	a command byte, optionally followed by a length byte and payload:

		H                 hello; reply is a length byte and the firmware
		                  version string
		C  0|1            chip select; reply is ACK
		X  n  data[n]     full duplex exchange; reply is the n bytes shifted in
		W  n  data[n]     write, discarding input; reply is ACK

	The adapter answers requests it cannot parse with NAK.
*/
const (
	cmdHello    = 'H'
	cmdSelect   = 'C'
	cmdExchange = 'X'
	cmdWrite    = 'W'

	ack = 0x06
	nak = 0x15

	maxChunk = 255
)

// Conduit is an sd.Bus on top of a serial SPI adapter.
type Conduit struct {
	port    io.ReadWriteCloser
	version string
	buf     []byte
}

/*
	Open opens the serial device with the given baud rate and greets the
	adapter.
*/
func Open(device string, baud uint) (*Conduit, error) {

	port, err := serial.Open(serial.OpenOptions{
		PortName:              device,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %v", device, err)
	}

	c, err := New(port)
	if err != nil {
		port.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"device":   device,
		"baud":     baud,
		"firmware": c.version,
	}).Info("adapter connected")

	return c, nil
}

// New creates a conduit on top of an already open port, and greets the adapter.
func New(port io.ReadWriteCloser) (*Conduit, error) {
	c := &Conduit{port: port, buf: make([]byte, maxChunk+2)}
	if err := c.hello(); err != nil {
		return nil, err
	}
	return c, nil
}

//
func (c *Conduit) Version() string {
	return c.version
}

//
func (c *Conduit) Close() error {
	return c.port.Close()
}

//
func (c *Conduit) hello() error {

	if _, err := c.port.Write([]byte{cmdHello}); err != nil {
		return fmt.Errorf("error sending hello: %v", err)
	}

	l := make([]byte, 1)
	if err := c.receive(l); err != nil {
		return fmt.Errorf("error receiving hello: %v", err)
	}
	v := make([]byte, int(l[0]))
	if err := c.receive(v); err != nil {
		return fmt.Errorf("error receiving hello: %v", err)
	}

	c.version = strings.TrimSpace(string(v))
	if c.version == "" {
		return fmt.Errorf("adapter sent empty version")
	}
	return nil
}

// Select implements sd.Bus.
func (c *Conduit) Select(active bool) error {
	var v byte
	if active {
		v = 1
	}
	if _, err := c.port.Write([]byte{cmdSelect, v}); err != nil {
		return err
	}
	return c.expectAck("select")
}

// Exchange implements sd.Bus.
func (c *Conduit) Exchange(out byte) (byte, error) {
	in := []byte{0}
	if err := c.exchange([]byte{out}, in); err != nil {
		return 0, err
	}
	return in[0], nil
}

// Write implements sd.Bus.
func (c *Conduit) Write(data []byte) error {

	for len(data) > 0 {

		n := len(data)
		if n > maxChunk {
			n = maxChunk
		}

		req := append(c.buf[:0], cmdWrite, byte(n))
		req = append(req, data[:n]...)
		if _, err := c.port.Write(req); err != nil {
			return err
		}
		if err := c.expectAck("write"); err != nil {
			return err
		}

		data = data[n:]
	}

	return nil
}

/*
	Read implements sd.BulkReader, filling buf with bytes shifted in while
	sending 0xFF.
*/
func (c *Conduit) Read(buf []byte) error {

	out := make([]byte, maxChunk)
	for ix := range out {
		out[ix] = 0xFF
	}

	for len(buf) > 0 {
		n := len(buf)
		if n > maxChunk {
			n = maxChunk
		}
		if err := c.exchange(out[:n], buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}

	return nil
}

//
func (c *Conduit) exchange(out, in []byte) error {

	req := append(c.buf[:0], cmdExchange, byte(len(out)))
	req = append(req, out...)
	if _, err := c.port.Write(req); err != nil {
		return err
	}
	return c.receive(in)
}

//
func (c *Conduit) expectAck(op string) error {
	r := []byte{0}
	if err := c.receive(r); err != nil {
		return err
	}
	switch r[0] {
	case ack:
		return nil
	case nak:
		return fmt.Errorf("adapter refused %s", op)
	}
	return fmt.Errorf("unexpected reply to %s: 0x%02X", op, r[0])
}

//
func (c *Conduit) receive(data []byte) error {
	_, err := io.ReadFull(c.port, data)
	return err
}
