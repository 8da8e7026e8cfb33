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
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

/*
	NewCard creates a card driver on top of the given bus and clock. The
	driver keeps no state between operations except for the addressing mode,
	which defaults to sector addressing and is updated by Init.

	A card is not safe for concurrent use. Callers sharing a card between go
	routines need to serialize access themselves.
*/
func NewCard(bus Bus, clock Clock, timing Timing) *Card {
	return &Card{
		bus:             bus,
		clock:           clock,
		timing:          timing,
		blockAddressing: true,
	}
}

//
type Card struct {
	bus             Bus
	clock           Clock
	timing          Timing
	blockAddressing bool
}

//
func (c *Card) Timing() Timing {
	return c.timing
}

// HighCapacity tells whether the card uses sector instead of byte addresses.
func (c *Card) HighCapacity() bool {
	return c.blockAddressing
}

// address converts a sector number into the argument of a data command.
func (c *Card) address(sector uint32) uint32 {
	if c.blockAddressing {
		return sector
	}
	return sector << 9
}

// Info summarizes a card after initialisation.
type Info struct {
	CID     *CID
	CSD     *CSD
	OCR     *OCR
	Sectors uint32
}

//
func (i *Info) Emit(w io.Writer) {
	fmt.Fprintf(w, "capacity: %d sectors (%d MiB)\n\n",
		i.Sectors, uint64(i.Sectors)*SectorSize/(1024*1024))
	i.CID.Emit(w)
	fmt.Fprintln(w)
	i.CSD.Emit(w)
	fmt.Fprintln(w)
	i.OCR.Emit(w)
}

/*
	Init brings the card from power-up into data transfer state and reads its
	identification. Cards that do not answer CMD8, i.e. version 1.x cards,
	are reported as ErrUnsupported.
*/
func (c *Card) Init() (*Info, error) {

	log.WithFields(c.timing.Fields()).Debug("initialising card")

	if err := c.bus.Select(false); err != nil {
		return nil, busError("init", err)
	}

	// at least 74 clocks with card deselected
	idle := make([]byte, 10)
	for ix := range idle {
		idle[ix] = TokenIdle
	}
	if err := c.bus.Write(idle); err != nil {
		return nil, busError("init", err)
	}

	if _, err := c.SendCommandRetry(
		NewCommand(CmdGoIdleState, 0), nil, 0xFF, R1IdleState); err != nil {
		return nil, fmt.Errorf("error resetting card: %w", err)
	}

	r7 := make([]byte, 5)
	r1, err := c.SendCommandRetry(
		NewCommand(CmdSendIfCond, IfCondArg), r7, 0xFF, R1IdleState)
	if err != nil {
		if r1&R1Invalid == 0 && r1&R1IllegalCmd != 0 {
			return nil, fmt.Errorf(
				"card does not know CMD8: %w", ErrUnsupported)
		}
		return nil, fmt.Errorf("error sending interface condition: %w", err)
	}
	if r7[3]&0x0F != 0x01 || r7[4] != 0xAA {
		return nil, fmt.Errorf("interface condition mismatch 0x%02X%02X: %w",
			r7[3], r7[4], ErrUnsupported)
	}

	if err := c.waitReady(); err != nil {
		return nil, err
	}

	ret := &Info{}

	if ret.OCR, err = c.ReadOCR(); err != nil {
		return nil, err
	}
	c.blockAddressing = ret.OCR.CCS

	if ret.CSD, err = c.ReadCSD(); err != nil {
		return nil, err
	}
	if ret.CID, err = c.ReadCID(); err != nil {
		return nil, err
	}
	ret.Sectors = ret.CSD.Sectors()

	log.WithFields(log.Fields{
		"product":       ret.CID.ProductName,
		"serial":        fmt.Sprintf("%08X", ret.CID.SerialNumber),
		"sectors":       ret.Sectors,
		"high-capacity": c.blockAddressing,
	}).Info("card initialised")

	return ret, nil
}

// waitReady repeats ACMD41 until the card leaves idle state.
func (c *Card) waitReady() error {

	start := c.clock.NowMs()

	for {
		c.clock.Delay(c.timing.CommandDelay)

		r1, err := c.opCond()
		if err == nil && r1 == R1Ready {
			return nil
		}
		if err != nil && !errors.Is(err, ErrTimeout) {
			return fmt.Errorf("error waiting for card ready: %w", err)
		}

		if elapsed(c.clock, start) >= c.timing.InitTimeout {
			return fmt.Errorf("card did not become ready: %w", ErrTimeout)
		}
	}
}

//
func (c *Card) opCond() (byte, error) {
	if err := c.bus.Select(true); err != nil {
		return R1Invalid, busError("ACMD41", err)
	}
	defer c.bus.Select(false)
	return c.appCommand(AcmdSendOpCond, OpCondHCS, ^byte(R1IdleState))
}

/*
	ReadStatus issues CMD13 and returns the two byte R2 card status, with the
	R1 part in the upper byte. A status of zero means no error.
*/
func (c *Card) ReadStatus() (uint16, error) {
	response := make([]byte, 2)
	if _, err := c.SendCommand(true,
		NewCommand(CmdSendStatus, 0).WithCRC(DummyCRC), response); err != nil {
		return 0, fmt.Errorf("error reading status: %w", err)
	}
	return uint16(response[0])<<8 | uint16(response[1]), nil
}
