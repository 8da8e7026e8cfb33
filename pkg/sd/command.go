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

	log "github.com/sirupsen/logrus"
)

/*
	Command is a single card command. On the wire it is a six byte frame: the
	start and transmission bits together with the command index, four
	argument bytes in big endian order, and the CRC byte including the end
	bit.
*/
type Command struct {
	Index byte
	Arg   [4]byte
	CRC   byte
}

// NewCommand creates a command with its CRC computed.
func NewCommand(index byte, arg uint32) Command {
	c := Command{
		Index: index & 0x3F,
		Arg:   [4]byte{byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg)},
	}
	c.CRC = CommandCRC(c.Index, c.Arg[0], c.Arg[1], c.Arg[2], c.Arg[3])
	return c
}

// WithCRC returns a copy of the command using the given CRC byte. With CRC
// checking disabled on the card, any CRC with the LSB set is accepted.
func (c Command) WithCRC(crc byte) Command {
	c.CRC = crc
	return c
}

//
func (c Command) Argument() uint32 {
	return uint32(c.Arg[0])<<24 | uint32(c.Arg[1])<<16 |
		uint32(c.Arg[2])<<8 | uint32(c.Arg[3])
}

//
func (c Command) Frame() [6]byte {
	return [6]byte{0x40 | c.Index, c.Arg[0], c.Arg[1], c.Arg[2], c.Arg[3], c.CRC}
}

//
func (c Command) String() string {
	return fmt.Sprintf("CMD%d(0x%08X)", c.Index, c.Argument())
}

// ParseFrame decodes a six byte command frame.
func ParseFrame(frame []byte) (Command, error) {

	if len(frame) != 6 {
		return Command{}, fmt.Errorf("invalid frame length %d", len(frame))
	}
	if frame[0]&0xC0 != 0x40 {
		return Command{}, fmt.Errorf(
			"invalid start bits in frame: 0x%02X", frame[0])
	}
	if frame[5]&0x01 == 0 {
		return Command{}, fmt.Errorf("missing end bit in frame")
	}

	return Command{
		Index: frame[0] & 0x3F,
		Arg:   [4]byte{frame[1], frame[2], frame[3], frame[4]},
		CRC:   frame[5],
	}, nil
}

/*
	SendCommand transmits cmd and polls for its response. With sel set, the
	card is selected before and deselected after the command, otherwise the
	caller manages selection, e.g. when a data block follows the command.

	The first response byte is stored in response[0] if response is not
	empty, and len(response)-1 further bytes are read. The first response
	byte is returned. If no byte with bit 7 clear arrived within the command
	timeout, the last byte polled is returned together with an error
	wrapping ErrTimeout, and no further bytes are read.

	R1 error bits are not interpreted here, this is up to the caller.
*/
func (c *Card) SendCommand(sel bool, cmd Command, response []byte) (byte, error) {

	if sel {
		if err := c.bus.Select(true); err != nil {
			return R1Invalid, busError(cmd.String(), err)
		}
		defer c.bus.Select(false)
	}

	r1, err := c.sendCommand(cmd, response)

	log.WithFields(log.Fields{
		"command":  cmd.Index,
		"argument": fmt.Sprintf("0x%08X", cmd.Argument()),
		"r1":       fmt.Sprintf("0x%02X", r1),
	}).Trace("command")

	return r1, err
}

//
func (c *Card) sendCommand(cmd Command, response []byte) (byte, error) {

	if c.timing.PreClock {
		if _, err := c.bus.Exchange(TokenIdle); err != nil {
			return R1Invalid, busError(cmd.String(), err)
		}
	}

	frame := cmd.Frame()
	if err := c.bus.Write(frame[:]); err != nil {
		return R1Invalid, busError(cmd.String(), err)
	}

	if cmd.Index == CmdStopTransmission {
		// stuff byte
		if _, err := c.bus.Exchange(TokenIdle); err != nil {
			return R1Invalid, busError(cmd.String(), err)
		}
	}

	var r1 byte = R1Invalid
	start := c.clock.NowMs()

	for {
		var err error
		if r1, err = c.bus.Exchange(TokenIdle); err != nil {
			return R1Invalid, busError(cmd.String(), err)
		}
		if r1&R1Invalid == 0 || elapsed(c.clock, start) >= c.timing.CommandTimeout {
			break
		}
	}

	if len(response) > 0 {
		response[0] = r1
	}

	if r1&R1Invalid != 0 {
		return r1, timeoutError(cmd.String())
	}

	for ix := 1; ix < len(response); ix++ {
		b, err := c.bus.Exchange(TokenIdle)
		if err != nil {
			return r1, busError(cmd.String(), err)
		}
		response[ix] = b
	}

	return r1, nil
}

/*
	CommandRetry issues a command with computed CRC, retrying until its
	response masked with mask equals expected. See SendCommandRetry.
*/
func (c *Card) CommandRetry(index byte, arg uint32, response []byte,
	mask, expected byte) (byte, error) {
	return c.SendCommandRetry(NewCommand(index, arg), response, mask, expected)
}

/*
	SendCommandRetry issues cmd with card selection, retrying up to MaxRetry
	additional times until the first response byte masked with mask equals
	expected. Each attempt is preceded by the command delay. The last
	response byte is returned. When all attempts fail, the error wraps
	ErrTimeout if the card never answered, or ErrRejected otherwise.
*/
func (c *Card) SendCommandRetry(cmd Command, response []byte,
	mask, expected byte) (byte, error) {

	var r1 byte = R1Invalid

	for attempt := 0; attempt <= c.timing.MaxRetry; attempt++ {

		c.clock.Delay(c.timing.CommandDelay)

		var err error
		r1, err = c.SendCommand(true, cmd, response)
		if err != nil && !errors.Is(err, ErrTimeout) {
			return r1, err // bus failure, not a card answer
		}
		if err == nil && r1&mask == expected {
			return r1, nil
		}

		log.WithFields(log.Fields{
			"command": cmd.Index,
			"attempt": attempt + 1,
			"r1":      fmt.Sprintf("0x%02X", r1),
		}).Debug("retrying command")
	}

	return r1, responseError(cmd.String(), r1)
}

/*
	appCommand issues CMD55 followed by the application command acmd, without
	selecting the card. Responses of both commands masked with mask must be
	zero, use 0xFF outside of and 0xFE during initialisation, when the card
	still reports idle state. The application command uses a dummy CRC, which
	requires CRC checking to be disabled. Returns the response of acmd.
*/
func (c *Card) appCommand(acmd byte, arg uint32, mask byte) (byte, error) {

	op := fmt.Sprintf("ACMD%d", acmd)

	r1, err := c.sendCommand(NewCommand(CmdAppCmd, 0).WithCRC(AppCmdCRC), nil)
	if err != nil {
		return r1, err
	}
	if r1&mask != 0 {
		return r1, rejectedError(op+" prefix", r1)
	}

	r1, err = c.sendCommand(NewCommand(acmd, arg).WithCRC(TokenIdle), nil)
	if err != nil {
		return r1, err
	}
	if r1&mask != 0 {
		return r1, rejectedError(op, r1)
	}

	return r1, nil
}
