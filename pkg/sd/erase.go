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
	"fmt"

	log "github.com/sirupsen/logrus"
)

// SetEraseStart sets the first sector of the range to erase.
func (c *Card) SetEraseStart(sector uint32) error {
	return c.eraseCommand(CmdEraseWrBlkStart, sector)
}

// SetEraseEnd sets the last sector, inclusive, of the range to erase.
func (c *Card) SetEraseEnd(sector uint32) error {
	return c.eraseCommand(CmdEraseWrBlkEnd, sector)
}

//
func (c *Card) eraseCommand(index byte, sector uint32) error {
	cmd := NewCommand(index, c.address(sector)).WithCRC(DummyCRC)
	r1, err := c.SendCommand(true, cmd, nil)
	if err != nil {
		return err
	}
	if r1 != R1Ready {
		return rejectedError(cmd.String(), r1)
	}
	return nil
}

/*
	TriggerErase erases the range set before with SetEraseStart and
	SetEraseEnd, and waits until the card is done, at most for the erase
	timeout. The card is deselected afterwards, also on failure.
*/
func (c *Card) TriggerErase() error {

	if err := c.bus.Select(true); err != nil {
		return busError("erase", err)
	}
	defer c.bus.Select(false)

	cmd := NewCommand(CmdErase, 0).WithCRC(DummyCRC)
	r1, err := c.sendCommand(cmd, nil)
	if err != nil {
		return err
	}
	if r1 != R1Ready {
		return rejectedError(cmd.String(), r1)
	}

	return c.waitNotBusy(c.timing.EraseTimeout, "erase")
}

// Erase erases sectors first through last, inclusive.
func (c *Card) Erase(first, last uint32) error {

	if last < first {
		return protocolError("erase", fmt.Sprintf(
			"end sector %d before start sector %d", last, first))
	}

	logger := log.WithFields(log.Fields{"first": first, "last": last})
	logger.Debug("erasing")

	if err := c.SetEraseStart(first); err != nil {
		return fmt.Errorf("error setting erase start: %w", err)
	}
	if err := c.SetEraseEnd(last); err != nil {
		return fmt.Errorf("error setting erase end: %w", err)
	}
	if err := c.TriggerErase(); err != nil {
		return fmt.Errorf("error erasing: %w", err)
	}

	logger.Debug("erased")
	return nil
}
