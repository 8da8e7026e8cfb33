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

/*
	BlockWriter is a single block write in progress, created by OpenBlock.
	The card stays selected until Close. The caller writes exactly one
	sector's worth of data through Write and WriteConst, and then calls
	Close, optionally preceded by StopNoWait and StopWait.
*/
type BlockWriter struct {
	blockTransfer
	sector uint32
	closed bool
}

/*
	OpenBlock selects the card, issues a single block write at sector and
	sends the start token. On failure, the card is deselected.
*/
func (c *Card) OpenBlock(sector uint32) (*BlockWriter, error) {

	if err := c.bus.Select(true); err != nil {
		return nil, busError("open block", err)
	}

	cmd := NewCommand(CmdWriteBlock, c.address(sector)).WithCRC(DummyCRC)
	r1, err := c.sendCommand(cmd, nil)
	if err == nil && r1 != R1Ready {
		err = rejectedError(cmd.String(), r1)
	}

	ret := &BlockWriter{blockTransfer: blockTransfer{card: c}, sector: sector}
	if err == nil {
		err = ret.start(TokenStartBlock)
	}

	if err != nil {
		c.bus.Select(false)
		return nil, err
	}

	log.WithField("sector", sector).Trace("block opened")
	return ret, nil
}

//
func (w *BlockWriter) Sector() uint32 {
	return w.sector
}

/*
	Close completes the block if that has not been done yet, waits for the
	card to finish programming, and deselects the card. The card is
	deselected also when completing the block fails.
*/
func (w *BlockWriter) Close() error {

	if w.closed {
		return protocolError("close block", "already closed")
	}
	w.closed = true
	defer w.card.bus.Select(false)

	if err := w.stop(); err != nil {
		return fmt.Errorf("sector %d: %w", w.sector, err)
	}

	log.WithField("sector", w.sector).Trace("block closed")
	return nil
}

// WriteSector writes the first SectorSize bytes of buf to sector.
func (c *Card) WriteSector(sector uint32, buf []byte) error {

	if len(buf) < SectorSize {
		return protocolError("write sector", "buffer smaller than sector")
	}

	w, err := c.OpenBlock(sector)
	if err != nil {
		return err
	}

	if _, err := w.Write(buf[:SectorSize]); err != nil {
		w.Close()
		return err
	}

	return w.Close()
}
