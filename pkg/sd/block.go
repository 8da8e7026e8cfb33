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
	BulkReader is optionally implemented by a Bus that can receive several
	bytes at once, shifting out 0xFF for each byte. Data blocks are read
	through it when available.
*/
type BulkReader interface {
	Read(buf []byte) error
}

// waitStartToken polls for the start block token.
func (c *Card) waitStartToken() error {

	start := c.clock.NowMs()

	for {
		b, err := c.bus.Exchange(TokenIdle)
		if err != nil {
			return busError("start token", err)
		}
		if b == TokenStartBlock {
			return nil
		}
		if elapsed(c.clock, start) >= c.timing.ReadWriteTimeout {
			return timeoutError("start token")
		}
	}
}

/*
	readBlock waits for the start token, then reads len(buf) data bytes and
	the two CRC bytes following them. The CRC sent by the card is returned.
	It is only compared to the CRC of the received data if CRC verification
	is enabled.
*/
func (c *Card) readBlock(buf []byte) (uint16, error) {

	if err := c.waitStartToken(); err != nil {
		return 0, err
	}

	if br, ok := c.bus.(BulkReader); ok {
		if err := br.Read(buf); err != nil {
			return 0, busError("read block", err)
		}
	} else {
		for ix := range buf {
			b, err := c.bus.Exchange(TokenIdle)
			if err != nil {
				return 0, busError("read block", err)
			}
			buf[ix] = b
		}
	}

	var checksum uint16
	for ix := 0; ix < 2; ix++ {
		b, err := c.bus.Exchange(TokenIdle)
		if err != nil {
			return 0, busError("read block CRC", err)
		}
		checksum = checksum<<8 | uint16(b)
	}

	if c.timing.VerifyCRC {
		if own := CRC16(0, buf); own != checksum {
			return checksum, fmt.Errorf("block of %d bytes: %w (card 0x%04X, own 0x%04X)",
				len(buf), ErrCRC, checksum, own)
		}
	}

	return checksum, nil
}

/*
	CommandDataBlock issues a command answered by R1 followed by a data block,
	e.g. reading CSD, CID, or a sector. The block is read into block, whose
	length determines the number of data bytes. If R1 signals an error, no
	block is read. The card is selected for the duration of the transaction.
*/
func (c *Card) CommandDataBlock(cmd Command, block []byte) (r1 byte,
	checksum uint16, err error) {

	if err = c.bus.Select(true); err != nil {
		return R1Invalid, 0, busError(cmd.String(), err)
	}
	defer c.bus.Select(false)

	if r1, err = c.sendCommand(cmd, nil); err != nil {
		return r1, 0, err
	}
	if r1 != R1Ready {
		return r1, 0, rejectedError(cmd.String(), r1)
	}

	checksum, err = c.readBlock(block)
	if err != nil {
		err = fmt.Errorf("%s: %w", cmd.String(), err)
	}
	return r1, checksum, err
}

// ReadSector reads one sector into the first SectorSize bytes of buf.
func (c *Card) ReadSector(sector uint32, buf []byte) error {

	if len(buf) < SectorSize {
		return protocolError("read sector", "buffer smaller than sector")
	}

	_, checksum, err := c.CommandDataBlock(
		NewCommand(CmdReadSingleBlock, c.address(sector)).WithCRC(DummyCRC),
		buf[:SectorSize])

	log.WithFields(log.Fields{
		"sector": sector,
		"crc":    fmt.Sprintf("0x%04X", checksum),
	}).Trace("sector read")

	return err
}

/*
	ReadSectors reads len(buf)/SectorSize consecutive sectors starting at
	sector with a multiple block read. The transfer is always terminated with
	a stop transmission command, also when reading a block failed.
*/
func (c *Card) ReadSectors(sector uint32, buf []byte) error {

	count := len(buf) / SectorSize
	if count == 0 || len(buf)%SectorSize != 0 {
		return protocolError("read sectors",
			fmt.Sprintf("buffer size %d is not a multiple of a sector", len(buf)))
	}

	if err := c.bus.Select(true); err != nil {
		return busError("read sectors", err)
	}
	defer c.bus.Select(false)

	cmd := NewCommand(CmdReadMultipleBlock, c.address(sector)).WithCRC(DummyCRC)
	r1, err := c.sendCommand(cmd, nil)
	if err != nil {
		return err
	}
	if r1 != R1Ready {
		return rejectedError(cmd.String(), r1)
	}

	var readErr error
	for ix := 0; ix < count; ix++ {
		if _, readErr = c.readBlock(
			buf[ix*SectorSize : (ix+1)*SectorSize]); readErr != nil {
			readErr = fmt.Errorf("sector %d: %w", sector+uint32(ix), readErr)
			break
		}
	}

	stop := NewCommand(CmdStopTransmission, 0)
	if r1, err = c.sendCommand(stop, nil); err == nil && r1 != R1Ready {
		err = rejectedError(stop.String(), r1)
	}
	if err == nil {
		err = c.waitNotBusy(c.timing.ReadWriteTimeout, "stop transmission")
	}

	if readErr != nil {
		return readErr
	}
	return err
}

// waitNotBusy polls until the card releases the bus by sending 0xFF.
func (c *Card) waitNotBusy(timeout uint32, op string) error {

	start := c.clock.NowMs()

	for {
		b, err := c.bus.Exchange(TokenIdle)
		if err != nil {
			return busError(op, err)
		}
		if b == TokenIdle {
			return nil
		}
		if elapsed(c.clock, start) >= timeout {
			return timeoutError(op + " busy")
		}
	}
}

//
type blockPhase int

const (
	// no block in progress, ready for the next start token
	blockIdle blockPhase = iota
	// start token sent, data bytes being transferred
	blockData
	// CRC sent and data accepted, card may still be busy programming
	blockStopped
)

//
func (p blockPhase) String() string {
	switch p {
	case blockIdle:
		return "idle"
	case blockData:
		return "data"
	case blockStopped:
		return "stopped"
	}
	return "unknown"
}

/*
	blockTransfer implements the data phase of a write, shared by single and
	multiple block writes: start token, raw data pump, and completion of the
	block in a non-blocking step (CRC and data response) followed by a
	blocking step (waiting for not busy).
*/
type blockTransfer struct {
	card  *Card
	phase blockPhase
	count int
}

//
func (b *blockTransfer) start(token byte) error {

	if b.phase != blockIdle {
		return protocolError("start block", "block in phase "+b.phase.String())
	}

	if _, err := b.card.bus.Exchange(token); err != nil {
		return busError("start block", err)
	}

	b.phase = blockData
	b.count = 0
	return nil
}

/*
	Write transfers raw data bytes of the current block. The total number of
	bytes written into one block must be exactly SectorSize.
*/
func (b *blockTransfer) Write(p []byte) (int, error) {

	if b.phase != blockData {
		return 0, protocolError("write", "block in phase "+b.phase.String())
	}
	if b.count+len(p) > SectorSize {
		return 0, protocolError("write", fmt.Sprintf(
			"%d bytes exceed block, %d bytes left", len(p), SectorSize-b.count))
	}

	if err := b.card.bus.Write(p); err != nil {
		return 0, busError("write", err)
	}

	b.count += len(p)
	return len(p), nil
}

// WriteConst transfers n copies of v as data bytes of the current block.
func (b *blockTransfer) WriteConst(v byte, n int) error {

	if n <= 0 {
		return nil
	}

	buf := make([]byte, n)
	for ix := range buf {
		buf[ix] = v
	}

	_, err := b.Write(buf)
	return err
}

//
func (b *blockTransfer) Remaining() int {
	if b.phase != blockData {
		return 0
	}
	return SectorSize - b.count
}

/*
	StopNoWait completes the current block by sending a dummy CRC and checks
	the card's data response. It does not wait for the card to finish
	programming, so the caller can do other work in the meantime. StopWait
	needs to be called before the next block or before closing.
*/
func (b *blockTransfer) StopNoWait() error {

	if b.phase != blockData {
		return protocolError("stop block", "block in phase "+b.phase.String())
	}
	if b.count != SectorSize {
		return protocolError("stop block", fmt.Sprintf(
			"incomplete block, %d of %d bytes written", b.count, SectorSize))
	}

	if err := b.card.bus.Write([]byte{TokenIdle, TokenIdle}); err != nil {
		return busError("block CRC", err)
	}

	resp, err := b.card.bus.Exchange(TokenIdle)
	if err != nil {
		return busError("data response", err)
	}

	b.phase = blockIdle

	if resp&DataResponseMask != DataResponseAccepted {
		return rejectedError("data response", resp)
	}

	b.phase = blockStopped
	return nil
}

// StopWait waits until the card has finished programming the last block.
func (b *blockTransfer) StopWait() error {

	if b.phase != blockStopped {
		return protocolError("wait block", "block in phase "+b.phase.String())
	}

	b.phase = blockIdle
	return b.card.waitNotBusy(b.card.timing.ReadWriteTimeout, "write block")
}

// stop completes the current block and waits for the card.
func (b *blockTransfer) stop() error {
	if b.phase == blockData {
		if err := b.StopNoWait(); err != nil {
			return err
		}
	}
	if b.phase == blockStopped {
		return b.StopWait()
	}
	return nil
}
