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
	log "github.com/sirupsen/logrus"
)

/*
	Stream is a multiple block write in progress, created by OpenStream. The
	card stays selected until Close. Each block is framed by StartBlock, the
	data written through Write or WriteConst, and StopNoWait plus StopWait,
	or EndBlock. WriteBlock does all of this for a complete block.
*/
type Stream struct {
	blockTransfer
	first  uint32
	blocks uint32
	closed bool
}

/*
	OpenStream selects the card and starts a multiple block write at sector.
	If preErase is not zero, the card is first told through ACMD23 how many
	blocks are going to be written, so it can erase them ahead of time. On
	failure the card is deselected.
*/
func (c *Card) OpenStream(sector, preErase uint32) (*Stream, error) {

	logger := log.WithFields(log.Fields{"sector": sector, "pre-erase": preErase})

	if err := c.bus.Select(true); err != nil {
		return nil, busError("open stream", err)
	}

	if preErase > 0 {
		if _, err := c.appCommand(
			AcmdSetWrBlkEraseCount, preErase, 0xFF); err != nil {
			c.bus.Select(false)
			logger.Debugf("pre-erase failed: %v", err)
			return nil, err
		}
		c.clock.Delay(c.timing.CommandDelay)
	}

	cmd := NewCommand(CmdWriteMultipleBlock, c.address(sector)).WithCRC(DummyCRC)
	r1, err := c.sendCommand(cmd, nil)
	if err == nil && r1 != R1Ready {
		err = rejectedError(cmd.String(), r1)
	}
	if err != nil {
		c.bus.Select(false)
		logger.Debugf("opening stream failed: %v", err)
		return nil, err
	}

	logger.Debug("stream opened")
	return &Stream{blockTransfer: blockTransfer{card: c}, first: sector}, nil
}

// Sector returns the sector the next block will be written to.
func (s *Stream) Sector() uint32 {
	return s.first + s.blocks
}

// Blocks returns the number of blocks the card has accepted so far.
func (s *Stream) Blocks() uint32 {
	return s.blocks
}

/*
	StartBlock sends the start token of the next block. If the previous block
	was only stopped with StopNoWait, this first waits for the card.
*/
func (s *Stream) StartBlock() error {

	if s.closed {
		return protocolError("start block", "stream closed")
	}
	if s.phase == blockStopped {
		if err := s.StopWait(); err != nil {
			return err
		}
	}
	return s.start(TokenStartMultiBlock)
}

//
func (s *Stream) StopNoWait() error {
	if err := s.blockTransfer.StopNoWait(); err != nil {
		return err
	}
	s.blocks++
	return nil
}

// EndBlock completes the current block and waits for the card.
func (s *Stream) EndBlock() error {
	if err := s.StopNoWait(); err != nil {
		return err
	}
	return s.StopWait()
}

// WriteBlock writes the first SectorSize bytes of buf as the next block.
func (s *Stream) WriteBlock(buf []byte) error {

	if len(buf) < SectorSize {
		return protocolError("write block", "buffer smaller than sector")
	}
	if err := s.StartBlock(); err != nil {
		return err
	}
	if _, err := s.Write(buf[:SectorSize]); err != nil {
		return err
	}
	return s.EndBlock()
}

/*
	Close terminates the stream with the stop token, waits for the card, and
	deselects it. Close must only be called in between blocks. Closing in the
	middle of a block, or closing a closed stream, is reported as
	ErrProtocol. The card is deselected in any case.
*/
func (s *Stream) Close() error {

	if s.closed {
		return protocolError("close stream", "already closed")
	}
	s.closed = true
	defer s.card.bus.Select(false)

	if s.phase == blockData {
		return protocolError("close stream", "block incomplete")
	}
	if s.phase == blockStopped {
		if err := s.StopWait(); err != nil {
			return err
		}
	}

	if _, err := s.card.bus.Exchange(TokenStopMultiBlock); err != nil {
		return busError("stop token", err)
	}
	if err := s.card.waitNotBusy(
		s.card.timing.ReadWriteTimeout, "close stream"); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"sector": s.first, "blocks": s.blocks}).Debug("stream closed")
	return nil
}

/*
	StreamWriter turns a Stream into an io.WriteCloser accepting data of any
	length. Data is split into blocks, and the last block is padded with the
	fill byte on Close. Completed blocks are only waited for when the next
	block starts, so the card programs a block while the caller prepares the
	next chunk of data.
*/
type StreamWriter struct {
	stream  *Stream
	fill    byte
	written int64
}

//
func NewStreamWriter(s *Stream, fill byte) *StreamWriter {
	return &StreamWriter{stream: s, fill: fill}
}

//
func (w *StreamWriter) Write(p []byte) (int, error) {

	n := 0

	for len(p) > 0 {

		if w.stream.phase != blockData {
			if err := w.stream.StartBlock(); err != nil {
				return n, err
			}
		}

		chunk := w.stream.Remaining()
		if chunk > len(p) {
			chunk = len(p)
		}

		if _, err := w.stream.Write(p[:chunk]); err != nil {
			return n, err
		}
		n += chunk
		w.written += int64(chunk)
		p = p[chunk:]

		if w.stream.Remaining() == 0 {
			if err := w.stream.StopNoWait(); err != nil {
				return n, err
			}
		}
	}

	return n, nil
}

// Written returns the number of data bytes written, excluding padding.
func (w *StreamWriter) Written() int64 {
	return w.written
}

//
func (w *StreamWriter) Stream() *Stream {
	return w.stream
}

/*
	Pad completes a partially written block with the fill byte, so that the
	next write starts at a block boundary. It does nothing when at a block
	boundary already.
*/
func (w *StreamWriter) Pad() error {
	if w.stream.phase != blockData {
		return nil
	}
	if err := w.stream.WriteConst(w.fill, w.stream.Remaining()); err != nil {
		return err
	}
	return w.stream.StopNoWait()
}

// Close pads and completes a partial last block, and closes the stream.
func (w *StreamWriter) Close() error {
	if err := w.Pad(); err != nil {
		w.stream.Close()
		return err
	}
	return w.stream.Close()
}
