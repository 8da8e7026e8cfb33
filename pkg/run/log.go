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

package run

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/sd"
)

//
func NewLog() *Log {

	l := &Log{}
	l.Runner = *NewRunner(
		`log -b|--bus {type} [-p|--device {device}] -s|--sector {first sector}
      [-e|--pre-erase {blocks}] [-f|--fill {byte}]`,
		"stream stdin onto card",
		`
Use the log command to continuously record data from stdin onto the card, with
a single multi-block write starting at the given sector. Completed blocks are
written while further input arrives. When input ends, the last block is padded
with the fill byte. The card is operated directly.`,
		"", runnerHelpEpilogue, l.Run)

	l.AddBusSettings(&l.BusSettings)
	l.AddSetting(&l.Sector, "sector", "s", "", nil, "first sector", true)
	l.AddSetting(&l.PreErase, "pre-erase", "e", "", 0,
		"number of blocks to pre-erase", false)
	l.AddSetting(&l.Fill, "fill", "f", "", 0, "padding byte", false)

	return l
}

//
type Log struct {
	Runner
	BusSettings
	//
	Sector   uint32
	PreErase uint32
	Fill     uint
	//
	input io.Reader
}

//
func (l *Log) Run() error {

	if err := l.ParseSettings(); err != nil {
		return err
	}

	if l.Fill > 255 {
		return fmt.Errorf("invalid fill byte %d", l.Fill)
	}

	card, _, adapter, err := l.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	if l.input == nil {
		l.input = os.Stdin
	}

	w, err := logTo(card, l.Sector, l.PreErase, byte(l.Fill), l.input)
	if err != nil {
		return err
	}

	fmt.Printf("\nrecorded %d bytes in %d blocks at sector %d\n\n",
		w.Written(), w.Stream().Blocks(), l.Sector)
	return nil
}

//
func logTo(card *sd.Card, sector, preErase uint32, fill byte,
	in io.Reader) (*sd.StreamWriter, error) {

	stream, err := card.OpenStream(sector, preErase)
	if err != nil {
		return nil, err
	}

	log.WithField("sector", sector).Info("recording")

	w := sd.NewStreamWriter(stream, fill)
	_, err = io.Copy(w, in)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return w, err
}
