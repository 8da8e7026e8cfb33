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
	"io/ioutil"
	"os"

	"github.com/xelalexv/sdspi/pkg/image"
	"github.com/xelalexv/sdspi/pkg/sd"
)

//
func NewWrite() *Write {

	w := &Write{}
	w.Runner = *NewRunner(
		`write [-a|--address {address}] [-b|--bus {type} [-p|--device {device}]]
      -s|--sector {first sector} -i|--input {file} [-e|--pre-erase {blocks}]
      [-f|--fill {byte}] [-1|--single] [-y|--yes]`,
		"write data to card",
		`
Use the write command to write a file to the card, starting at the given
sector. Compressed files (gzip, zip, 7z) are decompressed on the fly. Data is
written with a multi-block write, and the last block is padded with the fill
byte. The card is accessed through the API server, unless a bus is given.`,
		"", runnerHelpEpilogue, w.Run)

	w.AddBaseSettings()
	w.AddBusSettings(&w.BusSettings)
	w.AddSetting(&w.Sector, "sector", "s", "", nil, "first sector", true)
	w.AddSetting(&w.Input, "input", "i", "", nil,
		"input file, '-' for stdin", true)
	w.AddSetting(&w.PreErase, "pre-erase", "e", "", 0,
		"number of blocks to pre-erase", false)
	w.AddSetting(&w.Fill, "fill", "f", "", 0, "padding byte", false)
	w.AddSetting(&w.Single, "single", "1", "", false,
		"write only the first sector with a single block write", false)
	w.AddSetting(&w.Yes, "yes", "y", "", false, "skip confirmation", false)

	return w
}

//
type Write struct {
	Runner
	BusSettings
	//
	Sector   uint32
	Input    string
	PreErase uint32
	Fill     uint
	Single   bool
	Yes      bool
}

//
func (w *Write) Run() error {

	if err := w.ParseSettings(); err != nil {
		return err
	}

	if w.Fill > 255 {
		return fmt.Errorf("invalid fill byte %d", w.Fill)
	}

	if !w.Yes && !GetUserConfirmation(fmt.Sprintf(
		"\nThis will overwrite data on the card, starting at sector %d. "+
			"Proceed?", w.Sector)) {
		return nil
	}

	if w.IsSet("bus") {
		return w.writeLocal()
	}
	return w.writeRemote()
}

//
func (w *Write) writeLocal() error {

	in, err := readInput(w.Input)
	if err != nil {
		return err
	}
	defer in.Close()

	card, _, adapter, err := w.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	if w.Single {
		buf := make([]byte, sd.SectorSize)
		n, err := io.ReadFull(in, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return err
		}
		for ix := n; ix < len(buf); ix++ {
			buf[ix] = byte(w.Fill)
		}
		if err := card.WriteSector(w.Sector, buf); err != nil {
			return err
		}
		fmt.Printf("\nwrote %d bytes to sector %d\n\n", n, w.Sector)
		return nil
	}

	stream, err := card.OpenStream(w.Sector, w.PreErase)
	if err != nil {
		return err
	}
	sw := sd.NewStreamWriter(stream, byte(w.Fill))
	_, err = io.Copy(sw, in)
	if cerr := sw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nwrote %d bytes in %d blocks at sector %d\n\n",
		sw.Written(), stream.Blocks(), w.Sector)
	return nil
}

// writeRemote sends the input as is, the server takes care of decompression.
func (w *Write) writeRemote() error {

	var in io.ReadCloser
	compressor := ""

	if w.Input == "-" {
		in = ioutil.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(w.Input)
		if err != nil {
			return err
		}
		in = f
		_, _, compressor = image.SplitNameTypeCompressor(w.Input)
	}
	defer in.Close()

	resp, err := w.apiCall("PUT", fmt.Sprintf(
		"/sector/%d?preerase=%d&fill=%d&single=%v&compressor=%s",
		w.Sector, w.PreErase, w.Fill, w.Single, compressor), false, in)
	if err != nil {
		return err
	}
	defer resp.Close()

	msg, err := ioutil.ReadAll(resp)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n\n", msg)
	return nil
}
