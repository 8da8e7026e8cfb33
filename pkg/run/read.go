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
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/xelalexv/sdspi/pkg/image"
	"github.com/xelalexv/sdspi/pkg/sd"
)

// sectors per read request
const readChunk = 2048

//
func NewRead() *Read {

	r := &Read{}
	r.Runner = *NewRunner(
		`read [-a|--address {address}] [-b|--bus {type} [-p|--device {device}]]
      -s|--sector {first sector} [-n|--count {sectors}] [-o|--output {file}]`,
		"read sectors from card",
		`
Use the read command to read sectors from the card. Without output file, a hex
dump is shown. When writing to a file ending in .gz, the data is compressed.
The card is accessed through the API server, unless a bus is given.`,
		"", runnerHelpEpilogue, r.Run)

	r.AddBaseSettings()
	r.AddBusSettings(&r.BusSettings)
	r.AddSetting(&r.Sector, "sector", "s", "", nil, "first sector", true)
	r.AddSetting(&r.Count, "count", "n", "", 1, "number of sectors", false)
	r.AddSetting(&r.Output, "output", "o", "", "", "output file", false)

	return r
}

//
type Read struct {
	Runner
	BusSettings
	//
	Sector uint32
	Count  uint32
	Output string
}

//
func (r *Read) Run() error {

	if err := r.ParseSettings(); err != nil {
		return err
	}

	var out io.WriteCloser

	if r.Output != "" {
		f, err := image.Create(r.Output)
		if err != nil {
			return err
		}
		out = f
	} else {
		out = hex.Dumper(os.Stdout)
	}

	var err error
	if r.IsSet("bus") {
		err = r.readLocal(out)
	} else {
		err = r.readRemote(out)
	}

	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if r.Output == "" {
		fmt.Println()
	}
	return err
}

//
func (r *Read) readLocal(out io.Writer) error {

	card, _, adapter, err := r.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	return forChunks(r.Sector, r.Count, func(sector, count uint32) error {
		buf := make([]byte, int(count)*sd.SectorSize)
		if err := card.ReadSectors(sector, buf); err != nil {
			return err
		}
		_, err := out.Write(buf)
		return err
	})
}

//
func (r *Read) readRemote(out io.Writer) error {
	return forChunks(r.Sector, r.Count, func(sector, count uint32) error {
		resp, err := r.apiCall("GET", fmt.Sprintf(
			"/sector/%d?count=%d&raw=true", sector, count), false, nil)
		if err != nil {
			return err
		}
		defer resp.Close()
		_, err = io.Copy(out, resp)
		return err
	})
}

// forChunks calls fn for consecutive ranges of at most readChunk sectors.
func forChunks(first, count uint32, fn func(sector, count uint32) error) error {
	for count > 0 {
		n := count
		if n > readChunk {
			n = readChunk
		}
		if err := fn(first, n); err != nil {
			return err
		}
		first += n
		count -= n
	}
	return nil
}

// readInput opens a possibly compressed input file, or stdin for "-".
func readInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return ioutil.NopCloser(os.Stdin), nil
	}
	in, err := image.Open(path)
	if err != nil {
		return nil, err
	}
	return in, nil
}
