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
	"bytes"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/sd"
)

//
func NewBench() *Bench {

	b := &Bench{}
	b.Runner = *NewRunner(
		`bench -b|--bus {type} [-p|--device {device}] [-s|--sector {first sector}]
      [-n|--count {sectors}] [-y|--yes]`,
		"benchmark card transfers",
		`
Use the bench command to measure transfer rates of single block and multi-block
reads and writes, the latter with and without pre-erase. The benchmark
overwrites count sectors starting at the given sector, and verifies what it
wrote. It operates the card directly.`,
		"", runnerHelpEpilogue, b.Run)

	b.AddBusSettings(&b.BusSettings)
	b.AddSetting(&b.Sector, "sector", "s", "", 0, "first sector", false)
	b.AddSetting(&b.Count, "count", "n", "", 256, "number of sectors", false)
	b.AddSetting(&b.Yes, "yes", "y", "", false, "skip confirmation", false)

	return b
}

//
type Bench struct {
	Runner
	BusSettings
	//
	Sector uint32
	Count  uint32
	Yes    bool
}

//
type benchResult struct {
	name     string
	sectors  uint32
	duration time.Duration
}

//
func (r benchResult) String() string {
	rate := float64(r.sectors) * sd.SectorSize / 1024 / r.duration.Seconds()
	return fmt.Sprintf("%-24s %6d sectors  %10v  %9.1f KiB/s",
		r.name, r.sectors, r.duration.Round(time.Millisecond), rate)
}

//
func (b *Bench) Run() error {

	if err := b.ParseSettings(); err != nil {
		return err
	}

	if b.Count == 0 {
		return fmt.Errorf("nothing to benchmark")
	}

	if !b.Yes && !GetUserConfirmation(fmt.Sprintf(
		"\nThis will overwrite sectors %d to %d. Proceed?",
		b.Sector, b.Sector+b.Count-1)) {
		return nil
	}

	card, info, adapter, err := b.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	if uint64(b.Sector)+uint64(b.Count) > uint64(info.Sectors) {
		return fmt.Errorf("card has only %d sectors", info.Sectors)
	}

	results, err := benchmark(card, b.Sector, b.Count)
	fmt.Println()
	for _, r := range results {
		fmt.Println(r)
	}
	fmt.Println()
	return err
}

// benchmark runs all transfer benchmarks, stopping at the first error.
func benchmark(card *sd.Card, first, count uint32) ([]benchResult, error) {

	data := make([]byte, int(count)*sd.SectorSize)
	for ix := range data {
		data[ix] = byte(ix ^ ix>>9)
	}
	buf := make([]byte, len(data))

	var ret []benchResult

	run := func(name string, fn func() error) error {
		start := time.Now()
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		r := benchResult{name: name, sectors: count, duration: time.Since(start)}
		log.WithField("duration", r.duration).Debug(name)
		ret = append(ret, r)
		return nil
	}

	verify := func() error {
		if !bytes.Equal(buf, data) {
			return fmt.Errorf("data read back differs from data written")
		}
		return nil
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"single block write", func() error {
			for ix := uint32(0); ix < count; ix++ {
				off := int(ix) * sd.SectorSize
				if err := card.WriteSector(first+ix, data[off:]); err != nil {
					return err
				}
			}
			return nil
		}},
		{"single block read", func() error {
			for ix := uint32(0); ix < count; ix++ {
				off := int(ix) * sd.SectorSize
				if err := card.ReadSector(first+ix, buf[off:]); err != nil {
					return err
				}
			}
			return verify()
		}},
		{"multi-block write", func() error {
			return streamWrite(card, first, 0, data)
		}},
		{"multi-block write erased", func() error {
			return streamWrite(card, first, count, data)
		}},
		{"multi-block read", func() error {
			for ix := range buf {
				buf[ix] = 0
			}
			if err := card.ReadSectors(first, buf); err != nil {
				return err
			}
			return verify()
		}},
	}

	for _, s := range steps {
		if err := run(s.name, s.fn); err != nil {
			return ret, err
		}
	}

	return ret, nil
}

//
func streamWrite(card *sd.Card, sector, preErase uint32, data []byte) error {

	stream, err := card.OpenStream(sector, preErase)
	if err != nil {
		return err
	}

	w := sd.NewStreamWriter(stream, 0)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
