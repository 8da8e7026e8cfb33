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
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/spool"
)

var errSpoolSettings = errors.New("spool directory and spool area are required")

//
type SpoolSettings struct {
	SpoolDir      string
	SpoolFirst    uint32
	SpoolLast     uint32
	SpoolPreErase bool
	SpoolFill     uint
	SpoolQuiet    time.Duration
	SpoolExisting bool
	SpoolJournal  string
}

//
func (r *Runner) AddSpoolSettings(s *SpoolSettings) {
	r.AddSetting(&s.SpoolDir, "spool-dir", "", "", "",
		"directory to spool onto the card", false)
	r.AddSetting(&s.SpoolFirst, "spool-first", "", "", 0,
		"first sector of spool area", false)
	r.AddSetting(&s.SpoolLast, "spool-last", "", "", 0,
		"last sector of spool area", false)
	r.AddSetting(&s.SpoolPreErase, "spool-pre-erase", "", "", false,
		"pre-erase blocks when spooling", false)
	r.AddSetting(&s.SpoolFill, "spool-fill", "", "", 0,
		"padding byte after each spooled file chunk", false)
	r.AddSetting(&s.SpoolQuiet, "spool-quiet", "", "", time.Second,
		"quiet period before spooling changes", false)
	r.AddSetting(&s.SpoolExisting, "spool-existing", "", "", false,
		"also spool files present at start", false)
	r.AddSetting(&s.SpoolJournal, "spool-journal", "", "", "",
		"file for recording what was spooled where", false)
}

//
func (s *SpoolSettings) newSpooler(access spool.Access) (*spool.Spooler, error) {
	return spool.New(spool.Config{
		Dir:      s.SpoolDir,
		First:    s.SpoolFirst,
		Last:     s.SpoolLast,
		PreErase: s.SpoolPreErase,
		Fill:     byte(s.SpoolFill),
		Quiet:    s.SpoolQuiet,
		Existing: s.SpoolExisting,
		Journal:  s.SpoolJournal,
	}, access)
}

//
func NewSpool() *Spool {

	s := &Spool{}
	s.Runner = *NewRunner(
		`spool -b|--bus {type} [-p|--device {device}] --spool-dir {dir}
      --spool-first {sector} --spool-last {sector}`,
		"record a directory onto card",
		`
Use the spool command to record data written into a directory tree onto the
card. Whenever the tree has been quiet for the quiet period, new files and data
appended to files are written sequentially into the spool area. Use the serve
command for spooling while also serving the API.`,
		"", runnerHelpEpilogue, s.Run)

	s.AddBusSettings(&s.BusSettings)
	s.AddSpoolSettings(&s.SpoolSettings)

	return s
}

//
type Spool struct {
	Runner
	BusSettings
	SpoolSettings
}

//
func (s *Spool) Run() error {

	if err := s.ParseSettings(); err != nil {
		return err
	}

	if !s.IsSet("spool-dir") || !s.IsSet("spool-last") {
		return errSpoolSettings
	}

	card, _, adapter, err := s.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	spooler, err := s.newSpooler(spool.Direct(card))
	if err != nil {
		return err
	}
	if err := spooler.Start(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.WithField("signal", sig).Info("shutting down")

	return spooler.Stop()
}
