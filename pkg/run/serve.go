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
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/control"
	"github.com/xelalexv/sdspi/pkg/inventory"
	"github.com/xelalexv/sdspi/pkg/spool"
)

//
func NewServe() *Serve {

	s := &Serve{}
	s.Runner = *NewRunner(
		`serve [-a|--address {address}] -b|--bus {type} [-p|--device {device}]
      [-i|--inventory {dir}] [--spool-dir {dir} --spool-first {sector} --spool-last {sector}]`,
		"serve card through API",
		`
Use the serve command to operate a card and make it available through the HTTP
API. Optionally, the card is recorded in an inventory, and data written into a
spool directory is recorded on the card.`,
		"", runnerHelpEpilogue, s.Run)

	s.AddBaseSettings()
	s.AddBusSettings(&s.BusSettings)
	s.AddSpoolSettings(&s.SpoolSettings)
	s.AddSetting(&s.Inventory, "inventory", "i", "", "",
		"inventory directory, for recording the card", false)
	s.AddSetting(&s.LockTimeout, "lock-timeout", "", "", 2*time.Second,
		"how long API requests wait for the card", false)

	return s
}

//
type Serve struct {
	Runner
	BusSettings
	SpoolSettings
	//
	Inventory   string
	LockTimeout time.Duration
}

//
func (s *Serve) Run() error {

	if err := s.ParseSettings(); err != nil {
		return err
	}

	card, info, adapter, err := s.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	cfg := control.Config{
		Address:     s.Address,
		LockTimeout: s.LockTimeout,
	}
	if v, ok := adapter.(interface{ Version() string }); ok {
		cfg.Adapter = v.Version()
	}

	api := control.NewAPIServer(cfg, card, info)

	if s.Inventory != "" {
		inv, err := inventory.Open(s.Inventory)
		if err != nil {
			return err
		}
		defer inv.Close()
		if err := api.SetInventory(inv); err != nil {
			return err
		}
	}

	var spooler *spool.Spooler
	if s.SpoolDir != "" {
		if spooler, err = s.newSpooler(api.Access); err != nil {
			return err
		}
		api.SetSpooler(spooler)
		if err := spooler.Start(); err != nil {
			return err
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig).Info("shutting down")
		if err := api.Stop(); err != nil {
			log.Errorf("error stopping API server: %v", err)
		}
	}()

	err = api.Serve()

	if spooler != nil {
		if serr := spooler.Stop(); serr != nil {
			log.Errorf("error stopping spooler: %v", serr)
		}
	}

	return err
}
