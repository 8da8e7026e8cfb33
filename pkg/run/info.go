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

	"github.com/xelalexv/sdspi/pkg/inventory"
)

//
func NewInfo() *Info {

	i := &Info{}
	i.Runner = *NewRunner(
		`info [-a|--address {address}] [-s|--status]
      [-b|--bus {type} [-p|--device {device}]] [-i|--inventory {dir} [-l|--label {label}]]`,
		"show card registers",
		`
Use the info command to show the card's identification, its specific data, and
its operation conditions. The card is accessed through the API server, unless
a bus is given, in which case the card is operated directly. When operating
directly, the card can also be recorded in an inventory.`,
		"", runnerHelpEpilogue, i.Run)

	i.AddBaseSettings()
	i.AddBusSettings(&i.BusSettings)
	i.AddSetting(&i.Status, "status", "s", "", false,
		"also show card status", false)
	i.AddSetting(&i.Inventory, "inventory", "i", "", "",
		"inventory directory, for recording the card", false)
	i.AddSetting(&i.Label, "label", "l", "", "",
		"label for the card in the inventory", false)

	return i
}

//
type Info struct {
	Runner
	BusSettings
	//
	Status    bool
	Inventory string
	Label     string
}

//
func (i *Info) Run() error {

	if err := i.ParseSettings(); err != nil {
		return err
	}

	fmt.Println()

	if !i.IsSet("bus") {
		if err := i.remote("/info"); err != nil {
			return err
		}
		if i.Status {
			fmt.Println()
			return i.remote("/status")
		}
		return nil
	}

	card, info, adapter, err := i.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	info.Emit(os.Stdout)

	if i.Status {
		st, err := card.ReadStatus()
		if err != nil {
			return err
		}
		sds, err := card.ReadSDStatus()
		if err != nil {
			return err
		}
		fmt.Printf("\ncard status: 0x%04X\n\n", st)
		sds.Emit(os.Stdout)
	}

	if i.Inventory != "" {
		inv, err := inventory.Open(i.Inventory)
		if err != nil {
			return err
		}
		defer inv.Close()
		e, err := inv.Add(info, i.Label)
		if err != nil {
			return err
		}
		log.WithField("id", e.ID).Info("card recorded in inventory")
	}

	fmt.Println()
	return nil
}

//
func (i *Info) remote(path string) error {
	resp, err := i.apiCall("GET", path, false, nil)
	if err != nil {
		return err
	}
	defer resp.Close()
	_, err = io.Copy(os.Stdout, resp)
	return err
}
