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
	"io/ioutil"
)

//
func NewErase() *Erase {

	e := &Erase{}
	e.Runner = *NewRunner(
		`erase [-a|--address {address}] [-b|--bus {type} [-p|--device {device}]]
      -s|--start {first sector} [-e|--end {last sector}] [-y|--yes]`,
		"erase sectors",
		`
Use the erase command to erase a range of sectors. Without end, only the start
sector is erased. After erasing, sectors read as all 0x00 or all 0xFF bytes,
depending on the card. The card is accessed through the API server, unless a
bus is given.`,
		"", runnerHelpEpilogue, e.Run)

	e.AddBaseSettings()
	e.AddBusSettings(&e.BusSettings)
	e.AddSetting(&e.Start, "start", "s", "", nil, "first sector", true)
	e.AddSetting(&e.End, "end", "e", "", nil, "last sector", false)
	e.AddSetting(&e.Yes, "yes", "y", "", false, "skip confirmation", false)

	return e
}

//
type Erase struct {
	Runner
	BusSettings
	//
	Start uint32
	End   uint32
	Yes   bool
}

//
func (e *Erase) Run() error {

	if err := e.ParseSettings(); err != nil {
		return err
	}

	if !e.IsSet("end") {
		e.End = e.Start
	}
	if e.End < e.Start {
		return fmt.Errorf("end sector %d before start sector %d", e.End, e.Start)
	}

	if !e.Yes && !GetUserConfirmation(fmt.Sprintf(
		"\nThis will erase sectors %d to %d. Proceed?", e.Start, e.End)) {
		return nil
	}

	if !e.IsSet("bus") {
		resp, err := e.apiCall("DELETE",
			fmt.Sprintf("/sector/%d?end=%d", e.Start, e.End), false, nil)
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

	card, _, adapter, err := e.openCard()
	if err != nil {
		return err
	}
	defer adapter.Close()

	if err := card.Erase(e.Start, e.End); err != nil {
		return err
	}

	fmt.Printf("\nerased sectors %d to %d\n\n", e.Start, e.End)
	return nil
}
