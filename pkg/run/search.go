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
	"net/url"
	"os"

	"github.com/xelalexv/sdspi/pkg/inventory"
)

//
func NewSearch() *Search {

	s := &Search{}
	s.Runner = *NewRunner(
		`search [-a|--address {address}] [-i|--inventory {dir}] -t|--term {search term}
      [-n|--items {max results}]`,
		"search for cards in inventory",
		`
Use the search command to find cards in the inventory. The search term can
refer to fields, e.g. product:SU08G or oem:SM. Without inventory directory, the
inventory of the API server is searched.`,
		"", runnerHelpEpilogue, s.Run)

	s.AddBaseSettings()
	s.AddSetting(&s.Inventory, "inventory", "i", "", "",
		"inventory directory", false)
	s.AddSetting(&s.Term, "term", "t", "", nil,
		"search term; used to search through the card records", true)
	s.AddSetting(&s.Items, "items", "n", "", 100,
		"max number of search results to return", false)

	return s
}

//
type Search struct {
	Runner
	//
	Inventory string
	Term      string
	Items     int
}

//
func (s *Search) Run() error {

	if err := s.ParseSettings(); err != nil {
		return err
	}

	if s.Items < 1 {
		return fmt.Errorf("invalid number of items: %d", s.Items)
	}

	fmt.Println()

	if s.Inventory != "" {
		return s.searchLocal()
	}

	resp, err := s.apiCall("GET",
		fmt.Sprintf("/search?items=%d&term=%s", s.Items, url.QueryEscape(s.Term)),
		false, nil)
	if err != nil {
		return err
	}
	defer resp.Close()

	if _, err := io.Copy(os.Stdout, resp); err != nil {
		return err
	}

	return nil
}

//
func (s *Search) searchLocal() error {

	inv, err := inventory.Open(s.Inventory)
	if err != nil {
		return err
	}
	defer inv.Close()

	res, err := inv.Search(s.Term, s.Items)
	if err != nil {
		return err
	}

	for _, id := range res.Hits {
		e, err := inv.Get(id)
		if err != nil {
			return err
		}
		if e == nil {
			continue
		}
		fmt.Printf("%s  %-5s %6d MiB  %s  %s  %s\n", e.ID, e.Product,
			e.CapacityMiB, e.Manufactured, e.LastSeen.Format("2006-01-02"),
			e.Label)
	}

	fmt.Printf("\ntotal hits: %d\n", res.Total)
	return nil
}
