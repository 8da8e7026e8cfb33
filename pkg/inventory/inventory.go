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

package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/sd"
)

/*
	Open opens the inventory index at base, creating it if it does not exist
	yet. The inventory keeps one entry per card, identified by manufacturer
	ID and serial number, and makes entries searchable by all their fields.
*/
func Open(base string) (*Inventory, error) {

	var err error
	i := &Inventory{}

	if i.base, err = filepath.Abs(base); err != nil {
		return nil, err
	}

	logger := log.WithField("base", i.base)

	if _, err := os.Stat(i.base); err != nil {
		if os.IsNotExist(err) {
			logger.Info("creating new inventory")
			i.index, err = bleve.New(i.base, bleve.NewIndexMapping())
		}
		if err != nil {
			logger.Errorf("cannot create inventory: %v", err)
			return nil, err
		}

	} else {
		logger.Debug("opening inventory")
		if i.index, err = bleve.Open(i.base); err != nil {
			logger.Errorf("cannot open inventory: %v", err)
			return nil, err
		}
	}

	return i, nil
}

// Entry is the inventory record of a card.
type Entry struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Product      string    `json:"product"`
	Manufacturer string    `json:"manufacturer"`
	OEM          string    `json:"oem"`
	Revision     string    `json:"revision"`
	Serial       string    `json:"serial"`
	Manufactured string    `json:"manufactured"`
	Sectors      uint32    `json:"sectors"`
	CapacityMiB  uint64    `json:"capacityMiB"`
	HighCapacity bool      `json:"highCapacity"`
	LastSeen     time.Time `json:"lastSeen"`
}

// ID returns the inventory ID of a card.
func ID(info *sd.Info) string {
	return fmt.Sprintf("%02X-%08X", info.CID.ManufacturerID, info.CID.SerialNumber)
}

//
func NewEntry(info *sd.Info, label string) *Entry {

	year, month := info.CID.ManufactureDate()

	return &Entry{
		ID:           ID(info),
		Label:        label,
		Product:      info.CID.ProductName,
		Manufacturer: fmt.Sprintf("%02X", info.CID.ManufacturerID),
		OEM:          info.CID.OEMID,
		Revision:     info.CID.RevisionString(),
		Serial:       fmt.Sprintf("%08X", info.CID.SerialNumber),
		Manufactured: fmt.Sprintf("%04d-%02d", year, month),
		Sectors:      info.Sectors,
		CapacityMiB:  uint64(info.Sectors) * sd.SectorSize / (1024 * 1024),
		HighCapacity: info.OCR != nil && info.OCR.CCS,
		LastSeen:     time.Now(),
	}
}

//
type Inventory struct {
	base  string
	index bleve.Index
}

//
func (i *Inventory) Close() error {
	if i.index != nil {
		return i.index.Close()
	}
	return nil
}

/*
	Add adds a card to the inventory, or updates its entry. An empty label
	keeps the label of an existing entry.
*/
func (i *Inventory) Add(info *sd.Info, label string) (*Entry, error) {

	e := NewEntry(info, label)
	logger := log.WithFields(log.Fields{"id": e.ID, "product": e.Product})

	if label == "" {
		if old, err := i.Get(e.ID); err == nil && old != nil {
			e.Label = old.Label
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	batch := i.index.NewBatch()
	if err := batch.Index(e.ID, e); err != nil {
		logger.Errorf("failed to batch entry add: %v", err)
		return nil, err
	}
	batch.SetInternal([]byte(e.ID), data)

	if err := i.index.Batch(batch); err != nil {
		logger.Errorf("failed to execute index batch: %v", err)
		return nil, err
	}

	logger.Debug("card added to inventory")
	return e, nil
}

// Get returns the entry with the given ID, or nil if there is none.
func (i *Inventory) Get(id string) (*Entry, error) {

	data, err := i.index.GetInternal([]byte(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	ret := &Entry{}
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("corrupt inventory entry %s: %v", id, err)
	}
	return ret, nil
}

//
func (i *Inventory) Remove(id string) error {
	log.WithField("id", id).Debug("removing card from inventory")
	batch := i.index.NewBatch()
	batch.Delete(id)
	batch.DeleteInternal([]byte(id))
	return i.index.Batch(batch)
}

//
type SearchResult struct {
	Hits     []string `json:"hits"`
	Total    uint64   `json:"total"`
	Complete bool     `json:"complete"`
}

// Search returns IDs of at most max cards matching term.
func (i *Inventory) Search(term string, max int) (*SearchResult, error) {

	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("no search term")
	}
	if max < 1 {
		return nil, fmt.Errorf("invalid max number of results: %d", max)
	}

	log.Debugf("searching for '%s'", term)
	query := bleve.NewQueryStringQuery(term)
	search := bleve.NewSearchRequestOptions(query, max+1, 0, false)
	res, err := i.index.Search(search)
	if err != nil {
		return nil, err
	}

	ret := &SearchResult{
		Hits:     make([]string, len(res.Hits)),
		Total:    res.Total,
		Complete: true}

	for ix, h := range res.Hits {
		ret.Hits[ix] = h.ID
	}

	if len(ret.Hits) > max {
		ret.Hits = ret.Hits[:max]
		ret.Complete = false
	}

	return ret, nil
}
