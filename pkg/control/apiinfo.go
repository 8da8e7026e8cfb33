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

package control

import (
	"bytes"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/sd"
)

/*
	getInfo replies with the card's registers as read during initialisation.
	With refresh set, the registers are read again from the card.
*/
func (a *APIServer) getInfo(w http.ResponseWriter, req *http.Request) {

	if isFlagSet(req, "refresh") {
		err := a.Access(func(card *sd.Card) error {
			info, err := readInfo(card)
			if err == nil {
				a.setCardInfo(info)
			}
			return err
		})
		if cardError(err, w) {
			return
		}
		if a.index != nil {
			if _, err := a.index.Add(a.cardInfo(), ""); err != nil {
				log.Errorf("error updating inventory: %v", err)
			}
		}
	}

	info := a.cardInfo()
	if info == nil {
		handleError(fmt.Errorf("no card information"),
			http.StatusServiceUnavailable, w)
		return
	}

	if wantsJSON(req) {
		sendJSONReply(info, http.StatusOK, w)
		return
	}

	var buf bytes.Buffer
	info.Emit(&buf)
	sendReply(buf.Bytes(), http.StatusOK, w)
}

//
func readInfo(card *sd.Card) (*sd.Info, error) {

	ret := &sd.Info{}
	var err error

	if ret.OCR, err = card.ReadOCR(); err != nil {
		return nil, err
	}
	if ret.CSD, err = card.ReadCSD(); err != nil {
		return nil, err
	}
	if ret.CID, err = card.ReadCID(); err != nil {
		return nil, err
	}
	ret.Sectors = ret.CSD.Sectors()

	return ret, nil
}

//
type Status struct {
	Card     uint16       `json:"card"`
	SDStatus *sd.SDStatus `json:"sdStatus"`
}

//
func (a *APIServer) getStatus(w http.ResponseWriter, req *http.Request) {

	st := &Status{}

	err := a.Access(func(card *sd.Card) error {
		var err error
		if st.Card, err = card.ReadStatus(); err != nil {
			return err
		}
		st.SDStatus, err = card.ReadSDStatus()
		return err
	})
	if cardError(err, w) {
		return
	}

	if wantsJSON(req) {
		sendJSONReply(st, http.StatusOK, w)
		return
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "card status: 0x%04X\n\n", st.Card)
	st.SDStatus.Emit(&buf)
	sendReply(buf.Bytes(), http.StatusOK, w)
}
