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
	"fmt"
	"net/http"
	"strings"
)

// search looks up cards in the inventory.
func (a *APIServer) search(w http.ResponseWriter, req *http.Request) {

	if a.index == nil {
		handleError(fmt.Errorf("card inventory not available"),
			http.StatusServiceUnavailable, w)
		return
	}

	items, err := getIntArg(req, "items", 100)
	if err == nil && items < 1 {
		err = fmt.Errorf("invalid number of items: %d", items)
	}
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}

	res, err := a.index.Search(getArg(req, "term"), items)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}

	if wantsJSON(req) {
		sendJSONReply(res, http.StatusOK, w)
		return
	}

	var sb strings.Builder
	for _, id := range res.Hits {
		if e, err := a.index.Get(id); err == nil && e != nil {
			sb.WriteString(fmt.Sprintf("%s  %-5s %6d MiB  %s\n",
				e.ID, e.Product, e.CapacityMiB, e.Label))
		} else {
			sb.WriteString(fmt.Sprintf("%s\n", id))
		}
	}
	sb.WriteString(fmt.Sprintf("\ntotal hits: %d\n", res.Total))
	sendReply([]byte(sb.String()), http.StatusOK, w)
}
