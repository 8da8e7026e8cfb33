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

//
func (a *APIServer) spoolJournal(w http.ResponseWriter, req *http.Request) {

	if a.spooler == nil {
		handleError(fmt.Errorf("spooler not running"),
			http.StatusServiceUnavailable, w)
		return
	}

	journal := a.spooler.Journal()

	if wantsJSON(req) {
		sendJSONReply(journal, http.StatusOK, w)
		return
	}

	var sb strings.Builder
	for _, r := range journal {
		sb.WriteString(fmt.Sprintf("%s  %8d  %8d bytes  @%d+%d\n",
			r.Spooled.Format("2006-01-02 15:04:05"), r.Offset, r.Bytes,
			r.Sector, r.Blocks))
		sb.WriteString(fmt.Sprintf("  %s\n", r.Path))
	}
	sb.WriteString(fmt.Sprintf("\nnext sector: %d\n", a.spooler.Next()))
	sendReply([]byte(sb.String()), http.StatusOK, w)
}
