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

	"github.com/xelalexv/sdspi/pkg/util"
)

//
type Version struct {
	Server  string `json:"server"`
	Adapter string `json:"adapter,omitempty"`
}

//
func (v *Version) String() string {
	ret := fmt.Sprintf("server:     %s\n", v.Server)
	if v.Adapter != "" {
		ret += fmt.Sprintf("adapter:    %s\n", v.Adapter)
	}
	return ret
}

//
func (a *APIServer) version(w http.ResponseWriter, req *http.Request) {

	ver := &Version{Server: util.SDSPIVersion, Adapter: a.cfg.Adapter}

	if wantsJSON(req) {
		sendJSONReply(ver, http.StatusOK, w)
	} else {
		sendReply([]byte(ver.String()), http.StatusOK, w)
	}
}
