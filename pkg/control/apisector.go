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
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/image"
	"github.com/xelalexv/sdspi/pkg/sd"
)

//
type SectorData struct {
	Sector uint32 `json:"sector"`
	Count  int    `json:"count"`
	Data   []byte `json:"data"`
}

//
type WriteResult struct {
	Sector uint32 `json:"sector"`
	Blocks uint32 `json:"blocks"`
	Bytes  int64  `json:"bytes"`
}

//
func (a *APIServer) checkRange(first uint32, count int64) error {
	info := a.cardInfo()
	if info == nil {
		return nil
	}
	if count < 1 || int64(first)+count > int64(info.Sectors) {
		return fmt.Errorf("sectors %d to %d out of range, card has %d sectors",
			first, int64(first)+count-1, info.Sectors)
	}
	return nil
}

/*
	readSectors replies with count sectors starting at the requested sector,
	as hex dump, as JSON, or as raw bytes.
*/
func (a *APIServer) readSectors(w http.ResponseWriter, req *http.Request) {

	sector, err := getSectorArg(req, "sector", 0)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}

	count, err := getIntArg(req, "count", 1)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}
	if count > maxReadSectors {
		handleError(fmt.Errorf("at most %d sectors per read", maxReadSectors),
			http.StatusRequestEntityTooLarge, w)
		return
	}
	if handleError(a.checkRange(sector, int64(count)),
		http.StatusRequestedRangeNotSatisfiable, w) {
		return
	}

	buf := make([]byte, count*sd.SectorSize)
	err = a.Access(func(card *sd.Card) error {
		if count == 1 {
			return card.ReadSector(sector, buf)
		}
		return card.ReadSectors(sector, buf)
	})
	if cardError(err, w) {
		return
	}

	switch {

	case isFlagSet(req, "raw"):
		w.Header().Set("Content-Type", "application/octet-stream")
		sendReply(buf, http.StatusOK, w)

	case wantsJSON(req):
		sendJSONReply(
			&SectorData{Sector: sector, Count: count, Data: buf}, http.StatusOK, w)

	default:
		read, write := io.Pipe()
		defer read.Close()
		go func() {
			d := hex.Dumper(write)
			d.Write(buf)
			d.Close()
			write.Close()
		}()
		sendStreamReply(read, http.StatusOK, w)
	}
}

/*
	writeSectors writes the request body starting at the requested sector.
	The body may be compressed, as indicated by the compressor argument. With
	single set, only the first sector's worth of data is written with a
	single block write. Otherwise the data is written with a multi-block
	write, pre-erasing the number of blocks given by preerase, and the last
	block is padded with the fill byte.
*/
func (a *APIServer) writeSectors(w http.ResponseWriter, req *http.Request) {

	sector, err := getSectorArg(req, "sector", 0)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}
	if handleError(a.checkRange(sector, 1),
		http.StatusRequestedRangeNotSatisfiable, w) {
		return
	}

	preErase, err := getIntArg(req, "preerase", 0)
	if err == nil && preErase < 0 {
		err = fmt.Errorf("invalid pre-erase count %d", preErase)
	}
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}

	fill, err := getIntArg(req, "fill", 0)
	if err == nil && (fill < 0 || fill > 255) {
		err = fmt.Errorf("invalid fill byte %d", fill)
	}
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}

	in, err := image.NewReader(
		http.MaxBytesReader(w, req.Body, a.cfg.MaxUpload), getArg(req, "compressor"))
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}
	defer in.Close()

	// sectors to be pre-erased, or taken up by an image of known size,
	// must all be on the card
	need := int64(preErase)
	if n := in.Sectors(); !isFlagSet(req, "single") && n > need {
		need = n
	}
	if need > 1 && handleError(a.checkRange(sector, need),
		http.StatusRequestedRangeNotSatisfiable, w) {
		return
	}

	res := &WriteResult{Sector: sector}

	if isFlagSet(req, "single") {
		err = a.Access(func(card *sd.Card) error {
			buf := make([]byte, sd.SectorSize)
			n, err := io.ReadFull(in, buf)
			if err != nil && err != io.ErrUnexpectedEOF {
				return err
			}
			for ix := n; ix < len(buf); ix++ {
				buf[ix] = byte(fill)
			}
			if err := card.WriteSector(sector, buf); err != nil {
				return err
			}
			res.Blocks = 1
			res.Bytes = int64(n)
			return nil
		})

	} else {
		err = a.Access(func(card *sd.Card) error {
			stream, err := card.OpenStream(sector, uint32(preErase))
			if err != nil {
				return err
			}
			sw := sd.NewStreamWriter(stream, byte(fill))
			_, err = io.Copy(sw, in)
			if cerr := sw.Close(); err == nil {
				err = cerr
			}
			res.Blocks = stream.Blocks()
			res.Bytes = sw.Written()
			return err
		})
	}

	if cardError(err, w) {
		return
	}

	log.WithFields(log.Fields{
		"sector": res.Sector,
		"blocks": res.Blocks,
		"bytes":  res.Bytes,
	}).Info("sectors written")

	if wantsJSON(req) {
		sendJSONReply(res, http.StatusOK, w)
		return
	}
	sendReply([]byte(fmt.Sprintf("wrote %d bytes in %d blocks at sector %d",
		res.Bytes, res.Blocks, res.Sector)), http.StatusOK, w)
}

// erase erases the requested sector, up to and including end if given.
func (a *APIServer) erase(w http.ResponseWriter, req *http.Request) {

	first, err := getSectorArg(req, "sector", 0)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}

	last, err := getSectorArg(req, "end", first)
	if err == nil && last < first {
		err = fmt.Errorf("end sector %d before start sector %d", last, first)
	}
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}
	if handleError(a.checkRange(first, int64(last-first)+1),
		http.StatusRequestedRangeNotSatisfiable, w) {
		return
	}

	if cardError(a.Access(func(card *sd.Card) error {
		return card.Erase(first, last)
	}), w) {
		return
	}

	log.WithFields(log.Fields{"first": first, "last": last}).Info("erased")
	sendReply([]byte(fmt.Sprintf(
		"erased sectors %d to %d", first, last)), http.StatusOK, w)
}
