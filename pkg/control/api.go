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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/inventory"
	"github.com/xelalexv/sdspi/pkg/sd"
	"github.com/xelalexv/sdspi/pkg/spool"
)

// maximum number of sectors returned by a single read
const maxReadSectors = 2048

//
type Config struct {
	Address     string
	Adapter     string        // adapter version, if known
	LockTimeout time.Duration // how long to wait for the card
	MaxUpload   int64         // max request body size for writes
}

/*
	APIServer is the HTTP control API in front of a card. The card is owned
	exclusively by the server, all access goes through a lock that requests
	wait for at most the lock timeout.
*/
type APIServer struct {
	cfg     Config
	card    *sd.Card
	info    *sd.Info
	infoMu  sync.RWMutex
	lock    chan struct{}
	index   *inventory.Inventory
	spooler *spool.Spooler
	server  *http.Server
}

//
func NewAPIServer(cfg Config, card *sd.Card, info *sd.Info) *APIServer {

	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = 64 * 1024 * 1024
	}

	return &APIServer{
		cfg:  cfg,
		card: card,
		info: info,
		lock: make(chan struct{}, 1),
	}
}

// SetInventory enables search, and records the card in the inventory.
func (a *APIServer) SetInventory(index *inventory.Inventory) error {
	a.index = index
	if info := a.cardInfo(); index != nil && info != nil {
		if _, err := index.Add(info, ""); err != nil {
			return err
		}
	}
	return nil
}

//
func (a *APIServer) cardInfo() *sd.Info {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.info
}

//
func (a *APIServer) setCardInfo(info *sd.Info) {
	a.infoMu.Lock()
	a.info = info
	a.infoMu.Unlock()
}

//
func (a *APIServer) SetSpooler(s *spool.Spooler) {
	a.spooler = s
}

//
func (a *APIServer) Handler() http.Handler {

	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/version", a.version).Methods("GET")
	router.HandleFunc("/info", a.getInfo).Methods("GET")
	router.HandleFunc("/status", a.getStatus).Methods("GET")
	router.HandleFunc("/sector/{sector:[0-9]+}", a.readSectors).Methods("GET")
	router.HandleFunc("/sector/{sector:[0-9]+}", a.writeSectors).Methods("PUT")
	router.HandleFunc("/sector/{sector:[0-9]+}", a.erase).Methods("DELETE")
	router.HandleFunc("/search", a.search).Methods("GET")
	router.HandleFunc("/spool", a.spoolJournal).Methods("GET")

	return router
}

// Serve listens on the configured address, and blocks until Stop is called.
func (a *APIServer) Serve() error {

	a.server = &http.Server{
		Addr:    a.cfg.Address,
		Handler: a.Handler(),
	}

	log.Infof("SDSPI API starts listening on %s", a.cfg.Address)
	err := a.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

//
func (a *APIServer) Stop() error {

	if a.server == nil {
		return nil
	}

	log.Info("SDSPI API stopping...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

/*
	Access runs fn with exclusive use of the card, waiting for at most the
	lock timeout. This is used by the spooler to share the card with the API.
*/
func (a *APIServer) Access(fn func(card *sd.Card) error) error {
	if !a.acquire() {
		return errCardBusy
	}
	defer a.release()
	return fn(a.card)
}

var errCardBusy = errors.New("card busy")

//
func (a *APIServer) acquire() bool {

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LockTimeout)
	defer cancel()

	select {
	case a.lock <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

//
func (a *APIServer) release() {
	<-a.lock
}

// cardError maps errors from card operations to HTTP status codes.
func cardError(err error, w http.ResponseWriter) bool {

	if err == nil {
		return false
	}

	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, errCardBusy):
		status = http.StatusLocked
	case errors.Is(err, sd.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, sd.ErrRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, sd.ErrCRC):
		status = http.StatusBadGateway
	case errors.Is(err, sd.ErrProtocol):
		status = http.StatusBadRequest
	case errors.Is(err, sd.ErrUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, spool.ErrFull):
		status = http.StatusInsufficientStorage
	}

	return handleError(err, status, w)
}

//
func handleError(e error, statusCode int, w http.ResponseWriter) bool {

	if e == nil {
		return false
	}

	msg, err := json.Marshal(map[string]string{"error": e.Error()})
	if err != nil {
		msg = []byte(e.Error())
	}

	log.WithField("status", statusCode).Errorf("API error: %v", e)
	sendReply(msg, statusCode, w)
	return true
}

//
func sendReply(body []byte, statusCode int, w http.ResponseWriter) {
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Errorf("problem writing response: %v", err)
	}
}

//
func sendJSONReply(obj interface{}, statusCode int, w http.ResponseWriter) {

	body, err := json.Marshal(obj)
	if handleError(err, http.StatusInternalServerError, w) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	sendReply(body, statusCode, w)
}

//
func sendStreamReply(r io.Reader, statusCode int, w http.ResponseWriter) {
	w.WriteHeader(statusCode)
	if _, err := io.Copy(w, r); err != nil {
		log.Errorf("problem writing response: %v", err)
	}
}

//
func getArg(req *http.Request, arg string) string {
	if v, ok := mux.Vars(req)[arg]; ok {
		return v
	}
	return req.URL.Query().Get(arg)
}

//
func getIntArg(req *http.Request, arg string, def int) (int, error) {
	a := getArg(req, arg)
	if a == "" {
		return def, nil
	}
	ret, err := strconv.Atoi(a)
	if err != nil {
		return def, fmt.Errorf("invalid value for '%s': %v", arg, err)
	}
	return ret, nil
}

//
func getSectorArg(req *http.Request, arg string, def uint32) (uint32, error) {
	a := getArg(req, arg)
	if a == "" {
		return def, nil
	}
	ret, err := strconv.ParseUint(a, 10, 32)
	if err != nil {
		return def, fmt.Errorf("invalid sector '%s': %v", a, err)
	}
	return uint32(ret), nil
}

//
func isFlagSet(req *http.Request, flag string) bool {
	return getArg(req, flag) == "true"
}

//
func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}
