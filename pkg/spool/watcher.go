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

package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

/*
	watcher recursively watches a directory tree for files being created or
	written. Directories created inside the tree are added to the watch. Once
	the tree has been quiet for the quiet period, and there has been at least
	one change since the last flush, the flush function is called. Event
	handling and flushing happen on the same go routine.
*/
type watcher struct {
	fs      *fsnotify.Watcher
	root    string
	done    chan struct{}
	mutex   sync.Mutex
	running bool
}

//
func newWatcher(root string) (*watcher, error) {

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ret := &watcher{fs: fs, root: root, done: make(chan struct{})}

	if err := filepath.Walk(root, func(
		path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return ret.watchDir(path)
		}
		return nil
	}); err != nil {
		fs.Close()
		return nil, fmt.Errorf("error walking spool directory '%s': %w", root, err)
	}

	return ret, nil
}

/*
	start launches the watch routine. changed is called for every regular
	file created or written in the tree, flush after the tree has been quiet
	for the quiet period.
*/
func (w *watcher) start(quiet time.Duration,
	changed func(path string), flush func() error) error {

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.fs == nil {
		return fmt.Errorf("spool watcher stopped")
	}
	if w.running {
		return fmt.Errorf("spool watcher already running")
	}
	w.running = true

	go w.run(quiet, changed, flush)
	return nil
}

//
func (w *watcher) run(quiet time.Duration,
	changed func(path string), flush func() error) {

	defer close(w.done)

	timer := time.NewTimer(quiet)
	timer.Stop()
	dirty := false
	errs := w.fs.Errors

	for {
		select {

		case evt, ok := <-w.fs.Events:
			if !ok {
				log.Debug("spool watcher exiting")
				return
			}
			if w.handle(evt, changed) {
				dirty = true
				timer.Stop()
				timer.Reset(quiet)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Errorf("spool watcher error: %v", err)

		case <-timer.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := flush(); err != nil {
				log.Errorf("error spooling: %v", err)
			}
		}
	}
}

// handle returns true if evt concerns a regular file that needs spooling.
func (w *watcher) handle(evt fsnotify.Event, changed func(path string)) bool {

	log.WithFields(log.Fields{
		"path": evt.Name, "op": evt.Op}).Trace("spool event")

	if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return false
	}

	info, err := os.Lstat(evt.Name)
	if err != nil {
		// already gone again
		return false
	}

	if info.IsDir() {
		if evt.Op&fsnotify.Create != 0 {
			// a whole tree may have been moved in, and files may have
			// landed before the watch was in place
			filepath.Walk(evt.Name, func(
				path string, info os.FileInfo, err error) error {
				if err != nil {
					return nil
				}
				if info.IsDir() {
					w.watchDir(path)
				} else if info.Mode().IsRegular() {
					changed(path)
				}
				return nil
			})
			return true
		}
		return false
	}

	if !info.Mode().IsRegular() {
		return false
	}

	changed(evt.Name)
	return true
}

//
func (w *watcher) watchDir(path string) error {
	if err := w.fs.Add(path); err != nil {
		log.Errorf("error watching directory '%s': %v", path, err)
		return err
	}
	log.WithField("path", path).Debug("watching directory")
	return nil
}

/*
	stop closes the watcher and waits for the watch routine to exit, if it
	was started. A stopped watcher cannot be started again.
*/
func (w *watcher) stop() {

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.fs == nil {
		return
	}

	if err := w.fs.Close(); err != nil {
		log.Errorf("could not close spool watcher: %v", err)
	}
	if w.running {
		<-w.done
	}
	w.fs = nil
	w.running = false
}
