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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/sd"
)

// ErrFull is returned when spooled data would run past the last sector.
var ErrFull = errors.New("spool area full")

/*
	Access runs fn with exclusive use of the card. It lets the spooler share
	a card with other users, such as the API server.
*/
type Access func(fn func(card *sd.Card) error) error

// Direct returns an Access for a card that is not shared.
func Direct(card *sd.Card) Access {
	var mutex sync.Mutex
	return func(fn func(card *sd.Card) error) error {
		mutex.Lock()
		defer mutex.Unlock()
		return fn(card)
	}
}

//
type Config struct {
	Dir      string
	First    uint32 // first sector of spool area
	Last     uint32 // last sector of spool area, inclusive
	PreErase bool
	Fill     byte
	Quiet    time.Duration
	Existing bool   // whether to spool files present at start
	Journal  string // optional path of journal file
}

// Record describes one chunk of file data spooled to the card.
type Record struct {
	Path    string    `json:"path"`
	Offset  int64     `json:"offset"`
	Bytes   int64     `json:"bytes"`
	Sector  uint32    `json:"sector"`
	Blocks  uint32    `json:"blocks"`
	Spooled time.Time `json:"spooled"`
}

/*
	Spooler copies data written into a directory tree onto the card. Data is
	written sequentially into the spool area with multi-block writes, one
	stream per flush. Every file chunk starts on a block boundary. Files that
	grow are spooled incrementally, only the data appended since the last
	flush is written. A file that shrinks is considered replaced and spooled
	from its start.
*/
type Spooler struct {
	cfg     Config
	access  Access
	next    uint32
	pending map[string]bool
	offsets map[string]int64
	journal []Record
	watcher *watcher
	mutex   sync.Mutex
}

//
func New(cfg Config, access Access) (*Spooler, error) {

	if cfg.Last < cfg.First {
		return nil, fmt.Errorf(
			"invalid spool area: sectors %d to %d", cfg.First, cfg.Last)
	}

	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	cfg.Dir = abs

	if cfg.Quiet <= 0 {
		cfg.Quiet = time.Second
	}

	return &Spooler{
		cfg:     cfg,
		access:  access,
		next:    cfg.First,
		pending: make(map[string]bool),
		offsets: make(map[string]int64),
	}, nil
}

/*
	Start scans the spool directory and starts watching it. Unless Existing
	is set in the config, files already present are considered spooled.
*/
func (s *Spooler) Start() error {

	if err := s.scan(!s.cfg.Existing); err != nil {
		return err
	}

	var err error
	if s.watcher, err = newWatcher(s.cfg.Dir); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"dir":   s.cfg.Dir,
		"first": s.cfg.First,
		"last":  s.cfg.Last,
	}).Info("spooler started")

	if err := s.watcher.start(s.cfg.Quiet, s.changed, s.Flush); err != nil {
		return err
	}

	if s.cfg.Existing {
		return s.Flush()
	}
	return nil
}

/*
	Stop stops watching and spools what is still pending, including changes
	the watcher has not reported yet.
*/
func (s *Spooler) Stop() error {
	if s.watcher != nil {
		s.watcher.stop()
	}
	if err := s.scan(false); err != nil {
		log.Errorf("error scanning spool directory: %v", err)
	}
	log.Info("spooler stopped")
	return s.Flush()
}

/*
	scan walks the spool directory. With skip set, all files are considered
	spooled as they are. Otherwise, files whose size differs from what has
	been spooled are marked pending.
*/
func (s *Spooler) scan(skip bool) error {

	s.mutex.Lock()
	defer s.mutex.Unlock()

	return filepath.Walk(s.cfg.Dir, func(
		path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() || s.ignored(path) {
			return err
		}
		if skip {
			s.offsets[path] = info.Size()
		} else if s.offsets[path] != info.Size() {
			s.pending[path] = true
		}
		return nil
	})
}

//
func (s *Spooler) changed(path string) {
	if s.ignored(path) {
		return
	}
	s.mutex.Lock()
	s.pending[path] = true
	s.mutex.Unlock()
}

// ignored reports whether path is the journal file.
func (s *Spooler) ignored(path string) bool {
	if s.cfg.Journal == "" {
		return false
	}
	j, err := filepath.Abs(s.cfg.Journal)
	return err == nil && j == path
}

// Next returns the sector the next spooled chunk will be written to.
func (s *Spooler) Next() uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.next
}

// Journal returns the records of everything spooled so far.
func (s *Spooler) Journal() []Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Record(nil), s.journal...)
}

//
type chunk struct {
	path   string
	offset int64
	size   int64
}

//
func blocksFor(size int64) uint32 {
	return uint32((size + sd.SectorSize - 1) / sd.SectorSize)
}

/*
	Flush spools all pending changes to the card. Chunks are written in path
	order within a single multi-block write. If the spool area cannot take
	all pending data, nothing is written and ErrFull is returned.
*/
func (s *Spooler) Flush() error {

	s.mutex.Lock()
	defer s.mutex.Unlock()

	chunks, blocks := s.collect()
	if blocks == 0 {
		return nil
	}

	if uint64(s.next)+uint64(blocks)-1 > uint64(s.cfg.Last) {
		return fmt.Errorf("%w: %d blocks pending, %d left",
			ErrFull, blocks, s.cfg.Last-s.next+1)
	}

	var preErase uint32
	if s.cfg.PreErase {
		preErase = blocks
	}

	var records []Record

	err := s.access(func(card *sd.Card) error {

		stream, err := card.OpenStream(s.next, preErase)
		if err != nil {
			return err
		}
		w := sd.NewStreamWriter(stream, s.cfg.Fill)

		for _, c := range chunks {
			sector := stream.Sector()
			if err := copyChunk(w, c); err != nil {
				w.Close()
				s.next += stream.Blocks()
				return err
			}
			if err := w.Pad(); err != nil {
				w.Close()
				s.next += stream.Blocks()
				return err
			}
			records = append(records, Record{
				Path:    c.path,
				Offset:  c.offset,
				Bytes:   c.size,
				Sector:  sector,
				Blocks:  stream.Sector() - sector,
				Spooled: time.Now(),
			})
		}

		err = w.Close()
		s.next += stream.Blocks()
		return err
	})

	// chunks completed before an error stay spooled
	for _, r := range records {
		s.offsets[r.Path] = r.Offset + r.Bytes
		delete(s.pending, r.Path)
		log.WithFields(log.Fields{
			"path":   r.Path,
			"bytes":  r.Bytes,
			"sector": r.Sector,
			"blocks": r.Blocks,
		}).Info("spooled")
	}
	s.journal = append(s.journal, records...)

	if jerr := s.writeJournal(records); jerr != nil {
		log.Errorf("error writing spool journal: %v", jerr)
	}

	return err
}

// collect determines the pending chunks, and the number of blocks they need.
func (s *Spooler) collect() ([]chunk, uint32) {

	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var ret []chunk
	var blocks uint32

	for _, p := range paths {

		info, err := os.Stat(p)
		if err != nil {
			log.WithField("path", p).Debugf("dropping pending file: %v", err)
			delete(s.pending, p)
			delete(s.offsets, p)
			continue
		}

		offset := s.offsets[p]
		if info.Size() < offset {
			offset = 0
		}
		size := info.Size() - offset
		if size == 0 {
			delete(s.pending, p)
			continue
		}

		ret = append(ret, chunk{path: p, offset: offset, size: size})
		blocks += blocksFor(size)
	}

	return ret, blocks
}

//
func copyChunk(w io.Writer, c chunk) error {

	f, err := os.Open(c.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		return err
	}

	if _, err := io.CopyN(w, f, c.size); err != nil {
		return fmt.Errorf("error spooling '%s': %w", c.path, err)
	}
	return nil
}

// writeJournal appends records to the journal file as JSON lines.
func (s *Spooler) writeJournal(records []Record) error {

	if s.cfg.Journal == "" || len(records) == 0 {
		return nil
	}

	f, err := os.OpenFile(
		s.cfg.Journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
