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
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xelalexv/sdspi/pkg/bus/sim"
	"github.com/xelalexv/sdspi/pkg/sd"
)

func newCard(t *testing.T, sectors uint32) (*sim.Card, *sd.Card) {

	t.Helper()

	c := sim.New(sectors)
	card := sd.NewCard(c, sim.NewTickClock(), sd.DefaultTiming())
	if _, err := card.Init(); err != nil {
		t.Fatal(err)
	}
	c.History()
	return c, card
}

func writeFile(t *testing.T, path string, data []byte, appending bool) {

	t.Helper()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appending {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
}

func sectors(c *sim.Card, first, n uint32) []byte {
	var ret []byte
	for ix := uint32(0); ix < n; ix++ {
		ret = append(ret, c.Sector(first+ix)...)
	}
	return ret
}

func TestFlush(t *testing.T) {

	simCard, card := newCard(t, 128)
	dir := t.TempDir()
	journal := filepath.Join(t.TempDir(), "journal")

	s, err := New(Config{
		Dir: dir, First: 10, Last: 100, Fill: 0x20, PreErase: true,
		Journal: journal,
	}, Direct(card))
	if err != nil {
		t.Fatal(err)
	}

	a := []byte(strings.Repeat("a", 600))
	b := []byte(strings.Repeat("b", 100))
	writeFile(t, filepath.Join(dir, "a.log"), a, false)
	writeFile(t, filepath.Join(dir, "b.log"), b, false)
	s.changed(filepath.Join(dir, "a.log"))
	s.changed(filepath.Join(dir, "b.log"))

	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	// a.log takes 2 blocks, b.log starts on the next boundary
	got := sectors(simCard, 10, 3)
	if !bytes.Equal(got[:600], a) {
		t.Error("a.log differs")
	}
	if !bytes.Equal(got[600:1024], bytes.Repeat([]byte{0x20}, 424)) {
		t.Error("a.log not padded")
	}
	if !bytes.Equal(got[1024:1124], b) {
		t.Error("b.log differs")
	}
	if s.Next() != 13 {
		t.Errorf("next sector %d, want 13", s.Next())
	}
	if simCard.PreErase() != 3 {
		t.Errorf("pre-erase %d, want 3", simCard.PreErase())
	}
	if h := simCard.History(); count(h, "CMD25") != 1 {
		t.Errorf("expected a single stream, got %v", h)
	}

	// appended data only
	more := []byte("tail")
	writeFile(t, filepath.Join(dir, "a.log"), more, true)
	s.changed(filepath.Join(dir, "a.log"))
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := simCard.Sector(13); !bytes.Equal(got[:4], more) {
		t.Errorf("appended data not spooled: %q", got[:4])
	}

	records := s.Journal()
	if len(records) != 3 {
		t.Fatalf("%d records, want 3", len(records))
	}
	if r := records[2]; r.Offset != 600 || r.Bytes != 4 || r.Sector != 13 || r.Blocks != 1 {
		t.Errorf("unexpected record %+v", r)
	}

	f, err := os.Open(journal)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatal(err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("%d journal lines, want 3", lines)
	}

	// nothing pending
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if s.Next() != 14 {
		t.Errorf("next sector %d, want 14", s.Next())
	}
}

func count(history []string, cmd string) int {
	n := 0
	for _, h := range history {
		if h == cmd {
			n++
		}
	}
	return n
}

func TestFull(t *testing.T) {

	simCard, card := newCard(t, 64)
	dir := t.TempDir()

	s, err := New(Config{Dir: dir, First: 4, Last: 5}, Direct(card))
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "big")
	writeFile(t, path, make([]byte, 3*sd.SectorSize), false)
	s.changed(path)

	if err := s.Flush(); !errors.Is(err, ErrFull) {
		t.Fatalf("expected full spool area, got %v", err)
	}
	if count(simCard.History(), "CMD25") != 0 {
		t.Error("data written despite full spool area")
	}
	if s.Next() != 4 {
		t.Errorf("next sector %d", s.Next())
	}
}

func TestWriteFailure(t *testing.T) {

	simCard, card := newCard(t, 64)
	dir := t.TempDir()

	s, err := New(Config{Dir: dir, First: 0, Last: 63}, Direct(card))
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "x")
	writeFile(t, path, []byte("data"), false)
	s.changed(path)

	simCard.SetFaults(sim.Faults{RejectWrites: true})
	if err := s.Flush(); !errors.Is(err, sd.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if len(s.Journal()) != 0 {
		t.Error("failed chunk recorded")
	}

	// still pending, retried with next flush
	simCard.SetFaults(sim.Faults{})
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(s.Journal()) != 1 {
		t.Error("chunk not spooled on retry")
	}
}

func TestInvalidArea(t *testing.T) {
	if _, err := New(Config{Dir: ".", First: 5, Last: 4}, nil); err == nil {
		t.Error("expected error for invalid spool area")
	}
}

func TestWatch(t *testing.T) {

	simCard, card := newCard(t, 256)
	dir := t.TempDir()

	old := []byte("already there")
	writeFile(t, filepath.Join(dir, "old"), old, false)

	s, err := New(Config{
		Dir: dir, First: 0, Last: 255, Quiet: 50 * time.Millisecond,
	}, Direct(card))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	data := []byte("new log line\n")
	writeFile(t, filepath.Join(sub, "new.log"), data, false)

	deadline := time.Now().Add(5 * time.Second)
	for len(s.Journal()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	records := s.Journal()
	if len(records) != 1 {
		t.Fatalf("%d records, want 1: %+v", len(records), records)
	}
	if filepath.Base(records[0].Path) != "new.log" {
		t.Errorf("spooled %s", records[0].Path)
	}
	if got := simCard.Sector(0); !bytes.Equal(got[:len(data)], data) {
		t.Errorf("sector 0 holds %q", got[:len(data)])
	}
}

func TestWatchMovedTree(t *testing.T) {

	simCard, card := newCard(t, 256)
	dir := t.TempDir()

	outside := filepath.Join(t.TempDir(), "a")
	if err := os.MkdirAll(filepath.Join(outside, "b"), 0755); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{
		Dir: dir, First: 0, Last: 255, Quiet: 50 * time.Millisecond,
	}, Direct(card))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := os.Rename(outside, filepath.Join(dir, "a")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	data := bytes.Repeat([]byte{0x42}, sd.SectorSize)
	writeFile(t, filepath.Join(dir, "a", "b", "log.bin"), data, false)

	deadline := time.Now().Add(5 * time.Second)
	for len(s.Journal()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	// must have been spooled while running, not by the rescan on stop
	records := s.Journal()
	if len(records) != 1 {
		t.Fatalf("%d records while running, want 1", len(records))
	}
	if rel, _ := filepath.Rel(dir, records[0].Path); rel != filepath.Join("a", "b", "log.bin") {
		t.Errorf("spooled %s", records[0].Path)
	}
	if !bytes.Equal(simCard.Sector(0), data) {
		t.Error("sector 0 differs")
	}
}
