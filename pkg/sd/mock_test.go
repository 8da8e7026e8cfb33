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

package sd

import (
	"errors"
)

/*
	scriptBus is a Bus answering Exchange calls from a script of bytes.
	Once the script is used up, it answers with fill. Write consumes no
	script bytes. Everything sent is recorded.
*/
type scriptBus struct {
	script   []byte
	fill     byte
	sent     []byte
	writes   [][]byte
	selects  []bool
	selected bool
	fail     error
}

func newScriptBus(script ...byte) *scriptBus {
	return &scriptBus{script: script, fill: TokenIdle}
}

func (b *scriptBus) Exchange(out byte) (byte, error) {
	if b.fail != nil {
		return 0, b.fail
	}
	b.sent = append(b.sent, out)
	if len(b.script) == 0 {
		return b.fill, nil
	}
	ret := b.script[0]
	b.script = b.script[1:]
	return ret, nil
}

func (b *scriptBus) Write(buf []byte) error {
	if b.fail != nil {
		return b.fail
	}
	w := make([]byte, len(buf))
	copy(w, buf)
	b.writes = append(b.writes, w)
	b.sent = append(b.sent, w...)
	return nil
}

func (b *scriptBus) Select(active bool) error {
	b.selects = append(b.selects, active)
	b.selected = active
	return nil
}

// commands returns the command frames written so far.
func (b *scriptBus) commands() []Command {
	var ret []Command
	for _, w := range b.writes {
		if len(w) != 6 {
			continue
		}
		if cmd, err := ParseFrame(w); err == nil {
			ret = append(ret, cmd)
		}
	}
	return ret
}

// dataBytes returns the number of bytes written outside of command frames
// and block CRCs.
func (b *scriptBus) dataBytes() int {
	n := 0
	for _, w := range b.writes {
		if len(w) == 6 || len(w) == 2 {
			continue
		}
		n += len(w)
	}
	return n
}

func (b *scriptBus) countCommand(index byte) int {
	n := 0
	for _, c := range b.commands() {
		if c.Index == index {
			n++
		}
	}
	return n
}

// tickClock advances by one millisecond each time it is read.
type tickClock struct {
	now    uint32
	delays []uint32
}

func (c *tickClock) NowMs() uint32 {
	c.now++
	return c.now
}

func (c *tickClock) Delay(ms uint32) {
	c.delays = append(c.delays, ms)
	c.now += ms
}

func testTiming() Timing {
	t := DefaultTiming()
	t.CommandTimeout = 20
	t.ReadWriteTimeout = 40
	t.EraseTimeout = 100
	t.InitTimeout = 100
	t.PreClock = false
	return t
}

func newTestCard(bus *scriptBus) (*Card, *tickClock) {
	clock := &tickClock{}
	return NewCard(bus, clock, testTiming()), clock
}

var errBus = errors.New("wire cut")
