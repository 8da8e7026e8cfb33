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
	"time"
)

/*
	Bus is the byte level transport to the card. Exchange and Write are only
	meaningful while the card is selected. Implementations do not need to be
	safe for concurrent use, a card owns its bus exclusively.
*/
type Bus interface {

	// Exchange shifts out one byte and returns the byte shifted in.
	Exchange(out byte) (byte, error)

	// Write shifts out all bytes in buf, discarding what comes back.
	Write(buf []byte) error

	// Select asserts (true) or deasserts (false) chip select.
	Select(active bool) error
}

/*
	Clock is the millisecond time base used for bounding timeouts. NowMs is
	monotonic and may wrap, elapsed time is always computed with unsigned
	subtraction.
*/
type Clock interface {
	NowMs() uint32
	Delay(ms uint32)
}

// NewSystemClock returns a Clock based on the monotonic system clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

//
type SystemClock struct {
	start time.Time
}

//
func (c *SystemClock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

//
func (c *SystemClock) Delay(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

//
func elapsed(c Clock, since uint32) uint32 {
	return c.NowMs() - since
}
