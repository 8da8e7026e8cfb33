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

package sim

import (
	"sync"
)

/*
	TickClock is a Clock for simulations. Time advances by one millisecond
	each time it is read, and by the requested amount on Delay, so timeouts
	expire after a deterministic number of polls without actually waiting.
*/
type TickClock struct {
	mutex sync.Mutex
	now   uint32
	slept uint32
}

//
func NewTickClock() *TickClock {
	return &TickClock{}
}

//
func (c *TickClock) NowMs() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now++
	return c.now
}

//
func (c *TickClock) Delay(ms uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now += ms
	c.slept += ms
}

// Slept returns the total of all delays so far.
func (c *TickClock) Slept() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.slept
}
