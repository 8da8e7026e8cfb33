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
	log "github.com/sirupsen/logrus"
)

/*
	Timing holds the timeout and retry policy of a card. All durations are
	in milliseconds, as measured by the card's Clock.
*/
type Timing struct {
	// time to wait for an R1 response after a command frame
	CommandTimeout uint32
	// time to wait for a start block token, or for not busy after a block
	ReadWriteTimeout uint32
	// time to wait for not busy after an erase, can be tens of seconds
	EraseTimeout uint32
	// time granted to the card for leaving idle state during initialisation
	InitTimeout uint32
	// delay before each attempt of a retried command
	CommandDelay uint32
	// number of additional attempts of a retried command
	MaxRetry int
	// send one 0xFF byte before each command frame; some cards need this
	PreClock bool
	// compare the CRC-16 of received blocks with the card's trailer
	VerifyCRC bool
}

// DefaultTiming returns a timing that works with the cards tested so far.
func DefaultTiming() Timing {
	return Timing{
		CommandTimeout:   500,
		ReadWriteTimeout: 1000,
		EraseTimeout:     30000,
		InitTimeout:      2000,
		CommandDelay:     1,
		MaxRetry:         4,
		PreClock:         true,
		VerifyCRC:        false,
	}
}

//
func (t Timing) Fields() log.Fields {
	return log.Fields{
		"command-timeout":    t.CommandTimeout,
		"read-write-timeout": t.ReadWriteTimeout,
		"erase-timeout":      t.EraseTimeout,
		"init-timeout":       t.InitTimeout,
		"command-delay":      t.CommandDelay,
		"max-retry":          t.MaxRetry,
		"pre-clock":          t.PreClock,
		"verify-crc":         t.VerifyCRC,
	}
}
