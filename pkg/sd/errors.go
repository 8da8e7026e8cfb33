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
	"fmt"
)

var (
	// ErrTimeout indicates that no valid response, token, or not-busy
	// indication arrived within the time budget of the operation.
	ErrTimeout = errors.New("timeout")

	// ErrRejected indicates that the card reported an error, either through
	// R1 error bits or through a data response token other than accepted.
	ErrRejected = errors.New("rejected by card")

	// ErrProtocol indicates that the caller invoked a phase of a transfer
	// out of order.
	ErrProtocol = errors.New("protocol violation")

	// ErrCRC indicates a data block whose CRC-16 did not match the trailer
	// sent by the card. Only reported when CRC verification is enabled.
	ErrCRC = errors.New("data CRC mismatch")

	// ErrUnsupported indicates a card this driver cannot operate, such as
	// version 1.x cards, which do not know CMD8.
	ErrUnsupported = errors.New("unsupported card")
)

//
func timeoutError(op string) error {
	return fmt.Errorf("%s: %w", op, ErrTimeout)
}

//
func rejectedError(op string, response byte) error {
	return fmt.Errorf("%s: %w (response 0x%02X)", op, ErrRejected, response)
}

//
func protocolError(op, msg string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrProtocol, msg)
}

//
func busError(op string, err error) error {
	return fmt.Errorf("%s: bus error: %w", op, err)
}

// responseError classifies a failed R1 response.
func responseError(op string, r1 byte) error {
	if r1&R1Invalid != 0 {
		return timeoutError(op)
	}
	return rejectedError(op, r1)
}
