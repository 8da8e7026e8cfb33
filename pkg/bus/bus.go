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

package bus

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/bus/conduit"
	"github.com/xelalexv/sdspi/pkg/bus/sim"
	"github.com/xelalexv/sdspi/pkg/bus/spidev"
	"github.com/xelalexv/sdspi/pkg/sd"
)

// bus types
const (
	TypeSerial = "serial"
	TypeSPI    = "spi"
	TypeSim    = "sim"
)

// Config selects and parameterizes a bus adapter.
type Config struct {
	Type string
	// serial device, SPI port name, or image file for the simulation
	Device string
	// serial line speed
	Baud uint
	// SPI clock in Hz
	Speed int64
	// chip select pin, SPI only
	ChipSelect string
	// capacity of a simulated card without image file
	SimSectors uint32
}

// Adapter is a bus that needs to be closed after use.
type Adapter interface {
	sd.Bus
	io.Closer
}

/*
	Open creates the adapter given by cfg. A simulated card with an image file
	writes the image back on Close.
*/
func Open(cfg Config) (Adapter, error) {

	log.WithFields(log.Fields{
		"type":   cfg.Type,
		"device": cfg.Device,
	}).Debug("opening bus")

	var ret Adapter
	var err error

	switch cfg.Type {
	case TypeSerial:
		ret, err = conduit.Open(cfg.Device, cfg.Baud)
	case TypeSPI:
		ret, err = spidev.Open(cfg.Device, cfg.Speed, cfg.ChipSelect)
	case TypeSim:
		ret, err = openSim(cfg)
	default:
		err = fmt.Errorf("unknown bus type '%s'", cfg.Type)
	}

	if err != nil {
		return nil, err
	}
	return ret, nil
}

//
type simAdapter struct {
	*sim.Card
	image []byte
	file  string
}

//
func openSim(cfg Config) (*simAdapter, error) {

	if cfg.Device == "" {
		sectors := cfg.SimSectors
		if sectors == 0 {
			sectors = 65536
		}
		return &simAdapter{Card: sim.New(sectors)}, nil
	}

	image, err := os.ReadFile(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("error loading card image: %v", err)
	}
	if len(image) < sd.SectorSize {
		return nil, fmt.Errorf("card image %s smaller than a sector", cfg.Device)
	}

	return &simAdapter{
		Card:  sim.NewWithImage(image),
		image: image,
		file:  cfg.Device,
	}, nil
}

//
func (s *simAdapter) Close() error {
	if s.file == "" {
		return nil
	}
	log.WithField("file", s.file).Debug("saving card image")
	return os.WriteFile(s.file, s.image, 0644)
}
