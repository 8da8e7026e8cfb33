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
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/sd"
)

//
type state int

const (
	stateIdle state = iota
	stateWriteToken
	stateWriteData
	stateStreamToken
	stateStreamData
	stateReadStream
)

//
func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateWriteToken:
		return "write-token"
	case stateWriteData:
		return "write-data"
	case stateStreamToken:
		return "stream-token"
	case stateStreamData:
		return "stream-data"
	case stateReadStream:
		return "read-stream"
	}
	return "unknown"
}

/*
	Faults configures deviations from a well behaved card. The zero value
	gives a card that answers every command after one byte, sends the start
	token after two bytes, and is busy for a few bytes after writes.
*/
type Faults struct {
	// R1 to answer with instead of processing the command, per command index
	Reject map[byte]byte
	// card does not drive the bus at all
	NoResponse bool
	// card does not know CMD8, like version 1.x cards
	Version1 bool
	// data blocks are sent with a wrong CRC
	CorruptCRC bool
	// write data response signals a write error
	RejectWrites bool
	// additional idle bytes before a command response
	ResponseDelay int
	// additional idle bytes before a start block token
	TokenDelay int
	// number of ACMD41 answered with idle state before the card is ready
	InitPolls int
	// busy bytes after each written block and after erase
	WriteBusy int
	EraseBusy int
}

/*
	Card is a simulated SD card in SPI mode, backed by an in-memory image. It
	implements sd.Bus, and processes bytes as a real card would while
	selected: command frames, responses, data tokens, and busy signalling.
	Only behaviour relevant to this driver is modeled.
*/
type Card struct {
	mutex  sync.Mutex
	faults Faults

	image        []byte
	sectors      uint32
	highCapacity bool
	product      string
	serial       uint32

	selected bool
	state    state
	out      []byte
	busy     int

	frame    []byte
	idle     bool
	ready    bool
	appCmd   bool
	crcOn    bool
	initLeft int

	sector     uint32
	data       []byte
	eraseStart int64
	eraseEnd   int64
	preErase   uint32

	history []string
}

// New creates a high capacity card with the given number of sectors.
func New(sectors uint32) *Card {
	return NewWithImage(make([]byte, int(sectors)*sd.SectorSize))
}

/*
	NewWithImage creates a high capacity card on top of image, which is used
	directly and not copied. Its length is rounded down to a multiple of the
	sector size.
*/
func NewWithImage(image []byte) *Card {
	sectors := uint32(len(image) / sd.SectorSize)
	return &Card{
		image:        image[:int(sectors)*sd.SectorSize],
		sectors:      sectors,
		highCapacity: true,
		product:      "SIMSD",
		serial:       0x00C0FFEE,
		idle:         true,
		eraseStart:   -1,
		eraseEnd:     -1,
	}
}

// SetFaults replaces the fault configuration.
func (c *Card) SetFaults(f Faults) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.faults = f
}

// SetHighCapacity switches between sector and byte addressing.
func (c *Card) SetHighCapacity(hc bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.highCapacity = hc
}

//
func (c *Card) SetIdentity(product string, serial uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.product = product
	c.serial = serial
}

//
func (c *Card) Sectors() uint32 {
	return c.sectors
}

// Sector returns a copy of the contents of sector n.
func (c *Card) Sector(n uint32) []byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ret := make([]byte, sd.SectorSize)
	if n < c.sectors {
		copy(ret, c.image[int(n)*sd.SectorSize:])
	}
	return ret
}

// PreErase returns the block count of the last ACMD23.
func (c *Card) PreErase() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.preErase
}

/*
	History returns the commands received so far, as CMDn or ACMDn, and
	clears it.
*/
func (c *Card) History() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ret := c.history
	c.history = nil
	return ret
}

//
func (c *Card) Selected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.selected
}

// Select implements sd.Bus. Pending output is lost on deselect.
func (c *Card) Select(active bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.selected = active
	if !active {
		c.out = nil
		c.frame = nil
		// an unfinished transfer is abandoned
		c.state = stateIdle
	}
	return nil
}

// Exchange implements sd.Bus.
func (c *Card) Exchange(b byte) (byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.exchange(b), nil
}

// Write implements sd.Bus.
func (c *Card) Write(buf []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, b := range buf {
		c.exchange(b)
	}
	return nil
}

// exchange returns the byte prepared before b arrived, then processes b.
func (c *Card) exchange(b byte) byte {

	if !c.selected || c.faults.NoResponse {
		return sd.TokenIdle
	}

	if c.state == stateReadStream && len(c.out) == 0 {
		c.queueSector()
	}

	var ret byte = sd.TokenIdle
	if len(c.out) > 0 {
		ret = c.out[0]
		c.out = c.out[1:]
	} else if c.busy > 0 {
		c.busy--
		ret = 0x00
	}

	c.receive(b)
	return ret
}

//
func (c *Card) receive(b byte) {

	switch c.state {

	case stateWriteToken:
		if b == sd.TokenStartBlock {
			c.state = stateWriteData
			c.data = c.data[:0]
		}
		return

	case stateStreamToken:
		switch b {
		case sd.TokenStartMultiBlock:
			c.state = stateStreamData
			c.data = c.data[:0]
		case sd.TokenStopMultiBlock:
			c.state = stateIdle
			c.busy = c.faults.WriteBusy + 1
		}
		return

	case stateWriteData, stateStreamData:
		c.data = append(c.data, b)
		if len(c.data) == sd.SectorSize+2 {
			c.storeBlock()
		}
		return
	}

	// collecting a command frame
	if c.frame == nil {
		if b&0xC0 != 0x40 {
			return
		}
		c.frame = make([]byte, 0, 6)
	}

	c.frame = append(c.frame, b)
	if len(c.frame) == 6 {
		frame := c.frame
		c.frame = nil
		c.command(frame)
	}
}

//
func (c *Card) storeBlock() {

	stream := c.state == stateStreamData
	if stream {
		c.state = stateStreamToken
	} else {
		c.state = stateIdle
	}

	if c.faults.RejectWrites || c.sector >= c.sectors {
		c.out = append(c.out, 0xED) // write error
		return
	}

	copy(c.image[int(c.sector)*sd.SectorSize:], c.data[:sd.SectorSize])
	log.WithField("sector", c.sector).Trace("sim: block written")

	c.sector++
	c.out = append(c.out, 0xE5) // accepted
	c.busy = c.faults.WriteBusy + 2
}

//
func (c *Card) queueSector() {

	if c.sector >= c.sectors {
		c.out = append(c.out, sd.TokenIdle)
		return
	}

	from := int(c.sector) * sd.SectorSize
	c.queueBlock(c.image[from : from+sd.SectorSize])
	c.sector++
}

//
func (c *Card) queueBlock(block []byte) {

	for ix := 0; ix < c.faults.TokenDelay+2; ix++ {
		c.out = append(c.out, sd.TokenIdle)
	}
	c.out = append(c.out, sd.TokenStartBlock)
	c.out = append(c.out, block...)

	crc := sd.CRC16(0, block)
	if c.faults.CorruptCRC {
		crc ^= 0xFFFF
	}
	c.out = append(c.out, byte(crc>>8), byte(crc))
}

//
func (c *Card) respond(r ...byte) {
	for ix := 0; ix < c.faults.ResponseDelay+1; ix++ {
		c.out = append(c.out, sd.TokenIdle)
	}
	c.out = append(c.out, r...)
}

//
func (c *Card) r1() byte {
	if c.idle {
		return sd.R1IdleState
	}
	return sd.R1Ready
}

// sectorOf converts a command argument into a sector number.
func (c *Card) sectorOf(arg uint32) (uint32, bool) {
	if c.highCapacity {
		return arg, arg < c.sectors
	}
	if arg%sd.SectorSize != 0 {
		return 0, false
	}
	return arg / sd.SectorSize, arg/sd.SectorSize < c.sectors
}

//
func (c *Card) command(frame []byte) {

	cmd, err := sd.ParseFrame(frame)
	if err != nil {
		log.Debugf("sim: %v", err)
		return
	}

	app := c.appCmd
	c.appCmd = false

	name := fmt.Sprintf("CMD%d", cmd.Index)
	if app {
		name = "A" + name
	}
	c.history = append(c.history, name)

	log.WithFields(log.Fields{
		"command":  name,
		"argument": fmt.Sprintf("0x%08X", cmd.Argument()),
	}).Trace("sim: command")

	// a new command ends a multiple block read
	if c.state == stateReadStream {
		c.state = stateIdle
		c.out = nil
	}

	if (c.crcOn || cmd.Index == sd.CmdGoIdleState || cmd.Index == sd.CmdSendIfCond) &&
		!app && frame[5] != sd.CommandCRC(cmd.Index, frame[1], frame[2], frame[3], frame[4]) {
		c.respond(c.r1() | sd.R1CRCError)
		return
	}

	if r, ok := c.faults.Reject[cmd.Index]; ok && !app {
		c.respond(r)
		return
	}

	if app {
		c.appCommand(cmd)
		return
	}

	arg := cmd.Argument()

	switch cmd.Index {

	case sd.CmdGoIdleState:
		c.idle = true
		c.ready = false
		c.initLeft = c.faults.InitPolls
		c.crcOn = false
		c.respond(sd.R1IdleState)

	case sd.CmdSendIfCond:
		if c.faults.Version1 {
			c.respond(c.r1() | sd.R1IllegalCmd)
			return
		}
		c.respond(c.r1(), 0x00, 0x00, cmd.Arg[2]&0x0F, cmd.Arg[3])

	case sd.CmdSendCSD:
		c.respond(c.r1())
		c.queueBlock(buildCSD(c.sectors, c.highCapacity))

	case sd.CmdSendCID:
		c.respond(c.r1())
		c.queueBlock(buildCID(c.product, c.serial))

	case sd.CmdStopTransmission:
		c.out = append(c.out, sd.TokenIdle) // stuff byte
		c.respond(c.r1())
		c.busy = 1

	case sd.CmdSendStatus:
		c.respond(c.r1(), 0x00)

	case sd.CmdSetBlockLen:
		if arg != sd.SectorSize {
			c.respond(c.r1() | sd.R1ParamError)
			return
		}
		c.respond(c.r1())

	case sd.CmdReadSingleBlock, sd.CmdReadMultipleBlock:
		sector, ok := c.sectorOf(arg)
		if !ok || c.idle {
			c.respond(c.r1() | sd.R1AddressError)
			return
		}
		c.respond(c.r1())
		c.sector = sector
		if cmd.Index == sd.CmdReadSingleBlock {
			c.queueSector()
		} else {
			c.state = stateReadStream
		}

	case sd.CmdWriteBlock, sd.CmdWriteMultipleBlock:
		sector, ok := c.sectorOf(arg)
		if !ok || c.idle {
			c.respond(c.r1() | sd.R1AddressError)
			return
		}
		c.respond(c.r1())
		c.sector = sector
		c.data = make([]byte, 0, sd.SectorSize+2)
		if cmd.Index == sd.CmdWriteBlock {
			c.state = stateWriteToken
		} else {
			c.state = stateStreamToken
		}

	case sd.CmdEraseWrBlkStart, sd.CmdEraseWrBlkEnd:
		sector, ok := c.sectorOf(arg)
		if !ok {
			c.respond(c.r1() | sd.R1AddressError)
			return
		}
		if cmd.Index == sd.CmdEraseWrBlkStart {
			c.eraseStart, c.eraseEnd = int64(sector), -1
		} else if c.eraseStart < 0 {
			c.respond(c.r1() | sd.R1EraseSeqError)
			return
		} else {
			c.eraseEnd = int64(sector)
		}
		c.respond(c.r1())

	case sd.CmdErase:
		if c.eraseStart < 0 || c.eraseEnd < c.eraseStart {
			c.respond(c.r1() | sd.R1EraseSeqError)
			return
		}
		for ix := c.eraseStart * sd.SectorSize; ix < (c.eraseEnd+1)*sd.SectorSize; ix++ {
			c.image[ix] = 0xFF
		}
		c.eraseStart, c.eraseEnd = -1, -1
		c.respond(c.r1())
		c.busy = c.faults.EraseBusy + 4

	case sd.CmdAppCmd:
		c.appCmd = true
		c.respond(c.r1())

	case sd.CmdReadOCR:
		c.respond(append([]byte{c.r1()}, buildOCR(c.ready, c.highCapacity)...)...)

	case sd.CmdCRCOnOff:
		c.crcOn = arg&0x01 == 1
		c.respond(c.r1())

	default:
		c.respond(c.r1() | sd.R1IllegalCmd)
	}
}

//
func (c *Card) appCommand(cmd sd.Command) {

	switch cmd.Index {

	case sd.AcmdSendOpCond:
		if c.initLeft > 0 {
			c.initLeft--
		} else {
			c.idle = false
			c.ready = true
		}
		c.respond(c.r1())

	case sd.AcmdSetWrBlkEraseCount:
		c.preErase = cmd.Argument() & 0x7FFFFF
		c.respond(c.r1())

	case sd.AcmdSDStatus:
		c.respond(c.r1(), 0x00)
		c.queueBlock(buildStatus())

	default:
		c.respond(c.r1() | sd.R1IllegalCmd)
	}
}
