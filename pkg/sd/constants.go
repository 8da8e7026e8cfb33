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

// command indices
const (
	CmdGoIdleState        = 0
	CmdSendIfCond         = 8
	CmdSendCSD            = 9
	CmdSendCID            = 10
	CmdStopTransmission   = 12
	CmdSendStatus         = 13
	CmdSetBlockLen        = 16
	CmdReadSingleBlock    = 17
	CmdReadMultipleBlock  = 18
	CmdWriteBlock         = 24
	CmdWriteMultipleBlock = 25
	CmdEraseWrBlkStart    = 32
	CmdEraseWrBlkEnd      = 33
	CmdErase              = 38
	CmdAppCmd             = 55
	CmdReadOCR            = 58
	CmdCRCOnOff           = 59

	// application commands, must be preceded by CmdAppCmd
	AcmdSDStatus           = 13
	AcmdSetWrBlkEraseCount = 23
	AcmdSendOpCond         = 41
)

// R1 response bits
const (
	R1Ready         = 0x00
	R1IdleState     = 0x01
	R1EraseReset    = 0x02
	R1IllegalCmd    = 0x04
	R1CRCError      = 0x08
	R1EraseSeqError = 0x10
	R1AddressError  = 0x20
	R1ParamError    = 0x40
	// set while the card has not answered yet
	R1Invalid = 0x80
)

// tokens
const (
	TokenStartBlock      = 0xFE
	TokenStartMultiBlock = 0xFC
	TokenStopMultiBlock  = 0xFD
	TokenIdle            = 0xFF

	DataResponseMask     = 0x1F
	DataResponseAccepted = 0x05
	DataResponseCRCError = 0x0B
	DataResponseWriteErr = 0x0D
)

const (
	SectorSize     = 512
	RegisterSize   = 16
	SDStatusSize   = 64
	OCRResponseLen = 5

	// dummy CRC for commands issued while CRC checking is off; LSB must be 1
	DummyCRC = 0x55
	// CRC of CMD55 with zero argument
	AppCmdCRC = 0x65

	// CMD8 argument: 2.7-3.6V, check pattern 0xAA
	IfCondArg = 0x000001AA
	// ACMD41 argument: host supports high capacity
	OpCondHCS = 0x40000000
)
