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
	"fmt"
	"io"

	"github.com/xelalexv/sdspi/pkg/sd/raw"
)

// Bit offsets and widths of register fields, MSB first. The trailing
// comment gives the bit range in register numbering, 0 being the LSB.
var csdIndex = map[string][2]int{
	"CSD":                {0, 2},   // [127:126]
	"TAAC":               {8, 8},   // [119:112]
	"NSAC":               {16, 8},  // [111:104]
	"TRAN_SPEED":         {24, 8},  // [103:96]
	"CCC":                {32, 12}, // [95:84]
	"READ_BL_LEN":        {44, 4},  // [83:80]
	"READ_BL_PARTIAL":    {48, 1},  // [79]
	"WRITE_BLK_MISALIGN": {49, 1},  // [78]
	"READ_BLK_MISALIGN":  {50, 1},  // [77]
	"DSR_IMP":            {51, 1},  // [76]
	"C_SIZE_V1":          {54, 12}, // [73:62]
	"VDD_R_CURR_MIN":     {66, 3},  // [61:59]
	"VDD_R_CURR_MAX":     {69, 3},  // [58:56]
	"VDD_W_CURR_MIN":     {72, 3},  // [55:53]
	"VDD_W_CURR_MAX":     {75, 3},  // [52:50]
	"C_SIZE_MULT":        {78, 3},  // [49:47]
	"C_SIZE_V2":          {58, 22}, // [69:48]
	"ERASE_BLK_EN":       {81, 1},  // [46]
	"SECTOR_SIZE":        {82, 7},  // [45:39]
	"WP_GRP_SIZE":        {89, 7},  // [38:32]
	"WP_GRP_ENABLE":      {96, 1},  // [31]
	"R2W_FACTOR":         {99, 3},  // [28:26]
	"WRITE_BL_LEN":       {102, 4}, // [25:22]
	"WRITE_BL_PARTIAL":   {106, 1}, // [21]
	"FILE_FORMAT_GRP":    {112, 1}, // [15]
	"COPY":               {113, 1}, // [14]
	"PERM_WRITE_PROTECT": {114, 1}, // [13]
	"TMP_WRITE_PROTECT":  {115, 1}, // [12]
	"FILE_FORMAT":        {116, 2}, // [11:10]
	"CRC":                {120, 7}, // [7:1]
}

//
var cidIndex = map[string][2]int{
	"MID": {0, 8},    // [127:120]
	"OID": {8, 16},   // [119:104]
	"PNM": {24, 40},  // [103:64]
	"PRV": {64, 8},   // [63:56]
	"PSN": {72, 32},  // [55:24]
	"MDT": {108, 12}, // [19:8]
	"CRC": {120, 7},  // [7:1]
}

// OCR fields, relative to the 32 bit register following R1 in R3
var ocrIndex = map[string][2]int{
	"BUSY":  {0, 1},  // [31]
	"CCS":   {1, 1},  // [30]
	"UHSII": {2, 1},  // [29]
	"S18A":  {7, 1},  // [24]
	"V3536": {8, 1},  // [23]
	"V3435": {9, 1},  // [22]
	"V3334": {10, 1}, // [21]
	"V3233": {11, 1}, // [20]
	"V3132": {12, 1}, // [19]
	"V3031": {13, 1}, // [18]
	"V2930": {14, 1}, // [17]
	"V2829": {15, 1}, // [16]
	"V2728": {16, 1}, // [15]
}

//
var sdStatusIndex = map[string][2]int{
	"DAT_BUS_WIDTH":          {0, 2},    // [511:510]
	"SECURED_MODE":           {2, 1},    // [509]
	"SD_CARD_TYPE":           {16, 16},  // [495:480]
	"SIZE_OF_PROTECTED_AREA": {32, 32},  // [479:448]
	"SPEED_CLASS":            {64, 8},   // [447:440]
	"PERFORMANCE_MOVE":       {72, 8},   // [439:432]
	"AU_SIZE":                {80, 4},   // [431:428]
	"ERASE_SIZE":             {88, 16},  // [423:408]
	"ERASE_TIMEOUT":          {104, 6},  // [407:402]
	"ERASE_OFFSET":           {110, 2},  // [401:400]
	"UHS_SPEED_GRADE":        {112, 4},  // [399:396]
	"UHS_AU_SIZE":            {116, 4},  // [395:392]
	"VIDEO_SPEED_CLASS":      {120, 8},  // [391:384]
	"VSC_AU_SIZE":            {134, 10}, // [377:368]
	"SUS_ADDR":               {144, 22}, // [367:346]
	"APP_PERF_CLASS":         {172, 4},  // [339:336]
	"PERFORMANCE_ENHANCE":    {176, 8},  // [335:328]
	"DISCARD_SUPPORT":        {198, 1},  // [313]
	"FULE_SUPPORT":           {199, 1},  // [312]
}

// CSD is the decoded card specific data register.
type CSD struct {
	Raw []byte `json:"-"`
	//
	Version          uint32 `json:"version"`
	TAAC             uint32 `json:"taac"`
	NSAC             uint32 `json:"nsac"`
	TranSpeed        uint32 `json:"tranSpeed"`
	CCC              uint32 `json:"ccc"`
	ReadBlLen        uint32 `json:"readBlLen"`
	ReadBlPartial    bool   `json:"readBlPartial"`
	WriteBlkMisalign bool   `json:"writeBlkMisalign"`
	ReadBlkMisalign  bool   `json:"readBlkMisalign"`
	DSRImp           bool   `json:"dsrImp"`
	CSize            uint32 `json:"cSize"`
	VddRCurrMin      uint32 `json:"vddRCurrMin"`
	VddRCurrMax      uint32 `json:"vddRCurrMax"`
	VddWCurrMin      uint32 `json:"vddWCurrMin"`
	VddWCurrMax      uint32 `json:"vddWCurrMax"`
	CSizeMult        uint32 `json:"cSizeMult"`
	EraseBlkEn       bool   `json:"eraseBlkEn"`
	SectorSize       uint32 `json:"sectorSize"`
	WPGrpSize        uint32 `json:"wpGrpSize"`
	WPGrpEnable      bool   `json:"wpGrpEnable"`
	R2WFactor        uint32 `json:"r2wFactor"`
	WriteBlLen       uint32 `json:"writeBlLen"`
	WriteBlPartial   bool   `json:"writeBlPartial"`
	FileFormatGrp    bool   `json:"fileFormatGrp"`
	Copy             bool   `json:"copy"`
	PermWriteProtect bool   `json:"permWriteProtect"`
	TmpWriteProtect  bool   `json:"tmpWriteProtect"`
	FileFormat       uint32 `json:"fileFormat"`
	CRC              uint32 `json:"crc"`
}

/*
	DecodeCSD decodes a 16 byte CSD register. The layout is selected by the
	CSD structure field: version 1.0 for standard capacity and version 2.0
	for high and extended capacity cards. Fields not present in a layout
	are zero.
*/
func DecodeCSD(data []byte) *CSD {

	b := raw.NewBits(data[:RegisterSize], csdIndex)

	ret := &CSD{
		Raw:              b.Bytes(),
		Version:          b.Get("CSD"),
		TAAC:             b.Get("TAAC"),
		NSAC:             b.Get("NSAC"),
		TranSpeed:        b.Get("TRAN_SPEED"),
		CCC:              b.Get("CCC"),
		ReadBlLen:        b.Get("READ_BL_LEN"),
		ReadBlPartial:    b.Get("READ_BL_PARTIAL") == 1,
		WriteBlkMisalign: b.Get("WRITE_BLK_MISALIGN") == 1,
		ReadBlkMisalign:  b.Get("READ_BLK_MISALIGN") == 1,
		DSRImp:           b.Get("DSR_IMP") == 1,
		EraseBlkEn:       b.Get("ERASE_BLK_EN") == 1,
		SectorSize:       b.Get("SECTOR_SIZE"),
		WPGrpSize:        b.Get("WP_GRP_SIZE"),
		WPGrpEnable:      b.Get("WP_GRP_ENABLE") == 1,
		R2WFactor:        b.Get("R2W_FACTOR"),
		WriteBlLen:       b.Get("WRITE_BL_LEN"),
		WriteBlPartial:   b.Get("WRITE_BL_PARTIAL") == 1,
		FileFormatGrp:    b.Get("FILE_FORMAT_GRP") == 1,
		Copy:             b.Get("COPY") == 1,
		PermWriteProtect: b.Get("PERM_WRITE_PROTECT") == 1,
		TmpWriteProtect:  b.Get("TMP_WRITE_PROTECT") == 1,
		FileFormat:       b.Get("FILE_FORMAT"),
		CRC:              b.Get("CRC"),
	}

	switch ret.Version {
	case 0:
		ret.CSize = b.Get("C_SIZE_V1")
		ret.VddRCurrMin = b.Get("VDD_R_CURR_MIN")
		ret.VddRCurrMax = b.Get("VDD_R_CURR_MAX")
		ret.VddWCurrMin = b.Get("VDD_W_CURR_MIN")
		ret.VddWCurrMax = b.Get("VDD_W_CURR_MAX")
		ret.CSizeMult = b.Get("C_SIZE_MULT")
	case 1:
		ret.CSize = b.Get("C_SIZE_V2")
	}

	return ret
}

// Sectors returns the card capacity in 512 byte sectors.
func (c *CSD) Sectors() uint32 {
	switch c.Version {
	case 0:
		// (C_SIZE+1) * 2^(C_SIZE_MULT+2) blocks of 2^READ_BL_LEN bytes
		shift := c.CSizeMult + 2 + c.ReadBlLen
		if shift < 9 {
			return (c.CSize + 1) << shift >> 9
		}
		return (c.CSize + 1) << (shift - 9)
	case 1:
		return (c.CSize + 1) * 1024
	}
	return 0
}

//
func (c *CSD) Emit(w io.Writer) {
	fmt.Fprintf(w, "CSD: % X\n", c.Raw)
	fmt.Fprintf(w, "  CSD_STRUCTURE:      %d\n", c.Version)
	fmt.Fprintf(w, "  TAAC:               0x%02X\n", c.TAAC)
	fmt.Fprintf(w, "  NSAC:               %d\n", c.NSAC)
	fmt.Fprintf(w, "  TRAN_SPEED:         0x%02X\n", c.TranSpeed)
	fmt.Fprintf(w, "  CCC:                0x%03X\n", c.CCC)
	fmt.Fprintf(w, "  READ_BL_LEN:        %d\n", c.ReadBlLen)
	fmt.Fprintf(w, "  READ_BL_PARTIAL:    %v\n", c.ReadBlPartial)
	fmt.Fprintf(w, "  WRITE_BLK_MISALIGN: %v\n", c.WriteBlkMisalign)
	fmt.Fprintf(w, "  READ_BLK_MISALIGN:  %v\n", c.ReadBlkMisalign)
	fmt.Fprintf(w, "  DSR_IMP:            %v\n", c.DSRImp)
	fmt.Fprintf(w, "  C_SIZE:             %d\n", c.CSize)
	if c.Version == 0 {
		fmt.Fprintf(w, "  VDD_R_CURR_MIN:     %d\n", c.VddRCurrMin)
		fmt.Fprintf(w, "  VDD_R_CURR_MAX:     %d\n", c.VddRCurrMax)
		fmt.Fprintf(w, "  VDD_W_CURR_MIN:     %d\n", c.VddWCurrMin)
		fmt.Fprintf(w, "  VDD_W_CURR_MAX:     %d\n", c.VddWCurrMax)
		fmt.Fprintf(w, "  C_SIZE_MULT:        %d\n", c.CSizeMult)
	}
	fmt.Fprintf(w, "  ERASE_BLK_EN:       %v\n", c.EraseBlkEn)
	fmt.Fprintf(w, "  SECTOR_SIZE:        %d\n", c.SectorSize)
	fmt.Fprintf(w, "  WP_GRP_SIZE:        %d\n", c.WPGrpSize)
	fmt.Fprintf(w, "  WP_GRP_ENABLE:      %v\n", c.WPGrpEnable)
	fmt.Fprintf(w, "  R2W_FACTOR:         %d\n", c.R2WFactor)
	fmt.Fprintf(w, "  WRITE_BL_LEN:       %d\n", c.WriteBlLen)
	fmt.Fprintf(w, "  WRITE_BL_PARTIAL:   %v\n", c.WriteBlPartial)
	fmt.Fprintf(w, "  FILE_FORMAT_GRP:    %v\n", c.FileFormatGrp)
	fmt.Fprintf(w, "  COPY:               %v\n", c.Copy)
	fmt.Fprintf(w, "  PERM_WRITE_PROTECT: %v\n", c.PermWriteProtect)
	fmt.Fprintf(w, "  TMP_WRITE_PROTECT:  %v\n", c.TmpWriteProtect)
	fmt.Fprintf(w, "  FILE_FORMAT:        %d\n", c.FileFormat)
	fmt.Fprintf(w, "  CRC:                0x%02X\n", c.CRC)
	fmt.Fprintf(w, "  capacity:           %d sectors\n", c.Sectors())
}

// CID is the decoded card identification register.
type CID struct {
	Raw []byte `json:"-"`
	//
	ManufacturerID uint32 `json:"manufacturerID"`
	OEMID          string `json:"oemID"`
	ProductName    string `json:"productName"`
	Revision       uint32 `json:"revision"`
	SerialNumber   uint32 `json:"serialNumber"`
	ManufactureRaw uint32 `json:"manufactureDate"`
	CRC            uint32 `json:"crc"`
}

// DecodeCID decodes a 16 byte CID register.
func DecodeCID(data []byte) *CID {

	b := raw.NewBits(data[:RegisterSize], cidIndex)
	oid := b.Get("OID")

	return &CID{
		Raw:            b.Bytes(),
		ManufacturerID: b.Get("MID"),
		OEMID:          string([]byte{byte(oid >> 8), byte(oid)}),
		ProductName:    b.GetString("PNM"),
		Revision:       b.Get("PRV"),
		SerialNumber:   b.Get("PSN"),
		ManufactureRaw: b.Get("MDT"),
		CRC:            b.Get("CRC"),
	}
}

// ManufactureDate returns year and month of manufacture.
func (c *CID) ManufactureDate() (year, month int) {
	return 2000 + int(c.ManufactureRaw>>4), int(c.ManufactureRaw & 0x0F)
}

// RevisionString returns the product revision as n.m.
func (c *CID) RevisionString() string {
	return fmt.Sprintf("%d.%d", c.Revision>>4, c.Revision&0x0F)
}

//
func (c *CID) Emit(w io.Writer) {
	year, month := c.ManufactureDate()
	fmt.Fprintf(w, "CID: % X\n", c.Raw)
	fmt.Fprintf(w, "  MID: 0x%02X\n", c.ManufacturerID)
	fmt.Fprintf(w, "  OID: %q\n", c.OEMID)
	fmt.Fprintf(w, "  PNM: %q\n", c.ProductName)
	fmt.Fprintf(w, "  PRV: %s\n", c.RevisionString())
	fmt.Fprintf(w, "  PSN: 0x%08X\n", c.SerialNumber)
	fmt.Fprintf(w, "  MDT: %04d-%02d\n", year, month)
	fmt.Fprintf(w, "  CRC: 0x%02X\n", c.CRC)
}

// OCR is the decoded operating conditions register.
type OCR struct {
	Raw uint32 `json:"raw"`
	// power up procedure finished
	PowerUp bool `json:"powerUp"`
	// card capacity status, only valid after power up finished
	CCS   bool `json:"ccs"`
	UHSII bool `json:"uhsII"`
	S18A  bool `json:"s18a"`
	// supported voltage windows, index 0 is 2.7-2.8V, index 8 is 3.5-3.6V
	Voltages [9]bool `json:"voltages"`
}

// DecodeOCR decodes a 5 byte R3 response, consisting of R1 and the OCR.
func DecodeOCR(response []byte) *OCR {

	b := raw.NewBits(response[1:OCRResponseLen], ocrIndex)

	ret := &OCR{
		Raw:     b.Uint(0, 32),
		PowerUp: b.Get("BUSY") == 1,
		CCS:     b.Get("CCS") == 1,
		UHSII:   b.Get("UHSII") == 1,
		S18A:    b.Get("S18A") == 1,
	}

	for ix, name := range []string{"V2728", "V2829", "V2930", "V3031",
		"V3132", "V3233", "V3334", "V3435", "V3536"} {
		ret.Voltages[ix] = b.Get(name) == 1
	}

	return ret
}

//
func (o *OCR) Emit(w io.Writer) {
	fmt.Fprintf(w, "OCR: 0x%08X\n", o.Raw)
	fmt.Fprintf(w, "  power up done: %v\n", o.PowerUp)
	fmt.Fprintf(w, "  CCS:           %v\n", o.CCS)
	fmt.Fprintf(w, "  UHS-II:        %v\n", o.UHSII)
	fmt.Fprintf(w, "  S18A:          %v\n", o.S18A)
	fmt.Fprint(w, "  voltages:     ")
	for ix, v := range o.Voltages {
		if v {
			fmt.Fprintf(w, " %d.%d-%d.%d", (27+ix)/10, (27+ix)%10,
				(28+ix)/10, (28+ix)%10)
		}
	}
	fmt.Fprintln(w)
}

// SDStatus is the decoded SD status returned by ACMD13.
type SDStatus struct {
	Raw []byte `json:"-"`
	//
	DatBusWidth         uint32 `json:"datBusWidth"`
	SecuredMode         bool   `json:"securedMode"`
	CardType            uint32 `json:"cardType"`
	SizeOfProtectedArea uint32 `json:"sizeOfProtectedArea"`
	SpeedClass          uint32 `json:"speedClass"`
	PerformanceMove     uint32 `json:"performanceMove"`
	AUSize              uint32 `json:"auSize"`
	EraseSize           uint32 `json:"eraseSize"`
	EraseTimeout        uint32 `json:"eraseTimeout"`
	EraseOffset         uint32 `json:"eraseOffset"`
	UHSSpeedGrade       uint32 `json:"uhsSpeedGrade"`
	UHSAUSize           uint32 `json:"uhsAUSize"`
	VideoSpeedClass     uint32 `json:"videoSpeedClass"`
	VSCAUSize           uint32 `json:"vscAUSize"`
	SusAddr             uint32 `json:"susAddr"`
	AppPerfClass        uint32 `json:"appPerfClass"`
	PerformanceEnhance  uint32 `json:"performanceEnhance"`
	DiscardSupport      bool   `json:"discardSupport"`
	FULESupport         bool   `json:"fuleSupport"`
}

// DecodeSDStatus decodes the 64 byte SD status block.
func DecodeSDStatus(data []byte) *SDStatus {

	b := raw.NewBits(data[:SDStatusSize], sdStatusIndex)

	return &SDStatus{
		Raw:                 b.Bytes(),
		DatBusWidth:         b.Get("DAT_BUS_WIDTH"),
		SecuredMode:         b.Get("SECURED_MODE") == 1,
		CardType:            b.Get("SD_CARD_TYPE"),
		SizeOfProtectedArea: b.Get("SIZE_OF_PROTECTED_AREA"),
		SpeedClass:          b.Get("SPEED_CLASS"),
		PerformanceMove:     b.Get("PERFORMANCE_MOVE"),
		AUSize:              b.Get("AU_SIZE"),
		EraseSize:           b.Get("ERASE_SIZE"),
		EraseTimeout:        b.Get("ERASE_TIMEOUT"),
		EraseOffset:         b.Get("ERASE_OFFSET"),
		UHSSpeedGrade:       b.Get("UHS_SPEED_GRADE"),
		UHSAUSize:           b.Get("UHS_AU_SIZE"),
		VideoSpeedClass:     b.Get("VIDEO_SPEED_CLASS"),
		VSCAUSize:           b.Get("VSC_AU_SIZE"),
		SusAddr:             b.Get("SUS_ADDR"),
		AppPerfClass:        b.Get("APP_PERF_CLASS"),
		PerformanceEnhance:  b.Get("PERFORMANCE_ENHANCE"),
		DiscardSupport:      b.Get("DISCARD_SUPPORT") == 1,
		FULESupport:         b.Get("FULE_SUPPORT") == 1,
	}
}

//
func (s *SDStatus) Emit(w io.Writer) {
	fmt.Fprintf(w, "SD status:\n")
	fmt.Fprintf(w, "  DAT_BUS_WIDTH:          %d\n", s.DatBusWidth)
	fmt.Fprintf(w, "  SECURED_MODE:           %v\n", s.SecuredMode)
	fmt.Fprintf(w, "  SD_CARD_TYPE:           0x%04X\n", s.CardType)
	fmt.Fprintf(w, "  SIZE_OF_PROTECTED_AREA: %d\n", s.SizeOfProtectedArea)
	fmt.Fprintf(w, "  SPEED_CLASS:            %d\n", s.SpeedClass)
	fmt.Fprintf(w, "  PERFORMANCE_MOVE:       %d\n", s.PerformanceMove)
	fmt.Fprintf(w, "  AU_SIZE:                %d\n", s.AUSize)
	fmt.Fprintf(w, "  ERASE_SIZE:             %d\n", s.EraseSize)
	fmt.Fprintf(w, "  ERASE_TIMEOUT:          %d\n", s.EraseTimeout)
	fmt.Fprintf(w, "  ERASE_OFFSET:           %d\n", s.EraseOffset)
	fmt.Fprintf(w, "  UHS_SPEED_GRADE:        %d\n", s.UHSSpeedGrade)
	fmt.Fprintf(w, "  UHS_AU_SIZE:            %d\n", s.UHSAUSize)
	fmt.Fprintf(w, "  VIDEO_SPEED_CLASS:      %d\n", s.VideoSpeedClass)
	fmt.Fprintf(w, "  VSC_AU_SIZE:            %d\n", s.VSCAUSize)
	fmt.Fprintf(w, "  SUS_ADDR:               %d\n", s.SusAddr)
	fmt.Fprintf(w, "  APP_PERF_CLASS:         %d\n", s.AppPerfClass)
	fmt.Fprintf(w, "  PERFORMANCE_ENHANCE:    %d\n", s.PerformanceEnhance)
	fmt.Fprintf(w, "  DISCARD_SUPPORT:        %v\n", s.DiscardSupport)
	fmt.Fprintf(w, "  FULE_SUPPORT:           %v\n", s.FULESupport)
}

// ReadCSD reads and decodes the CSD register.
func (c *Card) ReadCSD() (*CSD, error) {
	buf := make([]byte, RegisterSize)
	if _, _, err := c.CommandDataBlock(
		NewCommand(CmdSendCSD, 0).WithCRC(DummyCRC), buf); err != nil {
		return nil, fmt.Errorf("error reading CSD: %w", err)
	}
	return DecodeCSD(buf), nil
}

// ReadCID reads and decodes the CID register.
func (c *Card) ReadCID() (*CID, error) {
	buf := make([]byte, RegisterSize)
	if _, _, err := c.CommandDataBlock(
		NewCommand(CmdSendCID, 0).WithCRC(DummyCRC), buf); err != nil {
		return nil, fmt.Errorf("error reading CID: %w", err)
	}
	return DecodeCID(buf), nil
}

/*
	ReadOCR reads and decodes the OCR register. The capacity status is only
	valid once the card has finished initialisation.
*/
func (c *Card) ReadOCR() (*OCR, error) {
	response := make([]byte, OCRResponseLen)
	// only idle bit may be set
	if _, err := c.SendCommandRetry(NewCommand(CmdReadOCR, 0).WithCRC(DummyCRC),
		response, ^byte(R1IdleState), R1Ready); err != nil {
		return nil, fmt.Errorf("error reading OCR: %w", err)
	}
	return DecodeOCR(response), nil
}

// ReadSDStatus reads and decodes the SD status through ACMD13.
func (c *Card) ReadSDStatus() (*SDStatus, error) {

	if err := c.bus.Select(true); err != nil {
		return nil, busError("ACMD13", err)
	}
	defer c.bus.Select(false)

	if _, err := c.appCommand(AcmdSDStatus, 0, 0xFF); err != nil {
		return nil, fmt.Errorf("error reading SD status: %w", err)
	}

	// the second byte of the R2 response is skipped while waiting for the
	// start token
	buf := make([]byte, SDStatusSize)
	if _, err := c.readBlock(buf); err != nil {
		return nil, fmt.Errorf("error reading SD status: %w", err)
	}

	return DecodeSDStatus(buf), nil
}
