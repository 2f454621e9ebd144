package ddc

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// DescriptorOffset is the first of the four 18 byte descriptors.
	DescriptorOffset   = 54
	DescriptorSize     = 18
	DescriptorTextSize = 13
)

// Display descriptor tags.
const (
	descriptorSerial byte = 0xFF
	descriptorText   byte = 0xFE
	descriptorName   byte = 0xFC
)

// NameTag marks a monitor name descriptor.
var NameTag = [4]byte{0x00, 0x00, descriptorName, 0x00}

// Info is the decoded identity part of a base EDID block.
type Info struct {
	Manufacturer string `yaml:"manufacturer"`
	ProductCode  uint16 `yaml:"product_code"`
	Serial       uint32 `yaml:"serial"`
	Week         int    `yaml:"week"`
	Year         int    `yaml:"year"`
	Version      string `yaml:"version"`
	Digital      bool   `yaml:"digital"`
	WidthCM      int    `yaml:"width_cm"`
	HeightCM     int    `yaml:"height_cm"`
	Name         string `yaml:"name,omitempty"`
	SerialText   string `yaml:"serial_text,omitempty"`
	Text         string `yaml:"text,omitempty"`
	Extensions   int    `yaml:"extensions"`
	HeaderOK     bool   `yaml:"header_ok"`
	ChecksumOK   bool   `yaml:"checksum_ok"`
}

func (e EDID) Info() Info {
	id := binary.BigEndian.Uint16(e[8:10])
	info := Info{
		Manufacturer: string([]byte{
			byte(id>>10&0x1F) + 'A' - 1,
			byte(id>>5&0x1F) + 'A' - 1,
			byte(id&0x1F) + 'A' - 1,
		}),
		ProductCode: binary.LittleEndian.Uint16(e[10:12]),
		Serial:      binary.LittleEndian.Uint32(e[12:16]),
		Week:        int(e[16]),
		Year:        1990 + int(e[17]),
		Version:     fmt.Sprintf("%d.%d", e[18], e[19]),
		Digital:     e[20]&0x80 != 0,
		WidthCM:     int(e[21]),
		HeightCM:    int(e[22]),
		Extensions:  int(e[126]),
		HeaderOK:    e.HeaderOK(),
		ChecksumOK:  e.ChecksumOK(),
	}
	for off := DescriptorOffset; off+DescriptorSize <= EDIDSize-1; off += DescriptorSize {
		d := e[off : off+DescriptorSize]
		if d[0] != 0 || d[1] != 0 {
			// detailed timing
			continue
		}
		text := descriptorString(d[5:])
		switch d[3] {
		case descriptorName:
			info.Name = text
		case descriptorSerial:
			info.SerialText = text
		case descriptorText:
			info.Text = text
		}
	}
	return info
}

func descriptorString(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, " \x00")
}
