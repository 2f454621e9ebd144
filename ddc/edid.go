// Package ddc implements the DDC/CI codec: EDID records, DDC/CI frames with
// their checksums, capability string assembly and the master side client
// talking to a monitor.
package ddc

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/mklimuk/ddcproxy"
)

const EDIDSize = 128

// Header is the fixed start of every base EDID block.
var Header = [8]byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

// EDID is a base EDID block.
type EDID [EDIDSize]byte

// ParseEDID copies a 128 byte record. It does not validate it.
func ParseEDID(b []byte) (EDID, error) {
	var e EDID
	if len(b) != EDIDSize {
		return e, fmt.Errorf("%w: edid must be %d bytes, got %d", ddcproxy.ErrInvalidLength, EDIDSize, len(b))
	}
	copy(e[:], b)
	return e, nil
}

// ParseEDIDHex accepts hex dumps with arbitrary whitespace.
func ParseEDIDHex(s string) (EDID, error) {
	clean := bytes.Join(bytes.Fields([]byte(s)), nil)
	raw := make([]byte, hex.DecodedLen(len(clean)))
	if _, err := hex.Decode(raw, clean); err != nil {
		return EDID{}, fmt.Errorf("could not decode edid hex: %w", err)
	}
	return ParseEDID(raw)
}

func (e EDID) HeaderOK() bool {
	return bytes.Equal(e[:len(Header)], Header[:])
}

// Checksum returns the value byte 127 must hold for the block to sum to zero.
func (e EDID) Checksum() byte {
	var sum byte
	for _, b := range e[:EDIDSize-1] {
		sum += b
	}
	return -sum
}

func (e EDID) ChecksumOK() bool {
	return e.Checksum() == e[EDIDSize-1]
}

func (e EDID) Valid() bool {
	return e.HeaderOK() && e.ChecksumOK()
}

// FixChecksum rewrites byte 127.
func (e *EDID) FixChecksum() {
	e[EDIDSize-1] = e.Checksum()
}

func (e EDID) Hex() string {
	return hex.EncodeToString(e[:])
}

// Dump formats the block as 8 rows of 16 bytes.
func (e EDID) Dump() string {
	var buf bytes.Buffer
	for row := 0; row < EDIDSize; row += 16 {
		fmt.Fprintf(&buf, "%02x: % x\n", row, e[row:row+16])
	}
	return buf.String()
}

// findHeader returns the offset of the header in buf or -1.
func findHeader(buf []byte) int {
	return bytes.Index(buf, Header[:])
}

// Placeholder returns a plausible EDID with a deliberately wrong checksum.
// Hosts reject it and retry, which leaves time for the real read.
func Placeholder() EDID {
	var e EDID
	copy(e[:], Header[:])
	// manufacturer "DDC", product 0x0001, EDID 1.3, digital input
	e[8], e[9] = 0x10, 0x83
	e[10] = 0x01
	e[16], e[17] = 1, 26
	e[18], e[19] = 1, 3
	e[20] = 0x80
	e[21], e[22] = 52, 29
	e[23] = 120
	copy(e[54:], nameDescriptor(descriptorName, "placeholder"))
	for i := 72; i < 126; i += 18 {
		copy(e[i:], dummyDescriptor())
	}
	e.FixChecksum()
	e[EDIDSize-1]++
	return e
}

func dummyDescriptor() []byte {
	return []byte{0x00, 0x00, 0x00, 0x10, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
}

// nameDescriptor builds an 18 byte display descriptor holding text padded
// the way monitors do it: newline terminated, space filled.
func nameDescriptor(tag byte, text string) []byte {
	d := []byte{0x00, 0x00, 0x00, tag, 0x00}
	d = append(d, PadText(text)...)
	return d
}

// PadText formats a descriptor string: at most 13 bytes, terminated by a
// newline when shorter and padded with spaces.
func PadText(text string) []byte {
	out := bytes.Repeat([]byte{' '}, DescriptorTextSize)
	n := copy(out, text)
	if n < DescriptorTextSize {
		out[n] = '\n'
	}
	return out
}
