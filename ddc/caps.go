package ddc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mklimuk/ddcproxy"
)

// FragmentSize is the largest capability fragment a monitor returns.
const FragmentSize = 32

// CapabilityRequest is the payload asking for the fragment at offset.
func CapabilityRequest(offset uint16) []byte {
	return []byte{ddcproxy.CmdCapabilityRequest, byte(offset >> 8), byte(offset)}
}

// CapabilityReply is the payload answering a capability request.
func CapabilityReply(offset uint16, data []byte) []byte {
	buf := make([]byte, 0, len(data)+3)
	buf = append(buf, ddcproxy.CmdCapabilityReply, byte(offset>>8), byte(offset))
	return append(buf, data...)
}

// ParseCapabilityRequest returns the requested offset.
func ParseCapabilityRequest(payload []byte) (uint16, bool) {
	if len(payload) != 3 || payload[0] != ddcproxy.CmdCapabilityRequest {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload[1:3]), true
}

func ParseCapabilityReply(payload []byte) (uint16, []byte, error) {
	if len(payload) < 3 || payload[0] != ddcproxy.CmdCapabilityReply {
		return 0, nil, fmt.Errorf("%w: not a capability reply: [% x]", ddcproxy.ErrReadFailed, payload)
	}
	return binary.BigEndian.Uint16(payload[1:3]), payload[3:], nil
}

// Capabilities caches capability fragments by offset. An empty fragment
// marks the end of the string.
type Capabilities struct {
	fragments map[uint16][]byte
}

func NewCapabilities() *Capabilities {
	return &Capabilities{fragments: make(map[uint16][]byte)}
}

func (c *Capabilities) Put(offset uint16, data []byte) {
	c.fragments[offset] = bytes.Clone(data)
	if c.fragments[offset] == nil {
		c.fragments[offset] = []byte{}
	}
}

func (c *Capabilities) Get(offset uint16) ([]byte, bool) {
	data, ok := c.fragments[offset]
	return data, ok
}

// Reply returns the cached reply payload for a request at offset.
func (c *Capabilities) Reply(offset uint16) ([]byte, bool) {
	data, ok := c.fragments[offset]
	if !ok {
		return nil, false
	}
	return CapabilityReply(offset, data), true
}

func (c *Capabilities) Len() int {
	return len(c.fragments)
}

func (c *Capabilities) Offsets() []uint16 {
	offsets := make([]uint16, 0, len(c.fragments))
	for off := range c.fragments {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// Complete reports whether fragments chain from offset 0 to the end marker.
func (c *Capabilities) Complete() bool {
	_, complete := c.assemble()
	return complete
}

// String assembles the fragments chained from offset 0. Trailing NULs some
// monitors send are dropped.
func (c *Capabilities) String() string {
	s, _ := c.assemble()
	return s
}

func (c *Capabilities) assemble() (string, bool) {
	var buf bytes.Buffer
	var off uint16
	complete := false
	for range c.fragments {
		data, ok := c.fragments[off]
		if !ok {
			break
		}
		if len(data) == 0 {
			complete = true
			break
		}
		buf.Write(data)
		off += uint16(len(data))
	}
	return string(bytes.TrimRight(buf.Bytes(), "\x00")), complete
}
