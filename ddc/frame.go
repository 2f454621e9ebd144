package ddc

import (
	"fmt"

	"github.com/mklimuk/ddcproxy"
)

const (
	// NullLength is the length byte of a null message.
	NullLength byte = 0x80

	MinReplyLength   = 3
	MaxReplyLength   = 35
	MinRequestLength = 1
	MaxRequestLength = 32

	// replySeed stands for the virtual host address and the fixed reply
	// source that precede every reply on the wire.
	replySeed = ddcproxy.AddrDDCCIRead ^ ddcproxy.AddrHost
)

// Frame is a DDC/CI message. The length byte and checksum are derived.
type Frame struct {
	Dest    byte
	Source  byte
	Payload []byte
}

// Request builds a host request toward the monitor.
func Request(payload ...byte) Frame {
	return Frame{Dest: ddcproxy.AddrDDCCIWrite, Source: ddcproxy.AddrHost, Payload: payload}
}

// Encode returns dest, source, length, payload and the send checksum.
func (f Frame) Encode() []byte {
	buf := make([]byte, 0, len(f.Payload)+4)
	buf = append(buf, f.Dest, f.Source, NullLength|byte(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return append(buf, SendChecksum(buf))
}

func (f Frame) String() string {
	return fmt.Sprintf("%02x->%02x [% x]", f.Source, f.Dest, f.Payload)
}

// SendChecksum is the XOR of every transmitted byte, destination address
// included.
func SendChecksum(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum ^= b
	}
	return sum
}

// ReplyChecksum computes the checksum of a received reply. buf holds the
// source byte, the length byte and the payload; the XOR covers the length
// byte and the payload on top of a seed of 0x6F^0x51.
func ReplyChecksum(buf []byte) byte {
	sum := replySeed
	if len(buf) < 2 {
		return sum
	}
	end := 2 + int(buf[1]&^NullLength)
	if end > len(buf) {
		end = len(buf)
	}
	for _, b := range buf[1:end] {
		sum ^= b
	}
	return sum
}

// ParseLength decodes the length byte of a reply. 0x80 is a null message.
func ParseLength(b byte) (n int, null bool, err error) {
	if b == NullLength {
		return 0, true, nil
	}
	n = int(b &^ NullLength)
	if b&NullLength == 0 || n < MinReplyLength || n > MaxReplyLength {
		return 0, false, fmt.Errorf("%w: length byte %#02x", ddcproxy.ErrInvalidLength, b)
	}
	return n, false, nil
}

// RequestLength decodes the length byte of a host request. Requests are
// shorter than replies, a VCP get carries only 2 bytes.
func RequestLength(b byte) (int, error) {
	n := int(b &^ NullLength)
	if b&NullLength == 0 || n < MinRequestLength || n > MaxRequestLength {
		return 0, fmt.Errorf("%w: request length byte %#02x", ddcproxy.ErrInvalidLength, b)
	}
	return n, nil
}

// DecodeRequest parses dest, source, length, payload and checksum as sent by
// a host.
func DecodeRequest(buf []byte) (Frame, error) {
	if len(buf) < 4 {
		return Frame{}, fmt.Errorf("%w: request of %d bytes", ddcproxy.ErrInvalidLength, len(buf))
	}
	n, err := RequestLength(buf[2])
	if err != nil {
		return Frame{}, err
	}
	if len(buf) != n+4 {
		return Frame{}, fmt.Errorf("%w: expected %d request bytes, got %d", ddcproxy.ErrInvalidLength, n+4, len(buf))
	}
	if sum := SendChecksum(buf[:n+3]); sum != buf[n+3] {
		return Frame{}, fmt.Errorf("%w: got %#02x, expected %#02x", ddcproxy.ErrInvalidChecksum, buf[n+3], sum)
	}
	payload := make([]byte, n)
	copy(payload, buf[3:3+n])
	return Frame{Dest: buf[0], Source: buf[1], Payload: payload}, nil
}

// EncodeReply returns the bytes a monitor sends after its read address:
// source, length, payload and the reply checksum. An empty payload yields
// the null message.
func EncodeReply(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+3)
	buf = append(buf, ddcproxy.AddrDDCCIWrite, NullLength|byte(len(payload)))
	buf = append(buf, payload...)
	return append(buf, ReplyChecksum(buf))
}

// DecodeReply parses the bytes following the read address.
func DecodeReply(buf []byte) ([]byte, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("%w: reply of %d bytes", ddcproxy.ErrInvalidLength, len(buf))
	}
	n, null, err := ParseLength(buf[1])
	if err != nil {
		return nil, err
	}
	if null {
		return nil, nil
	}
	if len(buf) < n+3 {
		return nil, fmt.Errorf("%w: expected %d reply bytes, got %d", ddcproxy.ErrInvalidLength, n+3, len(buf))
	}
	if sum := ReplyChecksum(buf); sum != buf[n+2] {
		return nil, fmt.Errorf("%w: got %#02x, expected %#02x", ddcproxy.ErrInvalidChecksum, buf[n+2], sum)
	}
	payload := make([]byte, n)
	copy(payload, buf[2:2+n])
	return payload, nil
}
