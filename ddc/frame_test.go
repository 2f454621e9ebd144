package ddc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/ddcproxy"
)

func TestSendChecksum(t *testing.T) {
	assert.Equal(t, byte(0x4F), SendChecksum([]byte{0x6E, 0x51, 0x83, 0xF3, 0x00, 0x00}))
	assert.Equal(t, []byte{0x6E, 0x51, 0x83, 0xF3, 0x00, 0x00, 0x4F}, Request(CapabilityRequest(0)...).Encode())
}

func TestReplyChecksum(t *testing.T) {
	// VCP reply for brightness: max 100, current 50
	reply := []byte{0x6E, 0x88, 0x02, 0x00, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32}
	assert.Equal(t, byte(0xF2), ReplyChecksum(reply))
	assert.Equal(t, append(reply, 0xF2), EncodeReply(reply[2:]))
	// null message
	assert.Equal(t, []byte{0x6E, 0x80, 0xBE}, EncodeReply(nil))
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		name    string
		b       byte
		n       int
		null    bool
		wantErr bool
	}{
		{name: "null message", b: 0x80, null: true},
		{name: "shortest", b: 0x83, n: 3},
		{name: "longest", b: 0xA3, n: 35},
		{name: "too short", b: 0x82, wantErr: true},
		{name: "too long", b: 0xA4, wantErr: true},
		{name: "missing flag", b: 0x24, wantErr: true},
		{name: "missing flag short", b: 0x05, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, null, err := ParseLength(tt.b)
			if tt.wantErr {
				assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.n, n)
			assert.Equal(t, tt.null, null)
		})
	}
}

func TestRequestLength(t *testing.T) {
	n, err := RequestLength(0x82)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = RequestLength(0x80)
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
	_, err = RequestLength(0xA1)
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
	_, err = RequestLength(0x02)
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
}

func TestDecodeRequest(t *testing.T) {
	raw := Request(ddcproxy.CmdVCPRequest, 0x10).Encode()
	frame, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, ddcproxy.AddrDDCCIWrite, frame.Dest)
	assert.Equal(t, ddcproxy.AddrHost, frame.Source)
	assert.Equal(t, []byte{0x01, 0x10}, frame.Payload)

	raw[len(raw)-1] ^= 0x01
	_, err = DecodeRequest(raw)
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidChecksum)

	_, err = DecodeRequest(raw[:4])
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
}

func TestDecodeReply(t *testing.T) {
	payload := CapabilityReply(0, []byte("(prot(monitor)"))
	got, err := DecodeReply(EncodeReply(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got, err = DecodeReply(EncodeReply(nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	raw := EncodeReply(payload)
	raw[4] ^= 0xFF
	_, err = DecodeReply(raw)
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidChecksum)

	_, err = DecodeReply([]byte{0x6E, 0x24, 0x00})
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
}
