package proxy

import (
	"context"
	"fmt"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/ddc"
)

// VCP result codes.
const (
	vcpNoError     byte = 0x00
	vcpUnsupported byte = 0x01
)

type VCPValue struct {
	Max     uint16 `yaml:"max"`
	Current uint16 `yaml:"current"`
}

var _ Upstream = &Static{}

// Static is an emulated monitor: a fixed EDID, a capability string served in
// fragments and a table of VCP features.
type Static struct {
	edid ddc.EDID
	caps []byte
	vcp  map[byte]VCPValue
}

func NewStatic(edid ddc.EDID, caps string, vcp map[byte]VCPValue) *Static {
	s := &Static{edid: edid, caps: []byte(caps), vcp: make(map[byte]VCPValue, len(vcp))}
	for code, v := range vcp {
		s.vcp[code] = v
	}
	return s
}

func (s *Static) ReadEDID(ctx context.Context) (ddc.EDID, error) {
	if !s.edid.Valid() {
		return s.edid, fmt.Errorf("%w: static edid is not valid", ddcproxy.ErrReadFailed)
	}
	return s.edid, nil
}

// Exchange answers capability requests and VCP gets. Anything else gets the
// null message.
func (s *Static) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	if off, ok := ddc.ParseCapabilityRequest(payload); ok {
		start := min(int(off), len(s.caps))
		end := min(start+ddc.FragmentSize, len(s.caps))
		return ddc.CapabilityReply(off, s.caps[start:end]), nil
	}
	if len(payload) == 2 && payload[0] == ddcproxy.CmdVCPRequest {
		code := payload[1]
		v, ok := s.vcp[code]
		result := vcpNoError
		if !ok {
			result = vcpUnsupported
		}
		return []byte{ddcproxy.CmdVCPReply, result, code, 0x00,
			byte(v.Max >> 8), byte(v.Max), byte(v.Current >> 8), byte(v.Current)}, nil
	}
	return nil, nil
}

// Send applies VCP sets to known features.
func (s *Static) Send(ctx context.Context, payload []byte) error {
	if len(payload) != 4 || payload[0] != ddcproxy.CmdVCPSet {
		return nil
	}
	v, ok := s.vcp[payload[1]]
	if !ok {
		return nil
	}
	v.Current = uint16(payload[2])<<8 | uint16(payload[3])
	if v.Current > v.Max {
		v.Current = v.Max
	}
	s.vcp[payload[1]] = v
	return nil
}

func (s *Static) VCP(code byte) (VCPValue, bool) {
	v, ok := s.vcp[code]
	return v, ok
}
