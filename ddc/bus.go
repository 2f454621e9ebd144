package ddc

import (
	"context"
	"fmt"

	"github.com/mklimuk/ddcproxy"
)

// chunkSize keeps every transaction within what USB bridges and SMBus style
// adapters accept.
const chunkSize = 32

// ReadEDIDBus reads the EDID over a transaction level bus such as a graphics
// card DDC channel or a USB I2C bridge. The offset is reset first; monitors
// that ignore the reset are realigned on the header in software. A failed
// attempt is retried once and the last buffer read is returned with the
// error.
func ReadEDIDBus(ctx context.Context, bus ddcproxy.I2CBus) (EDID, error) {
	return ddcproxy.Retry(2, func() (EDID, error) {
		return readEDIDBus(ctx, bus)
	})
}

func readEDIDBus(ctx context.Context, bus ddcproxy.I2CBus) (EDID, error) {
	var edid EDID
	if err := bus.WriteToAddr(ctx, ddcproxy.EDIDAddr7, []byte{0x00}); err != nil {
		return edid, fmt.Errorf("could not reset edid offset: %w", err)
	}
	raw := make([]byte, 2*EDIDSize)
	for off := 0; off < EDIDSize; off += chunkSize {
		if err := bus.ReadFromAddr(ctx, ddcproxy.EDIDAddr7, raw[off:off+chunkSize]); err != nil {
			return edid, fmt.Errorf("could not read edid at offset %d: %w", off, err)
		}
	}
	copy(raw[EDIDSize:], raw[:EDIDSize])
	k := findHeader(raw)
	if k < 0 || k >= EDIDSize {
		copy(edid[:], raw)
		return edid, ddcproxy.ErrHeaderNotFound
	}
	copy(edid[:], raw[k:k+EDIDSize])
	if !edid.ChecksumOK() {
		return edid, fmt.Errorf("%w: %w", ddcproxy.ErrReadFailed, ddcproxy.ErrInvalidChecksum)
	}
	return edid, nil
}
