package ddc

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/ddcproxy"
)

func sampleEDID() EDID {
	e := Placeholder()
	e[12], e[13] = 0x2A, 0x01
	copy(e[DescriptorOffset:], nameDescriptor(descriptorName, "U2415"))
	copy(e[DescriptorOffset+DescriptorSize:], nameDescriptor(descriptorSerial, "7MT0167B0BZL"))
	e.FixChecksum()
	return e
}

func TestFixChecksum(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		var e EDID
		for j := range e {
			e[j] = byte(rnd.IntN(256))
		}
		copy(e[:], Header[:])
		e.FixChecksum()
		var sum byte
		for _, b := range e {
			sum += b
		}
		require.Zero(t, sum)
		require.True(t, e.Valid())

		pos := 8 + rnd.IntN(119)
		e[pos]++
		require.False(t, e.ChecksumOK())
		e.FixChecksum()
		require.True(t, e.Valid())
	}
}

func TestValidity(t *testing.T) {
	e := sampleEDID()
	assert.True(t, e.HeaderOK())
	assert.True(t, e.ChecksumOK())
	assert.True(t, e.Valid())

	broken := e
	broken[3] = 0x00
	assert.False(t, broken.HeaderOK())
	assert.False(t, broken.Valid())
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder()
	assert.True(t, p.HeaderOK())
	assert.False(t, p.ChecksumOK())
	info := p.Info()
	assert.Equal(t, "DDC", info.Manufacturer)
	assert.Equal(t, "placeholder", info.Name)
}

func TestMethodsOnReturnedValues(t *testing.T) {
	assert.True(t, Placeholder().HeaderOK())
	assert.False(t, Placeholder().Valid())
	assert.True(t, sampleEDID().Valid())
	assert.Equal(t, "U2415", sampleEDID().Info().Name)
	assert.Equal(t, sampleEDID()[EDIDSize-1], sampleEDID().Checksum())
	assert.Len(t, sampleEDID().Hex(), 2*EDIDSize)
	assert.Contains(t, Placeholder().Dump(), "00: 00 ff ff ff ff ff ff 00")
}

func TestInfo(t *testing.T) {
	e := sampleEDID()
	info := e.Info()
	assert.Equal(t, "DDC", info.Manufacturer)
	assert.Equal(t, uint16(1), info.ProductCode)
	assert.Equal(t, uint32(0x012A), info.Serial)
	assert.Equal(t, 1, info.Week)
	assert.Equal(t, 2016, info.Year)
	assert.Equal(t, "1.3", info.Version)
	assert.True(t, info.Digital)
	assert.Equal(t, 52, info.WidthCM)
	assert.Equal(t, "U2415", info.Name)
	assert.Equal(t, "7MT0167B0BZL", info.SerialText)
	assert.Equal(t, 0, info.Extensions)
	assert.True(t, info.ChecksumOK)
}

func TestPadText(t *testing.T) {
	assert.Equal(t, []byte("owned\n       "), PadText("owned"))
	assert.Equal(t, []byte("0123456789abc"), PadText("0123456789abcdef"))
}

func TestParseEDID(t *testing.T) {
	e := sampleEDID()
	got, err := ParseEDID(e[:])
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = ParseEDID(e[:100])
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)

	got, err = ParseEDIDHex(fmt.Sprintf("% x", e[:]))
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = ParseEDIDHex("00 ff zz")
	assert.Error(t, err)
}
