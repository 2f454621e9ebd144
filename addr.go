package ddcproxy

// Wire addresses as they appear on the bus (7-bit address shifted, R/W in bit 0).
const (
	AddrEDIDWrite  byte = 0xA0
	AddrEDIDRead   byte = 0xA1
	AddrDDCCIWrite byte = 0x6E
	AddrDDCCIRead  byte = 0x6F
	// AddrHost is the source address a host puts in DDC/CI requests.
	AddrHost byte = 0x51
)

// 7-bit addresses for transaction level buses.
const (
	EDIDAddr7  byte = AddrEDIDWrite >> 1
	DDCCIAddr7 byte = AddrDDCCIWrite >> 1
)

// DDC/CI command codes.
const (
	CmdVCPRequest        byte = 0x01
	CmdVCPReply          byte = 0x02
	CmdVCPSet            byte = 0x03
	CmdCapabilityRequest byte = 0xF3
	CmdCapabilityReply   byte = 0xE3
)
