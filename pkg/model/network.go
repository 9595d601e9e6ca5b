package model

// NetworkPacket is one parsed or synthesized packet record.
type NetworkPacket struct {
	ID         string
	TimestampMs int64
	Protocol   string
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	Size       int
	Direction  string // inbound, outbound
	TCPFlags   *TCPFlagSet
	Suspicious bool
}

// TCPFlagSet is the decoded set of TCP control bits.
type TCPFlagSet struct {
	FIN, SYN, RST, PSH, ACK, URG bool
}

// Connection is a deduplicated protocol:destination:port tuple extracted
// from a capture.
type Connection struct {
	Protocol       string
	DestinationIP  string
	DestinationPort uint16
	Classification string // dns, http, https, ftp, ssh, smtp, unknown
}
