package netcap

import (
	"fmt"
	"strings"

	"github.com/marmos91/triage/pkg/model"
)

// AnalyzePacket renders a single packet as a human-readable analysis
// block, flag decoding and blocklist state included.
func AnalyzePacket(pkt model.NetworkPacket) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Packet %s (%s)\n", pkt.ID, pkt.Protocol)
	fmt.Fprintf(&sb, "  %s:%d -> %s:%d, %d bytes", pkt.SrcIP, pkt.SrcPort, pkt.DstIP, pkt.DstPort, pkt.Size)
	if pkt.Direction != "" {
		fmt.Fprintf(&sb, " (%s)", pkt.Direction)
	}
	sb.WriteString("\n")

	if pkt.TCPFlags != nil {
		var flags []string
		for _, f := range []struct {
			set  bool
			name string
		}{
			{pkt.TCPFlags.FIN, "FIN"}, {pkt.TCPFlags.SYN, "SYN"},
			{pkt.TCPFlags.RST, "RST"}, {pkt.TCPFlags.PSH, "PSH"},
			{pkt.TCPFlags.ACK, "ACK"}, {pkt.TCPFlags.URG, "URG"},
		} {
			if f.set {
				flags = append(flags, f.name)
			}
		}
		fmt.Fprintf(&sb, "  TCP flags: %s\n", strings.Join(flags, "|"))
	}

	switch pkt.Protocol {
	case "DNS":
		sb.WriteString("  classification: name resolution\n")
	case "HTTP":
		sb.WriteString("  classification: cleartext web traffic\n")
	case "HTTPS":
		sb.WriteString("  classification: encrypted web traffic\n")
	case "SSH":
		sb.WriteString("  classification: remote shell\n")
	}

	if pkt.Suspicious {
		sb.WriteString("  WARNING: involves a blocklisted address\n")
	}
	return sb.String()
}
