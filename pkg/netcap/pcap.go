package netcap

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// MaxPacketsPerFile caps PCAP parsing.
const MaxPacketsPerFile = 1000

// pcap global-header magics, both byte orders, micro- and nanosecond.
const (
	pcapMagicLE     = 0xA1B2C3D4
	pcapMagicLENano = 0xA1B23C4D
	pcapMagicBE     = 0xD4C3B2A1
	pcapMagicBENano = 0x4D3CB2A1
)

// ParsePCAP reads a libpcap file (Ethernet linktype) into packet
// records, capped at MaxPacketsPerFile.
func ParsePCAP(data []byte) ([]model.NetworkPacket, error) {
	if len(data) < 24 {
		return nil, analysiserr.New(analysiserr.ParseError, "PCAP shorter than its global header")
	}

	var order binary.ByteOrder
	switch binary.LittleEndian.Uint32(data[0:4]) {
	case pcapMagicLE, pcapMagicLENano:
		order = binary.LittleEndian
	case pcapMagicBE, pcapMagicBENano:
		order = binary.BigEndian
	default:
		return nil, analysiserr.New(analysiserr.ParseError, "unrecognized PCAP magic")
	}

	var packets []model.NetworkPacket
	off := 24
	for off+16 <= len(data) && len(packets) < MaxPacketsPerFile {
		tsSec := order.Uint32(data[off : off+4])
		tsUsec := order.Uint32(data[off+4 : off+8])
		inclLen := int(order.Uint32(data[off+8 : off+12]))
		off += 16
		if inclLen < 0 || off+inclLen > len(data) {
			break
		}
		frame := data[off : off+inclLen]
		off += inclLen

		pkt, ok := parseEthernetFrame(frame)
		if !ok {
			continue
		}
		pkt.ID = fmt.Sprintf("pcap-%d", len(packets))
		pkt.TimestampMs = int64(tsSec)*1000 + int64(tsUsec)/1000
		packets = append(packets, pkt)
	}
	return packets, nil
}

// parseEthernetFrame dissects Ethernet → IP → transport, classifying by
// destination port.
func parseEthernetFrame(frame []byte) (model.NetworkPacket, bool) {
	var pkt model.NetworkPacket
	if len(frame) < 14 {
		return pkt, false
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])
	ip := frame[14:]

	var protocol uint8
	var transport []byte
	switch etherType {
	case 0x0800: // IPv4
		if len(ip) < 20 || ip[0]>>4 != 4 {
			return pkt, false
		}
		ihl := int(ip[0]&0x0F) * 4
		if ihl < 20 || len(ip) < ihl {
			return pkt, false
		}
		protocol = ip[9]
		pkt.SrcIP = net.IP(ip[12:16]).String()
		pkt.DstIP = net.IP(ip[16:20]).String()
		transport = ip[ihl:]
	case 0x86DD: // IPv6
		if len(ip) < 40 {
			return pkt, false
		}
		protocol = ip[6]
		pkt.SrcIP = net.IP(ip[8:24]).String()
		pkt.DstIP = net.IP(ip[24:40]).String()
		transport = ip[40:]
	default:
		return pkt, false
	}

	pkt.Size = len(frame)
	switch protocol {
	case 6: // TCP
		if len(transport) < 20 {
			return pkt, false
		}
		pkt.SrcPort = binary.BigEndian.Uint16(transport[0:2])
		pkt.DstPort = binary.BigEndian.Uint16(transport[2:4])
		flags := transport[13]
		pkt.TCPFlags = &model.TCPFlagSet{
			FIN: flags&tcpFIN != 0, SYN: flags&tcpSYN != 0,
			RST: flags&tcpRST != 0, PSH: flags&tcpPSH != 0,
			ACK: flags&tcpACK != 0, URG: flags&tcpURG != 0,
		}
		pkt.Protocol = classifyPort(pkt.DstPort, "TCP")
	case 17: // UDP
		if len(transport) < 8 {
			return pkt, false
		}
		pkt.SrcPort = binary.BigEndian.Uint16(transport[0:2])
		pkt.DstPort = binary.BigEndian.Uint16(transport[2:4])
		pkt.Protocol = classifyPort(pkt.DstPort, "UDP")
	case 1, 58: // ICMP / ICMPv6
		pkt.Protocol = "ICMP"
	default:
		pkt.Protocol = fmt.Sprintf("IP-%d", protocol)
	}
	return pkt, true
}

// classifyPort maps well-known destination ports to application
// protocols.
func classifyPort(port uint16, fallback string) string {
	switch port {
	case 53:
		return "DNS"
	case 80, 8080:
		return "HTTP"
	case 443:
		return "HTTPS"
	case 21:
		return "FTP"
	case 22:
		return "SSH"
	case 25, 587:
		return "SMTP"
	default:
		return fallback
	}
}

// Connections deduplicates packets into protocol:destination:port
// tuples.
func Connections(packets []model.NetworkPacket) []model.Connection {
	seen := make(map[string]bool)
	var out []model.Connection
	for _, pkt := range packets {
		key := fmt.Sprintf("%s:%s:%d", pkt.Protocol, pkt.DstIP, pkt.DstPort)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, model.Connection{
			Protocol:        pkt.Protocol,
			DestinationIP:   pkt.DstIP,
			DestinationPort: pkt.DstPort,
			Classification:  classification(pkt),
		})
	}
	return out
}

func classification(pkt model.NetworkPacket) string {
	switch pkt.Protocol {
	case "DNS", "HTTP", "HTTPS", "FTP", "SSH", "SMTP":
		return strings.ToLower(pkt.Protocol)
	default:
		return "unknown"
	}
}

// WritePCAP emits packets as a microsecond little-endian libpcap file
// with Ethernet linktype, rebuilding each frame from its record.
func WritePCAP(packets []model.NetworkPacket) ([]byte, error) {
	out := make([]byte, 24)
	binary.LittleEndian.PutUint32(out[0:4], pcapMagicLE)
	binary.LittleEndian.PutUint16(out[4:6], 2)  // major
	binary.LittleEndian.PutUint16(out[6:8], 4)  // minor
	binary.LittleEndian.PutUint32(out[16:20], 65535) // snaplen
	binary.LittleEndian.PutUint32(out[20:24], 1)     // LINKTYPE_ETHERNET

	for _, pkt := range packets {
		frame, err := BuildFrame(pkt)
		if err != nil {
			continue
		}
		rec := make([]byte, 16)
		binary.LittleEndian.PutUint32(rec[0:4], uint32(pkt.TimestampMs/1000))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(pkt.TimestampMs%1000)*1000)
		binary.LittleEndian.PutUint32(rec[8:12], uint32(len(frame)))
		binary.LittleEndian.PutUint32(rec[12:16], uint32(len(frame)))
		out = append(out, rec...)
		out = append(out, frame...)
	}
	return out, nil
}
