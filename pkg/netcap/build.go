// Package netcap builds and parses network packets: wire-correct
// Ethernet/IPv4/IPv6 frames with TCP, UDP, and ICMP payloads, PCAP file
// read/write, and live capture sessions with process-wide statistics and
// an IP blocklist.
package netcap

import (
	"crypto/sha256"
	"encoding/binary"
	"net"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// TCP flag bits on the wire.
const (
	tcpFIN = 0x01
	tcpSYN = 0x02
	tcpRST = 0x04
	tcpPSH = 0x08
	tcpACK = 0x10
	tcpURG = 0x20
)

// BuildFrame reconstructs a full Ethernet frame for the packet record.
// The payload is sized to the packet's claimed size minus the header
// stack and zero-filled (0x42 for ICMP).
func BuildFrame(pkt model.NetworkPacket) ([]byte, error) {
	srcIP := net.ParseIP(pkt.SrcIP)
	dstIP := net.ParseIP(pkt.DstIP)
	if srcIP == nil || dstIP == nil {
		return nil, analysiserr.New(analysiserr.InputError, "packet carries an unparseable IP address")
	}

	isV4 := srcIP.To4() != nil && dstIP.To4() != nil

	var transport []byte
	var protoByte uint8
	switch pkt.Protocol {
	case "TCP", "tcp", "HTTP", "HTTPS", "FTP", "SSH", "SMTP":
		protoByte = 6
	case "UDP", "udp", "DNS":
		protoByte = 17
	case "ICMP", "icmp":
		if isV4 {
			protoByte = 1
		} else {
			protoByte = 58
		}
	default:
		protoByte = 6
	}

	headerStack := 14 // Ethernet
	if isV4 {
		headerStack += 20
	} else {
		headerStack += 40
	}
	switch protoByte {
	case 6:
		headerStack += 20
	case 17:
		headerStack += 8
	default:
		headerStack += 8
	}
	payloadLen := pkt.Size - headerStack
	if payloadLen < 0 {
		payloadLen = 0
	}
	payload := make([]byte, payloadLen)
	if protoByte == 1 || protoByte == 58 {
		for i := range payload {
			payload[i] = 0x42
		}
	}

	src4, dst4 := srcIP.To4(), dstIP.To4()
	src16, dst16 := srcIP.To16(), dstIP.To16()

	switch protoByte {
	case 6:
		if isV4 {
			transport = buildTCP(pkt, payload, pseudoHeaderV4(src4, dst4, 6, 20+len(payload)))
		} else {
			transport = buildTCP(pkt, payload, pseudoHeaderV6(src16, dst16, 6, 20+len(payload)))
		}
	case 17:
		if isV4 {
			transport = buildUDP(pkt, payload, pseudoHeaderV4(src4, dst4, 17, 8+len(payload)))
		} else {
			transport = buildUDP(pkt, payload, pseudoHeaderV6(src16, dst16, 17, 8+len(payload)))
		}
	default:
		transport = buildICMPEcho(payload)
	}

	var ipPacket []byte
	if isV4 {
		ipPacket = buildIPv4(src4, dst4, protoByte, transport)
	} else {
		ipPacket = buildIPv6(src16, dst16, protoByte, transport)
	}

	frame := make([]byte, 0, 14+len(ipPacket))
	frame = append(frame, deriveMAC(dstIP)...)
	frame = append(frame, deriveMAC(srcIP)...)
	etherType := uint16(0x0800)
	if !isV4 {
		etherType = 0x86DD
	}
	frame = binary.BigEndian.AppendUint16(frame, etherType)
	frame = append(frame, ipPacket...)
	return frame, nil
}

// deriveMAC hashes the IP's octets into a locally-administered unicast
// MAC: bit 1 of the first byte set, bit 0 clear, so synthesized frames
// can never collide with real hardware addresses.
func deriveMAC(ip net.IP) []byte {
	sum := sha256.Sum256(ip)
	mac := make([]byte, 6)
	copy(mac, sum[:6])
	mac[0] = (mac[0] & 0xFC) | 0x02
	return mac
}

// buildIPv4 emits a 20-byte header: version 4, IHL 5, DF set, TTL 64,
// RFC 1071 header checksum.
func buildIPv4(src, dst []byte, protocol uint8, transport []byte) []byte {
	header := make([]byte, 20)
	header[0] = 0x45
	binary.BigEndian.PutUint16(header[2:4], uint16(20+len(transport)))
	binary.BigEndian.PutUint16(header[6:8], 0x4000) // DF
	header[8] = 64                                  // TTL
	header[9] = protocol
	copy(header[12:16], src)
	copy(header[16:20], dst)
	binary.BigEndian.PutUint16(header[10:12], rfc1071Checksum(header))
	return append(header, transport...)
}

// buildIPv6 emits the fixed 40-byte header: hop limit 64, payload
// length equal to the transport length.
func buildIPv6(src, dst []byte, nextHeader uint8, transport []byte) []byte {
	header := make([]byte, 40)
	header[0] = 0x60
	binary.BigEndian.PutUint16(header[4:6], uint16(len(transport)))
	header[6] = nextHeader
	header[7] = 64 // hop limit
	copy(header[8:24], src)
	copy(header[24:40], dst)
	return append(header, transport...)
}

// buildTCP emits a 20-byte TCP header: window 8192, sequence 1, ACK 0,
// flags from the logical set (ACK-only when none supplied), and the
// pseudo-header checksum.
func buildTCP(pkt model.NetworkPacket, payload, pseudo []byte) []byte {
	header := make([]byte, 20)
	binary.BigEndian.PutUint16(header[0:2], pkt.SrcPort)
	binary.BigEndian.PutUint16(header[2:4], pkt.DstPort)
	binary.BigEndian.PutUint32(header[4:8], 1) // sequence
	header[12] = 5 << 4                        // data offset

	var flags byte
	if pkt.TCPFlags != nil {
		if pkt.TCPFlags.FIN {
			flags |= tcpFIN
		}
		if pkt.TCPFlags.SYN {
			flags |= tcpSYN
		}
		if pkt.TCPFlags.RST {
			flags |= tcpRST
		}
		if pkt.TCPFlags.PSH {
			flags |= tcpPSH
		}
		if pkt.TCPFlags.ACK {
			flags |= tcpACK
		}
		if pkt.TCPFlags.URG {
			flags |= tcpURG
		}
	}
	if flags == 0 {
		flags = tcpACK
	}
	header[13] = flags
	binary.BigEndian.PutUint16(header[14:16], 8192) // window

	segment := append(header, payload...)
	binary.BigEndian.PutUint16(segment[16:18], transportChecksum(pseudo, segment))
	return segment
}

// buildUDP emits the 8-byte UDP header. A computed checksum of 0 goes
// on the wire as 0xFFFF: in IPv4 a zero checksum means "no checksum",
// and in IPv6 the checksum is mandatory outright.
func buildUDP(pkt model.NetworkPacket, payload, pseudo []byte) []byte {
	header := make([]byte, 8)
	binary.BigEndian.PutUint16(header[0:2], pkt.SrcPort)
	binary.BigEndian.PutUint16(header[2:4], pkt.DstPort)
	binary.BigEndian.PutUint16(header[4:6], uint16(8+len(payload)))

	segment := append(header, payload...)
	sum := transportChecksum(pseudo, segment)
	if sum == 0 {
		sum = 0xFFFF
	}
	binary.BigEndian.PutUint16(segment[6:8], sum)
	return segment
}

// buildICMPEcho emits a Type 8 Echo Request with the checksum over
// header plus payload.
func buildICMPEcho(payload []byte) []byte {
	header := make([]byte, 8)
	header[0] = 8 // Echo Request
	packet := append(header, payload...)
	binary.BigEndian.PutUint16(packet[2:4], rfc1071Checksum(packet))
	return packet
}
