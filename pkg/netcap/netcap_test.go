package netcap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/triage/pkg/model"
)

// verifyRFC1071 checks that summing data (checksum field included)
// yields 0xFFFF, the one's-complement invariant for a valid checksum.
func verifyRFC1071(t *testing.T, data []byte) {
	t.Helper()
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	require.Equal(t, uint32(0xFFFF), sum)
}

func tcpPacket() model.NetworkPacket {
	return model.NetworkPacket{
		Protocol: "TCP",
		SrcIP:    "192.168.1.1", DstIP: "192.168.1.100",
		SrcPort: 12345, DstPort: 443,
		Size: 100,
		TCPFlags: &model.TCPFlagSet{SYN: true},
	}
}

func TestBuildFrameIPv4TCPChecksums(t *testing.T) {
	frame, err := BuildFrame(tcpPacket())
	require.NoError(t, err)
	require.Len(t, frame, 100)

	// EtherType IPv4.
	require.Equal(t, uint16(0x0800), binary.BigEndian.Uint16(frame[12:14]))

	// IPv4 header checksum covers the 20 header bytes.
	ipHeader := frame[14:34]
	require.Equal(t, byte(0x45), ipHeader[0])
	require.Equal(t, byte(64), ipHeader[8], "TTL")
	verifyRFC1071(t, ipHeader)

	// TCP checksum covers pseudo-header + segment.
	segment := frame[34:]
	pseudo := pseudoHeaderV4(ipHeader[12:16], ipHeader[16:20], 6, len(segment))
	verifyRFC1071(t, append(pseudo, segment...))

	// SYN flag set, window 8192.
	require.Equal(t, byte(tcpSYN), segment[13])
	require.Equal(t, uint16(8192), binary.BigEndian.Uint16(segment[14:16]))
}

func TestBuildFrameMACsAreLocalUnicast(t *testing.T) {
	frame, err := BuildFrame(tcpPacket())
	require.NoError(t, err)
	for _, mac := range [][]byte{frame[0:6], frame[6:12]} {
		require.Equal(t, byte(0x02), mac[0]&0x03, "locally administered, not multicast")
	}
}

func TestBuildFrameDefaultTCPFlagsAreACK(t *testing.T) {
	pkt := tcpPacket()
	pkt.TCPFlags = nil
	frame, err := BuildFrame(pkt)
	require.NoError(t, err)
	require.Equal(t, byte(tcpACK), frame[34+13])
}

func TestBuildFrameUDPZeroChecksumRemap(t *testing.T) {
	pkt := model.NetworkPacket{
		Protocol: "UDP",
		SrcIP:    "10.0.0.1", DstIP: "10.0.0.2",
		SrcPort: 1000, DstPort: 2000,
		Size: 50,
	}
	frame, err := BuildFrame(pkt)
	require.NoError(t, err)

	udp := frame[34:]
	sum := binary.BigEndian.Uint16(udp[6:8])
	require.NotEqual(t, uint16(0), sum, "0 means no-checksum in v4 UDP")
}

func TestBuildFrameIPv6(t *testing.T) {
	pkt := model.NetworkPacket{
		Protocol: "TCP",
		SrcIP:    "2001:db8::1", DstIP: "2001:db8::2",
		SrcPort: 1, DstPort: 443,
		Size: 120,
	}
	frame, err := BuildFrame(pkt)
	require.NoError(t, err)
	require.Equal(t, uint16(0x86DD), binary.BigEndian.Uint16(frame[12:14]))

	ipHeader := frame[14:54]
	require.Equal(t, byte(0x60), ipHeader[0]&0xF0)
	require.Equal(t, byte(64), ipHeader[7], "hop limit")
	segment := frame[54:]
	require.Equal(t, int(binary.BigEndian.Uint16(ipHeader[4:6])), len(segment))

	pseudo := pseudoHeaderV6(ipHeader[8:24], ipHeader[24:40], 6, len(segment))
	verifyRFC1071(t, append(pseudo, segment...))
}

func TestPCAPRoundTripScenario(t *testing.T) {
	// Minimal PCAP with one Ethernet+IPv4+TCP packet
	// 192.168.1.1:12345 → 192.168.1.100:443.
	pcap, err := WritePCAP([]model.NetworkPacket{tcpPacket()})
	require.NoError(t, err)

	packets, err := ParsePCAP(pcap)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, "HTTPS", packets[0].Protocol)
	require.Equal(t, "192.168.1.100", packets[0].DstIP)
	require.Equal(t, uint16(443), packets[0].DstPort)
	require.NotNil(t, packets[0].TCPFlags)
	require.True(t, packets[0].TCPFlags.SYN)

	conns := Connections(packets)
	require.Len(t, conns, 1)
	require.Equal(t, "https", conns[0].Classification)
	require.Equal(t, uint16(443), conns[0].DestinationPort)
}

func TestParsePCAPRejectsBadMagic(t *testing.T) {
	_, err := ParsePCAP(make([]byte, 64))
	require.Error(t, err)
}

func TestParsePCAPTruncatedHeader(t *testing.T) {
	_, err := ParsePCAP([]byte{0xD4, 0xC3})
	require.Error(t, err)
}

func TestBlocklistAndStatistics(t *testing.T) {
	ResetStatistics()
	t.Cleanup(ResetStatistics)

	BlockIPs([]string{"203.0.113.7"})
	require.True(t, IsBlocked("203.0.113.7"))
	require.False(t, IsBlocked("198.51.100.1"))

	recordPacket(model.NetworkPacket{Protocol: "DNS", SrcIP: "10.0.0.1", DstIP: "10.0.0.2"})
	recordPacket(model.NetworkPacket{Protocol: "DNS", SrcIP: "10.0.0.1", DstIP: "10.0.0.3"})

	stats := GetStatistics()
	require.Equal(t, 2, stats.TotalPackets)
	require.Equal(t, 2, stats.ProtocolCounts["DNS"])
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, stats.UniqueIPs)
	require.Equal(t, 2, stats.PacketsPerIP["10.0.0.1"])
	require.Equal(t, 1, stats.BlockedHits)
}

func TestConnectionsDeduplicate(t *testing.T) {
	pkts := []model.NetworkPacket{
		{Protocol: "HTTPS", DstIP: "1.2.3.4", DstPort: 443},
		{Protocol: "HTTPS", DstIP: "1.2.3.4", DstPort: 443},
		{Protocol: "DNS", DstIP: "8.8.8.8", DstPort: 53},
	}
	require.Len(t, Connections(pkts), 2)
}

func TestAnalyzePacket(t *testing.T) {
	pkt := tcpPacket()
	pkt.ID = "pkt-1"
	pkt.Suspicious = true

	out := AnalyzePacket(pkt)
	require.Contains(t, out, "192.168.1.1:12345 -> 192.168.1.100:443")
	require.Contains(t, out, "TCP flags: SYN")
	require.Contains(t, out, "blocklisted")
}
