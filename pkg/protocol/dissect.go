// Package protocol classifies raw byte streams into application
// protocols (HTTP/2, HTTP/1, TLS, DNS) and dissects each with
// suspicion heuristics tuned for malware traffic.
package protocol

import "bytes"

// Hard size ceilings per protocol.
const (
	MaxDNSMessage  = 512
	MaxHTTPBody    = 10 * 1024 * 1024
	MaxTLSRecord   = 16 * 1024
	MaxHTTP2Frame  = 16 * 1024 * 1024
)

// ProtocolKind is the classification outcome.
type ProtocolKind string

const (
	KindHTTP2   ProtocolKind = "http2"
	KindHTTP1   ProtocolKind = "http1"
	KindTLS     ProtocolKind = "tls"
	KindDNS     ProtocolKind = "dns"
	KindUnknown ProtocolKind = "unknown"
)

// http2Preface is the exact HTTP/2 connection preface.
var http2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// Classify inspects the first bytes of data.
func Classify(data []byte) ProtocolKind {
	switch {
	case bytes.HasPrefix(data, http2Preface):
		return KindHTTP2
	case isHTTP1(data):
		return KindHTTP1
	case isTLS(data):
		return KindTLS
	case isDNS(data):
		return KindDNS
	default:
		return KindUnknown
	}
}

// Finding is one suspicion raised by a dissector.
type Finding struct {
	Rule        string
	Description string
}

func isHTTP1(data []byte) bool {
	for _, method := range [][]byte{
		[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("DELETE "),
		[]byte("HEAD "), []byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "),
		[]byte("TRACE "), []byte("HTTP/1."),
	} {
		if bytes.HasPrefix(data, method) {
			return true
		}
	}
	return false
}

// isTLS matches a TLS record header: content type 0x16 (handshake),
// version major 3, minor 0..4.
func isTLS(data []byte) bool {
	return len(data) >= 5 && data[0] == 0x16 && data[1] == 0x03 && data[2] <= 0x04
}

// isDNS is a weak shape test: 12-byte header, plausible counts.
func isDNS(data []byte) bool {
	if len(data) < 12 || len(data) > MaxDNSMessage {
		return false
	}
	qdcount := int(data[4])<<8 | int(data[5])
	return qdcount >= 1 && qdcount <= 32
}
