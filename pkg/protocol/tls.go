package protocol

import (
	"crypto/x509"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// TLSResult is the dissected ClientHello plus suspicion findings.
type TLSResult struct {
	RecordVersion uint16
	HelloVersion  uint16
	CipherSuites  []uint16
	SNI           string
	Findings      []Finding
}

// nullCipherSuites offer no confidentiality at all.
var nullCipherSuites = map[uint16]bool{
	0x0000: true, // TLS_NULL_WITH_NULL_NULL
	0x0001: true, // TLS_RSA_WITH_NULL_MD5
	0x0002: true, // TLS_RSA_WITH_NULL_SHA
	0x003B: true, // TLS_RSA_WITH_NULL_SHA256
	0x002C: true, // TLS_PSK_WITH_NULL_SHA
}

// ParseTLS dissects the first TLS record. ClientHello records yield
// cipher suites and the SNI hostname; a Certificate record is checked
// for a self-signed leaf.
func ParseTLS(data []byte) (TLSResult, error) {
	var result TLSResult
	if !isTLS(data) {
		return result, analysiserr.New(analysiserr.ParseError, "not a TLS handshake record")
	}

	recordLen := int(data[3])<<8 | int(data[4])
	if recordLen > MaxTLSRecord {
		return result, analysiserr.New(analysiserr.InputError, "TLS record exceeds size ceiling")
	}
	if len(data) < 5+recordLen {
		return result, analysiserr.New(analysiserr.ParseError, "truncated TLS record")
	}
	result.RecordVersion = uint16(data[1])<<8 | uint16(data[2])
	body := cryptobyte.String(data[5 : 5+recordLen])

	var handshakeType uint8
	if !body.ReadUint8(&handshakeType) {
		return result, analysiserr.New(analysiserr.ParseError, "empty handshake record")
	}
	var handshake cryptobyte.String
	if !body.ReadUint24LengthPrefixed(&handshake) {
		return result, analysiserr.New(analysiserr.ParseError, "truncated handshake message")
	}

	switch handshakeType {
	case 1: // ClientHello
		if err := parseClientHello(handshake, &result); err != nil {
			return result, err
		}
	case 11: // Certificate
		checkCertificateChain(handshake, &result)
	}

	return result, nil
}

func parseClientHello(s cryptobyte.String, result *TLSResult) error {
	parseErr := analysiserr.New(analysiserr.ParseError, "malformed ClientHello")

	if !s.ReadUint16(&result.HelloVersion) {
		return parseErr
	}
	if !s.Skip(32) { // random
		return parseErr
	}
	var sessionID cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&sessionID) {
		return parseErr
	}

	var cipherSuites cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&cipherSuites) {
		return parseErr
	}
	for !cipherSuites.Empty() {
		var suite uint16
		if !cipherSuites.ReadUint16(&suite) {
			return parseErr
		}
		result.CipherSuites = append(result.CipherSuites, suite)
		if nullCipherSuites[suite] {
			result.Findings = append(result.Findings, Finding{
				Rule:        "null-cipher-offered",
				Description: fmt.Sprintf("NULL cipher suite 0x%04x offered", suite),
			})
		}
	}

	var compression cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&compression) {
		return parseErr
	}

	if !s.Empty() {
		var extensions cryptobyte.String
		if s.ReadUint16LengthPrefixed(&extensions) {
			parseExtensions(extensions, result)
		}
	}

	if result.HelloVersion <= 0x0302 { // TLS 1.1 or lower
		result.Findings = append(result.Findings, Finding{
			Rule:        "legacy-tls-version",
			Description: fmt.Sprintf("ClientHello offers version 0x%04x (TLS 1.1 or older)", result.HelloVersion),
		})
	}
	if result.SNI == "" {
		result.Findings = append(result.Findings, Finding{
			Rule:        "missing-sni",
			Description: "ClientHello carries no server name indication",
		})
	}
	return nil
}

// parseExtensions extracts the SNI hostname (extension 0).
func parseExtensions(extensions cryptobyte.String, result *TLSResult) {
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return
		}
		if extType != 0 {
			continue
		}
		var nameList cryptobyte.String
		if !extData.ReadUint16LengthPrefixed(&nameList) {
			return
		}
		var nameType uint8
		var hostName cryptobyte.String
		if nameList.ReadUint8(&nameType) && nameType == 0 &&
			nameList.ReadUint16LengthPrefixed(&hostName) {
			result.SNI = string(hostName)
		}
		return
	}
}

// checkCertificateChain flags a self-signed leaf in a Certificate
// handshake message.
func checkCertificateChain(s cryptobyte.String, result *TLSResult) {
	var chain cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&chain) {
		return
	}
	var leaf cryptobyte.String
	if !chain.ReadUint24LengthPrefixed(&leaf) {
		return
	}
	cert, err := x509.ParseCertificate(leaf)
	if err != nil {
		return
	}
	if string(cert.RawSubject) == string(cert.RawIssuer) {
		result.Findings = append(result.Findings, Finding{
			Rule:        "self-signed-leaf",
			Description: "server presented a self-signed leaf certificate",
		})
	}
}
