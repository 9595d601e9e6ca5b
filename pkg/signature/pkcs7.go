package signature

import (
	"crypto/x509"
	"encoding/asn1"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Microsoft and PKCS#9 OIDs relevant to Authenticode.
var (
	oidSPCIndirectData  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 4}
	oidSPCSpOpusInfo    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 12}
	oidCounterSignature = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}
	oidTimestampToken   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	oidMessageDigest    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidSigningTime      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

	oidDigestSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidDigestSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidDigestMD5    = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 5}
)

// pkcs7Info is everything the verifier needs out of the PKCS#7
// SignedData wrapper: the digest algorithm, the expected message digest,
// all embedded certificates, the signing time, and the presence flags
// for the Authenticode-specific attributes.
type pkcs7Info struct {
	Certificates    []*x509.Certificate
	DigestAlgorithm string
	MessageDigest   []byte
	SigningTime     time.Time

	HasSPCIndirectData  bool
	HasOpusInfo         bool
	HasCounterSignature bool
	HasRFC3161Timestamp bool
}

// parsePKCS7 walks the DER structure of a PKCS#7 SignedData blob. The
// walk is deliberately forgiving: Authenticode blobs in the wild carry
// BER quirks and vendor extensions, so instead of a strict SignedData
// decode we scan the tree for the OIDs and values of interest and
// recover certificates by a raw sweep.
func parsePKCS7(data []byte) (*pkcs7Info, error) {
	if len(data) < 20 {
		return nil, errTooSmall
	}

	info := &pkcs7Info{}
	walkDER(cryptobyte.String(data), 0, info)
	info.Certificates = scanForCertificates(data)

	if len(info.Certificates) == 0 && !info.HasSPCIndirectData && info.DigestAlgorithm == "" {
		return nil, errNotPKCS7
	}
	return info, nil
}

// maxDERDepth bounds recursion on hostile inputs.
const maxDERDepth = 32

// asn1ClassConstructed is the constructed-class bit in a DER identifier
// octet (cryptobyte/asn1.Tag does not expose a predicate for this).
const asn1ClassConstructed = 0x20

func isConstructed(tag cbasn1.Tag) bool {
	return tag&asn1ClassConstructed != 0
}

// walkDER recursively visits every DER element, recording OIDs and the
// values that follow the messageDigest and signingTime attribute OIDs.
func walkDER(s cryptobyte.String, depth int, info *pkcs7Info) {
	if depth > maxDERDepth {
		return
	}
	for !s.Empty() {
		var body cryptobyte.String
		var tag cbasn1.Tag
		if !s.ReadAnyASN1(&body, &tag) {
			return
		}
		switch {
		case tag == cbasn1.OBJECT_IDENTIFIER:
			// s now holds the OID's siblings; recordOID peeks at them
			// to capture attribute values without consuming them here.
			recordOID(body, s, info)
		case isConstructed(tag) || tag == cbasn1.OCTET_STRING:
			walkDER(body, depth+1, info)
		}
	}
}

// recordOID matches a parsed OID against the table of interesting OIDs.
// rest is the remainder of the enclosing element, used to capture the
// attribute value that follows messageDigest/signingTime.
func recordOID(raw cryptobyte.String, rest cryptobyte.String, info *pkcs7Info) {
	oid := decodeOID(raw)
	if oid == nil {
		return
	}

	switch {
	case oid.Equal(oidSPCIndirectData):
		info.HasSPCIndirectData = true
	case oid.Equal(oidSPCSpOpusInfo):
		info.HasOpusInfo = true
	case oid.Equal(oidCounterSignature):
		info.HasCounterSignature = true
	case oid.Equal(oidTimestampToken):
		info.HasRFC3161Timestamp = true
	case oid.Equal(oidDigestSHA256):
		info.DigestAlgorithm = "sha256"
	case oid.Equal(oidDigestSHA1):
		if info.DigestAlgorithm == "" {
			info.DigestAlgorithm = "sha1"
		}
	case oid.Equal(oidDigestMD5):
		if info.DigestAlgorithm == "" {
			info.DigestAlgorithm = "md5"
		}
	case oid.Equal(oidMessageDigest):
		if d := readAttrOctetString(rest); d != nil && info.MessageDigest == nil {
			info.MessageDigest = d
		}
	case oid.Equal(oidSigningTime):
		if t, ok := readAttrTime(rest); ok && info.SigningTime.IsZero() {
			info.SigningTime = t
		}
	}
}

// decodeOID converts raw OID bytes into an asn1.ObjectIdentifier.
func decodeOID(raw cryptobyte.String) asn1.ObjectIdentifier {
	// Re-wrap the body in a full OID element for encoding/asn1.
	buf := make([]byte, 0, len(raw)+4)
	buf = append(buf, 0x06, byte(len(raw)))
	buf = append(buf, raw...)
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(buf, &oid); err != nil {
		return nil
	}
	return oid
}

// readAttrOctetString reads SET { OCTET STRING } — the shape of a
// messageDigest attribute value.
func readAttrOctetString(s cryptobyte.String) []byte {
	var set cryptobyte.String
	if !s.ReadASN1(&set, cbasn1.SET) {
		return nil
	}
	var val cryptobyte.String
	if !set.ReadASN1(&val, cbasn1.OCTET_STRING) {
		return nil
	}
	return []byte(val)
}

// readAttrTime reads SET { UTCTime | GeneralizedTime } — the shape of a
// signingTime attribute value. Both time forms are accepted.
func readAttrTime(s cryptobyte.String) (time.Time, bool) {
	var set cryptobyte.String
	if !s.ReadASN1(&set, cbasn1.SET) {
		return time.Time{}, false
	}
	var body cryptobyte.String
	var tag cbasn1.Tag
	if !set.ReadAnyASN1(&body, &tag) {
		return time.Time{}, false
	}
	switch tag {
	case cbasn1.UTCTime:
		return parseUTCTime(string(body))
	case cbasn1.GeneralizedTime:
		return parseGeneralizedTime(string(body))
	}
	return time.Time{}, false
}

func parseUTCTime(s string) (time.Time, bool) {
	for _, layout := range []string{"060102150405Z", "0601021504Z", "060102150405-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseGeneralizedTime(s string) (time.Time, bool) {
	for _, layout := range []string{"20060102150405Z", "20060102150405.000Z", "20060102150405-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// scanForCertificates sweeps the raw blob for DER SEQUENCEs that parse
// as X.509 certificates. The sweep is position-independent, so it finds
// the certificate set regardless of where the SignedData put it.
func scanForCertificates(data []byte) []*x509.Certificate {
	var certs []*x509.Certificate
	seen := make(map[string]bool)

	for off := 0; off+4 < len(data); {
		if data[off] != 0x30 {
			off++
			continue
		}
		total, ok := derElementLength(data[off:])
		if !ok || total < 200 || off+total > len(data) {
			off++
			continue
		}
		cert, err := x509.ParseCertificate(data[off : off+total])
		if err != nil {
			off++
			continue
		}
		key := string(cert.RawSubject) + "|" + cert.SerialNumber.String()
		if !seen[key] {
			seen[key] = true
			certs = append(certs, cert)
		}
		off += total
	}
	return certs
}

// derElementLength returns the total encoded length (header + body) of
// the DER element starting at data[0].
func derElementLength(data []byte) (int, bool) {
	if len(data) < 2 {
		return 0, false
	}
	b := data[1]
	if b < 0x80 {
		return 2 + int(b), true
	}
	n := int(b & 0x7F)
	if n == 0 || n > 4 || len(data) < 2+n {
		return 0, false
	}
	length := 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(data[2+i])
	}
	return 2 + n + length, true
}
