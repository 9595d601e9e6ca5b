package signature

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/marmos91/triage/pkg/model"
)

// weakAlgorithms in any chain certificate raise a Medium indicator.
var weakAlgorithms = []string{"md2", "md4", "md5", "sha1"}

// peLayout carries the file offsets the Authenticode hash must skip.
type peLayout struct {
	ChecksumOffset  int // 4 bytes skipped
	CertEntryOffset int // 8 bytes skipped (data directory entry 4)
	CertDataOffset  int // start of the certificate table, 0 when absent
	CertDataSize    int
}

// parsePELayout reads just enough of the PE header to locate the
// checksum field, the certificate-table directory entry, and the
// certificate data. It works from raw bytes so a blob debug/pe rejects
// can still be hashed.
func parsePELayout(data []byte) (peLayout, error) {
	var l peLayout
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return l, fmt.Errorf("not a PE image")
	}
	peOff := int(binary.LittleEndian.Uint32(data[0x3C:0x40]))
	if peOff+4+20+2 > len(data) || data[peOff] != 'P' || data[peOff+1] != 'E' {
		return l, fmt.Errorf("PE header out of bounds")
	}

	optOff := peOff + 4 + 20
	l.ChecksumOffset = optOff + 64

	magic := binary.LittleEndian.Uint16(data[optOff : optOff+2])
	var dataDirOff int
	switch magic {
	case 0x10B: // PE32
		dataDirOff = optOff + 96
	case 0x20B: // PE32+
		dataDirOff = optOff + 112
	default:
		return l, fmt.Errorf("unrecognized optional-header magic %#x", magic)
	}

	// Certificate table is data directory entry 4
	l.CertEntryOffset = dataDirOff + 4*8
	if l.CertEntryOffset+8 <= len(data) {
		va := int(binary.LittleEndian.Uint32(data[l.CertEntryOffset : l.CertEntryOffset+4]))
		size := int(binary.LittleEndian.Uint32(data[l.CertEntryOffset+4 : l.CertEntryOffset+8]))
		// For the security directory the "virtual address" is a file offset.
		if va > 0 && size > 0 && va+size <= len(data) {
			l.CertDataOffset = va
			l.CertDataSize = size
		}
	}
	return l, nil
}

// ComputeAuthenticodeHash hashes data with the given algorithm, skipping
// the checksum field, the certificate-table directory entry, and the
// certificate data per the Authenticode specification.
func ComputeAuthenticodeHash(data []byte, algorithm string) (string, error) {
	layout, err := parsePELayout(data)
	if err != nil {
		return "", err
	}

	var h hash.Hash
	switch strings.ToLower(algorithm) {
	case "sha256", "sha-256":
		h = sha256.New()
	case "sha1", "sha-1":
		h = sha1.New()
	case "md5":
		h = md5.New()
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}

	writeRange := func(from, to int) {
		if from < 0 {
			from = 0
		}
		if to > len(data) {
			to = len(data)
		}
		if from < to {
			h.Write(data[from:to])
		}
	}

	pos := 0
	writeRange(pos, layout.ChecksumOffset)
	pos = layout.ChecksumOffset + 4

	if layout.CertEntryOffset > 0 {
		writeRange(pos, layout.CertEntryOffset)
		pos = layout.CertEntryOffset + 8
	}

	end := len(data)
	if layout.CertDataOffset > 0 {
		end = layout.CertDataOffset
	}
	writeRange(pos, end)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyAuthenticode analyzes the embedded (or detached) PKCS#7 blob of
// a PE image and fills the full SignatureResult, indicators included.
// pkcs7Data is the raw SignedData; data is the full PE image.
func verifyAuthenticode(data, pkcs7Data []byte, detached bool) model.SignatureResult {
	result := model.SignatureResult{
		Signed:        true,
		ValidityKnown: true,
		SignatureType: "authenticode",
		TrustLevel:    model.TrustUnknown,
	}
	if detached {
		result.SignatureType = "authenticode-detached"
	}

	info, err := parsePKCS7(pkcs7Data)
	if err != nil {
		result.StructureValid = false
		result.TrustLevel = model.TrustUntrusted
		result.Indicators = append(result.Indicators, model.Indicator{
			Type:        "invalid_structure",
			Severity:    model.SeverityCritical,
			Evidence:    err.Error(),
			Description: "PKCS#7 envelope could not be parsed",
		})
		return result
	}
	result.StructureValid = true
	result.SigningTime = info.SigningTime
	result.ExpectedDigest = hex.EncodeToString(info.MessageDigest)

	// Recompute the Authenticode hash. SHA-256 first, then SHA-1; a
	// digest algorithm named by the signature takes precedence.
	algos := []string{"sha256", "sha1"}
	if info.DigestAlgorithm != "" {
		algos = []string{info.DigestAlgorithm}
	}
	hashValid := false
	for _, algo := range algos {
		computed, err := ComputeAuthenticodeHash(data, algo)
		if err != nil {
			continue
		}
		result.ComputedDigest = computed
		if result.ExpectedDigest != "" && strings.EqualFold(computed, result.ExpectedDigest) {
			hashValid = true
			break
		}
	}
	if result.ExpectedDigest != "" && !hashValid {
		result.Indicators = append(result.Indicators, model.Indicator{
			Type:        "hash_mismatch",
			Severity:    model.SeverityCritical,
			Evidence:    fmt.Sprintf("expected %s, computed %s", result.ExpectedDigest, result.ComputedDigest),
			Description: "Authenticode hash does not match; file may be tampered",
		})
	}

	now := time.Now()
	for i, cert := range info.Certificates {
		ci := certificateInfo(cert, now)
		result.Certificates = append(result.Certificates, ci)

		if name, bad := knownBadThumbprint(ci.SHA1Thumbprint); bad {
			result.KnownBadMatch = true
			result.Indicators = append(result.Indicators, model.Indicator{
				Type:        "known_bad_certificate",
				Severity:    model.SeverityCritical,
				Evidence:    "thumbprint " + ci.SHA1Thumbprint,
				Description: "certificate matches known malicious certificate: " + name,
			})
		}

		algoLower := strings.ToLower(ci.SignatureAlgo)
		for _, weak := range weakAlgorithms {
			if strings.Contains(algoLower, weak) {
				result.Indicators = append(result.Indicators, model.Indicator{
					Type:        "weak_algorithm",
					Severity:    model.SeverityMedium,
					Evidence:    ci.SubjectDN,
					Description: "certificate uses weak signature algorithm " + ci.SignatureAlgo,
				})
				break
			}
		}

		if i == 0 {
			result.SignerName = ci.SubjectCN
			if result.SignerName == "" {
				result.SignerName = ci.SubjectDN
			}
			if !ci.CodeSigningEKU {
				result.Indicators = append(result.Indicators, model.Indicator{
					Type:        "missing_code_signing_eku",
					Severity:    model.SeverityHigh,
					Evidence:    fmt.Sprintf("EKUs present: %v", ci.ExtKeyUsage),
					Description: "signer certificate lacks the code-signing EKU",
				})
			}
			if ci.SelfSigned {
				result.Indicators = append(result.Indicators, model.Indicator{
					Type:        "self_signed_code_signing",
					Severity:    model.SeverityHigh,
					Evidence:    ci.SubjectDN,
					Description: "code-signing certificate is self-signed",
				})
			}
		}

		if !ci.TimeValid {
			result.Indicators = append(result.Indicators, model.Indicator{
				Type:        "expired_certificate",
				Severity:    model.SeverityMedium,
				Evidence:    fmt.Sprintf("valid %s to %s", ci.NotBefore.Format(time.RFC3339), ci.NotAfter.Format(time.RFC3339)),
				Description: "certificate is expired or not yet valid",
			})
		}
	}

	if !info.HasSPCIndirectData {
		result.Indicators = append(result.Indicators, model.Indicator{
			Type:        "missing_spc_indirect_data",
			Severity:    model.SeverityMedium,
			Evidence:    "expected OID 1.3.6.1.4.1.311.2.1.4",
			Description: "signature lacks SPC_INDIRECT_DATA; may not be valid Authenticode",
		})
	}
	if !info.HasCounterSignature && !info.HasRFC3161Timestamp && len(result.Certificates) > 0 {
		result.Indicators = append(result.Indicators, model.Indicator{
			Type:        "no_timestamp",
			Severity:    model.SeverityLow,
			Evidence:    "no counter-signature or RFC 3161 token",
			Description: "signature becomes invalid once the certificate expires",
		})
	}

	// Cryptographically valid: digest matches and the chain parsed.
	result.CryptographicValid = hashValid && len(result.Certificates) > 0
	result.TrustLevel = determineTrustLevel(result, hashValid)
	return result
}

// determineTrustLevel applies the four-valued trust policy.
func determineTrustLevel(r model.SignatureResult, hashValid bool) model.TrustLevel {
	for _, ind := range r.Indicators {
		if ind.Severity == model.SeverityCritical {
			return model.TrustUntrusted
		}
	}
	for _, ind := range r.Indicators {
		if ind.Severity == model.SeverityHigh {
			return model.TrustSuspicious
		}
	}
	if !r.ChainComplete() {
		return model.TrustUnknown
	}
	if hashValid {
		return model.TrustTrusted
	}
	return model.TrustUnknown
}
