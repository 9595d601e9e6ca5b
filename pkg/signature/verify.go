// Package signature verifies digital signatures on native executables:
// Authenticode (embedded or detached) for PE images and detached or
// section-embedded PGP signatures for ELF binaries. Verification never
// aborts the enclosing file analysis; every failure mode degrades to a
// populated SignatureResult.
package signature

import (
	"encoding/binary"
	"errors"
	"os"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/model"
)

var (
	errTooSmall = errors.New("PKCS#7 data too small")
	errNotPKCS7 = errors.New("no PKCS#7 structure recognized")
)

// Verify dispatches on the executable format. path may be empty when
// the sample has no on-disk location (detached-signature discovery is
// skipped then).
func Verify(format model.ExecFormat, data []byte, path string) model.SignatureResult {
	switch format {
	case model.FormatPE:
		return VerifyPE(data, path)
	case model.FormatELF:
		return VerifyELF(data, path)
	default:
		return model.SignatureResult{TrustLevel: model.TrustUnsigned, ValidityKnown: true}
	}
}

// VerifyPE checks a PE image for an Authenticode signature: detached
// .p7s/.sig files first, then the embedded certificate table.
func VerifyPE(data []byte, path string) model.SignatureResult {
	if path != "" {
		for _, ext := range []string{".p7s", ".sig"} {
			if sigData, err := os.ReadFile(path + ext); err == nil {
				logger.Debug("using detached signature", logger.Filename(baseName(path)+ext))
				return verifyAuthenticode(data, sigData, true)
			}
		}
	}

	layout, err := parsePELayout(data)
	if err != nil || layout.CertDataOffset == 0 {
		return model.SignatureResult{TrustLevel: model.TrustUnsigned, ValidityKnown: true}
	}

	// WIN_CERTIFICATE: dwLength(4) wRevision(2) wCertificateType(2),
	// then the PKCS#7 body.
	certData := data[layout.CertDataOffset : layout.CertDataOffset+layout.CertDataSize]
	if len(certData) < 8 {
		res := model.SignatureResult{
			Signed:        true,
			ValidityKnown: true,
			SignatureType: "authenticode",
			TrustLevel:    model.TrustUntrusted,
		}
		res.Indicators = append(res.Indicators, model.Indicator{
			Type:        "invalid_structure",
			Severity:    model.SeverityCritical,
			Evidence:    "certificate table shorter than WIN_CERTIFICATE header",
			Description: "truncated certificate table",
		})
		return res
	}
	declared := int(binary.LittleEndian.Uint32(certData[0:4]))
	if declared > len(certData) {
		declared = len(certData)
	}
	if declared < 8 {
		declared = 8
	}
	return verifyAuthenticode(data, certData[8:declared], false)
}

// baseName strips directories from a path without importing path/filepath
// into error-visible strings; raw paths must never leak in messages.
func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
