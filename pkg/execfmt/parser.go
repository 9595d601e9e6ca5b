// Package execfmt dissects native executables (PE, ELF, Mach-O) into the
// shared report model: header, sections, imports, exports, strings,
// entropy, hashes, and structural anomalies.
//
// An unrecognized or corrupt input is never fatal: the report comes back
// with FormatUnknown and empty lists, and static analysis continues with
// strings and entropy alone.
package execfmt

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/entropy"
	"github.com/marmos91/triage/pkg/model"
)

// MaxFileSize is the hard cap for the static analyzer.
const MaxFileSize = 100 * 1024 * 1024

// Parse dissects data into an ExecutableReport. filename is used only for
// the report header; it must already be sanitized by the caller.
func Parse(data []byte, filename string) model.ExecutableReport {
	report := model.ExecutableReport{
		Filename: filename,
		Size:     int64(len(data)),
		Format:   model.FormatUnknown,
		Entropy:  entropy.Shannon(data),
	}

	report.Hashes = hashBundle(data)
	report.Strings = ExtractStrings(data, 6)

	switch detectFormat(data) {
	case model.FormatPE:
		parsePE(data, &report)
	case model.FormatELF:
		parseELF(data, &report)
	case model.FormatMachO:
		parseMachO(data, &report)
	default:
		report.Anomalies = append(report.Anomalies, model.Anomaly{
			Description: "unrecognized executable format",
			Severity:    "low",
		})
	}

	report.Hashes.Imphash = imphashFromImports(report.Imports)
	report.Signatures = detectMarkers(data, report)

	logger.Debug("executable parsed",
		logger.Filename(filename),
		logger.Format(string(report.Format)),
		logger.Entropy(report.Entropy))
	return report
}

// detectFormat dispatches on magic bytes.
func detectFormat(data []byte) model.ExecFormat {
	if len(data) < 4 {
		return model.FormatUnknown
	}
	if data[0] == 'M' && data[1] == 'Z' {
		return model.FormatPE
	}
	if data[0] == 0x7F && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		return model.FormatELF
	}
	switch magic32(data) {
	case 0xFEEDFACE, 0xFEEDFACF, 0xCEFAEDFE, 0xCFFAEDFE, 0xCAFEBABE, 0xBEBAFECA:
		return model.FormatMachO
	}
	return model.FormatUnknown
}

func magic32(data []byte) uint32 {
	return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
}

func hashBundle(data []byte) model.HashBundle {
	md5Sum := md5.Sum(data)
	sha1Sum := sha1.Sum(data)
	sha256Sum := sha256.Sum256(data)
	return model.HashBundle{
		MD5:    hex.EncodeToString(md5Sum[:]),
		SHA1:   hex.EncodeToString(sha1Sum[:]),
		SHA256: hex.EncodeToString(sha256Sum[:]),
	}
}

// imphashFromImports flattens the report's import set back into the
// map form Imphash expects.
func imphashFromImports(imports []model.Import) string {
	if len(imports) == 0 {
		return ""
	}
	m := make(map[string][]string, len(imports))
	for _, imp := range imports {
		m[imp.Library] = append(m[imp.Library], imp.Functions...)
	}
	return Imphash(m)
}

// detectMarkers scans for packer and anti-debug markers.
func detectMarkers(data []byte, report model.ExecutableReport) []model.DetectedSignature {
	var sigs []model.DetectedSignature

	for _, sec := range report.Sections {
		lower := strings.ToLower(sec.Name)
		for _, prefix := range packerSectionPrefixes {
			if strings.HasPrefix(lower, prefix) {
				sigs = append(sigs, model.DetectedSignature{
					Name:     "packer-section",
					Category: "packer",
					Evidence: sec.Name,
				})
				break
			}
		}
	}

	if containsPattern(data, []byte("UPX!")) {
		sigs = append(sigs, model.DetectedSignature{
			Name:     "upx-magic",
			Category: "packer",
			Evidence: "UPX! marker in file body",
		})
	}

	antiDebug := map[string]bool{
		"isdebuggerpresent": true, "checkremotedebuggerpresent": true,
		"ntqueryinformationprocess": true, "ptrace": true,
	}
	for _, imp := range report.Imports {
		for _, fn := range imp.Functions {
			if antiDebug[strings.ToLower(fn)] {
				sigs = append(sigs, model.DetectedSignature{
					Name:     "anti-debug-import",
					Category: "anti-debug",
					Evidence: imp.Library + "." + fn,
				})
			}
		}
	}
	return sigs
}

func containsPattern(data, pattern []byte) bool {
	if len(pattern) == 0 || len(data) < len(pattern) {
		return false
	}
	for i := 0; i+len(pattern) <= len(data); i++ {
		if data[i] == pattern[0] && string(data[i:i+len(pattern)]) == string(pattern) {
			return true
		}
	}
	return false
}
