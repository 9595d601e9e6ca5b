package execfmt

import (
	"strings"

	"github.com/marmos91/triage/pkg/model"
)

// suspiciousStringPatterns are lowercase substrings that commonly appear
// in droppers, ransomware notes, and persistence scripts.
var suspiciousStringPatterns = []string{
	"cmd.exe", "powershell", "wscript", "cscript",
	"reg add", "schtasks", "netsh", "bcdedit",
	"vssadmin", "wbadmin", "cipher", "del /f",
	"ransom", "bitcoin", "wallet", ".onion",
	"hkey_", "\\currentversion\\run", "\\services\\",
	"createremotethread", "virtualalloc", "writeprocessmemory",
	"setwindowshook", "getasynckeystate",
}

// ExtractStrings pulls printable ASCII and UTF-16LE runs of at least
// minLength characters out of data, categorizing and flagging each.
func ExtractStrings(data []byte, minLength int) []model.StringMatch {
	var out []model.StringMatch

	// ASCII runs
	start := -1
	for i := 0; i <= len(data); i++ {
		printable := i < len(data) && data[i] >= 0x20 && data[i] <= 0x7E
		if printable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if i-start >= minLength {
				s := string(data[start:i])
				out = append(out, model.StringMatch{
					Value:      s,
					Encoding:   "ascii",
					Offset:     int64(start),
					Category:   categorizeString(s),
					Suspicious: isSuspiciousString(s),
				})
			}
			start = -1
		}
	}

	// UTF-16LE runs: printable ASCII byte followed by a zero byte
	i := 0
	for i+1 < len(data) {
		if data[i] >= 0x20 && data[i] <= 0x7E && data[i+1] == 0 {
			runStart := i
			var sb strings.Builder
			for i+1 < len(data) && data[i] >= 0x20 && data[i] <= 0x7E && data[i+1] == 0 {
				sb.WriteByte(data[i])
				i += 2
			}
			if sb.Len() >= minLength {
				s := sb.String()
				out = append(out, model.StringMatch{
					Value:      s,
					Encoding:   "utf16le",
					Offset:     int64(runStart),
					Category:   categorizeString(s),
					Suspicious: isSuspiciousString(s),
				})
			}
			continue
		}
		i++
	}

	return out
}

func isSuspiciousString(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range suspiciousStringPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func categorizeString(s string) string {
	switch {
	case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
		return "url"
	case strings.HasPrefix(s, "HKEY_") || strings.HasPrefix(s, "HKLM\\") || strings.HasPrefix(s, "HKCU\\"):
		return "registry-key"
	case strings.HasPrefix(s, "\\\\") || (len(s) > 3 && s[1] == ':' && s[2] == '\\') || strings.HasPrefix(s, "/"):
		return "filepath"
	case looksLikeIPv4(s):
		return "ip"
	case strings.Contains(s, "@") && strings.Contains(s, "."):
		return "email"
	case strings.HasSuffix(s, ".exe") || strings.HasSuffix(s, ".dll") || strings.HasSuffix(s, ".sys"):
		return "executable"
	default:
		return "generic"
	}
}

// looksLikeIPv4 is a cheap dotted-quad test; it does not validate octet
// ranges beyond three digits.
func looksLikeIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
