package execfmt

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// packerSectionPrefixes are section/segment names conventionally produced
// by common packers.
var packerSectionPrefixes = []string{
	"upx", "upx0", "upx1", "upx2", ".aspack", ".adata", "petite", ".packed",
	".nsp0", ".nsp1", ".nsp2", "fsg!", ".mpress", "pec1", "pec2", ".themida",
}

// sensitiveAPIs are imported function names that commonly co-occur with
// malicious behavior (process injection, credential access, evasion).
var sensitiveAPIs = map[string]bool{
	"virtualallocex": true, "writeprocessmemory": true, "createremotethread": true,
	"ntunmapviewofsection": true, "setwindowshookexa": true, "setwindowshookexw": true,
	"isdebuggerpresent": true, "checkremotedebuggerpresent": true, "ntqueryinformationprocess": true,
	"cryptencrypt": true, "cryptdecrypt": true, "internetopena": true, "internetopenurla": true,
	"urldownloadtofilea": true, "winexec": true, "shellexecutea": true, "getasynckeystate": true,
	"ptrace": true, "execve": true, "dlopen": true, "mprotect": true,
}

// sectionSuspicious reports whether a section's name, entropy, or
// characteristics mark it suspicious: entropy above 7.0, writable and
// executable at once, or a known packer name.
func sectionSuspicious(name string, entropyVal float64, writable, executable bool) bool {
	if entropyVal > 7.0 {
		return true
	}
	if writable && executable {
		return true
	}
	lower := strings.ToLower(name)
	for _, prefix := range packerSectionPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// importSuspicious reports whether a function name is a known-sensitive
// API.
func importSuspicious(funcName string) bool {
	return sensitiveAPIs[strings.ToLower(funcName)]
}

// Imphash computes MD5 over the sorted, comma-separated, all-lowercase
// "lib.func" list, empty when there are no imports.
func Imphash(libToFuncs map[string][]string) string {
	var pairs []string
	for lib, funcs := range libToFuncs {
		libLower := strings.ToLower(stripExt(lib))
		for _, fn := range funcs {
			pairs = append(pairs, libLower+"."+strings.ToLower(fn))
		}
	}
	if len(pairs) == 0 {
		return ""
	}
	sort.Strings(pairs)
	joined := strings.Join(pairs, ",")
	sum := md5.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// stripExt removes a trailing ".dll", ".exe", ".ocx" or ".sys" extension from a
// library name used in import-hash computation, matching the conventional
// imphash algorithm's normalization.
func stripExt(lib string) string {
	lower := strings.ToLower(lib)
	for _, ext := range []string{".dll", ".exe", ".ocx", ".sys"} {
		if strings.HasSuffix(lower, ext) {
			return lower[:len(lower)-len(ext)]
		}
	}
	return lower
}
