package signature

import "strings"

// knownBadThumbprints maps lowercase SHA-1 thumbprints of certificates
// known to have signed malware to a short label. Loaded statically; a
// deployment would feed this from threat intelligence.
var knownBadThumbprints = map[string]string{
	// Stuxnet
	"01a992b159ed2ad469b8f49366f9fca1cd41a2fb": "Realtek Semiconductor (Stuxnet)",
	"30debe8fb5cb5d8cfe8a48d0c6c1cff8a063ec72": "JMicron Technology (Stuxnet)",
	// Flame
	"5cd79e5d0a65363e7a8bca3c4b9813b0cbc26de2": "MS Terminal Services (Flame)",
	// Compromised vendors
	"7d2b42ff2fca1dd7c1cd65d06e32e7d5877c6498": "Bit9 (compromised 2013)",
	"4e8c7a14a327ed434b6cbc7c64fe89456882b029": "D-Link (compromised)",
}

// knownBadThumbprint reports whether a SHA-1 thumbprint (hex, any case,
// optional colons) is on the blacklist.
func knownBadThumbprint(thumbprint string) (string, bool) {
	key := strings.ToLower(strings.ReplaceAll(thumbprint, ":", ""))
	name, ok := knownBadThumbprints[key]
	return name, ok
}
