package sample

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
)

// digests holds the three mandatory hashes computed over a sample's bytes.
type digests struct {
	SHA256 string
	SHA1   string
	MD5    string
}

func computeDigests(data []byte) digests {
	sum256 := sha256.Sum256(data)
	sum1 := sha1.Sum(data)
	sumMD5 := md5.Sum(data)
	return digests{
		SHA256: hex.EncodeToString(sum256[:]),
		SHA1:   hex.EncodeToString(sum1[:]),
		MD5:    hex.EncodeToString(sumMD5[:]),
	}
}

// shardPath returns the two-level shard prefix (ab, cd) from the first two
// byte pairs of a hex-encoded SHA-256 digest.
func shardPath(sha256Hex string) (ab, cd string) {
	if len(sha256Hex) < 4 {
		return "00", "00"
	}
	return sha256Hex[0:2], sha256Hex[2:4]
}
