package emulator

import (
	"sort"

	"github.com/marmos91/triage/pkg/model"
)

// minRegionBytes rejects coalesced write regions too small to be code.
const minRegionBytes = 16

// codeBytePairs are two-byte sequences common at the start of x86/x64
// instructions; five or more hits mark a region as code-like.
var codeBytePairs = [][2]byte{
	{0x55, 0x48}, // push rbp; rex.W
	{0x48, 0x89}, // mov r/m64, r64
	{0x48, 0x8B}, // mov r64, r/m64
	{0x83, 0xEC}, // sub esp, imm8
	{0x89, 0xE5}, // mov ebp, esp
	{0x55, 0x89}, // push ebp; mov
}

// codeLeadBytes are single opcodes whose presence (with any following
// byte) counts toward the pattern score.
var codeLeadBytes = map[byte]bool{
	0xC3: true, // ret
	0xC2: true, // ret imm16
	0xE8: true, // call rel32
	0xE9: true, // jmp rel32
	0x74: true, // jz rel8
	0x75: true, // jnz rel8
	0x31: true, // xor r/m, r
	0x33: true, // xor r, r/m
}

// DetectUnpackedCode aggregates all memory writes in a trace, coalesces
// them into contiguous regions (gaps up to 16 bytes are zero-filled),
// and returns the highest-scoring code-like region's bytes. Score is
// bytes times two when the region shows at least five code patterns.
func DetectUnpackedCode(trace []model.TraceEntry) []byte {
	writeMap := make(map[uint64]byte)
	for _, entry := range trace {
		for _, w := range entry.MemoryWrites {
			for i, b := range w.Data {
				writeMap[w.Address+uint64(i)] = b
			}
		}
	}
	if len(writeMap) == 0 {
		return nil
	}

	addresses := make([]uint64, 0, len(writeMap))
	for addr := range writeMap {
		addresses = append(addresses, addr)
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })

	var regions []model.UnpackedRegion
	start := addresses[0]
	var bytes []byte
	for _, addr := range addresses {
		if len(bytes) == 0 || addr <= start+uint64(len(bytes))+16 {
			for start+uint64(len(bytes)) < addr {
				bytes = append(bytes, 0)
			}
			bytes = append(bytes, writeMap[addr])
			continue
		}
		regions = append(regions, model.UnpackedRegion{Address: start, Bytes: bytes})
		start = addr
		bytes = []byte{writeMap[addr]}
	}
	regions = append(regions, model.UnpackedRegion{Address: start, Bytes: bytes})

	var best []byte
	bestScore := 0
	for _, region := range regions {
		if len(region.Bytes) < minRegionBytes {
			continue
		}
		score := len(region.Bytes)
		if hasCodePatterns(region.Bytes) {
			score *= 2
		}
		if score > bestScore {
			bestScore = score
			best = region.Bytes
		}
	}
	return best
}

// hasCodePatterns counts hits against the common-pair tables.
func hasCodePatterns(bytes []byte) bool {
	if len(bytes) < 4 {
		return false
	}
	count := 0
	for i := 0; i+1 < len(bytes); i++ {
		if codeLeadBytes[bytes[i]] {
			count++
			continue
		}
		for _, pair := range codeBytePairs {
			if bytes[i] == pair[0] && bytes[i+1] == pair[1] {
				count++
				break
			}
		}
	}
	return count >= 5
}
