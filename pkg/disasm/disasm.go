// Package disasm decodes machine code into the shared instruction model
// and partitions it into basic blocks. Decoding is a linear sweep built
// on golang.org/x/arch; undecodable bytes become explicit ".byte"
// placeholders so block boundaries stay aligned with the input.
package disasm

import (
	"sort"
	"strings"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// Arch selects the instruction set to decode.
type Arch string

const (
	ArchX86   Arch = "x86"
	ArchX8664 Arch = "x86-64"
	ArchARM   Arch = "arm"
	ArchARM64 Arch = "arm64"
)

// Syntax selects the text flavor of the decoded listing.
type Syntax string

const (
	SyntaxIntel Syntax = "intel"
	SyntaxATT   Syntax = "att"
)

// Disassemble decodes code at base into instructions.
func Disassemble(code []byte, base uint64, arch Arch, syntax Syntax) ([]model.Instruction, error) {
	if len(code) == 0 {
		return nil, analysiserr.New(analysiserr.InputError, "empty code buffer")
	}
	switch arch {
	case ArchX86:
		return decodeX86(code, base, 32, syntax), nil
	case ArchX8664, "":
		return decodeX86(code, base, 64, syntax), nil
	case ArchARM:
		return decodeARM(code, base), nil
	case ArchARM64:
		return decodeARM64(code, base), nil
	default:
		return nil, analysiserr.New(analysiserr.InputError, "unsupported architecture "+string(arch))
	}
}

// BuildBasicBlocks partitions instructions into basic blocks. A block
// begins at the entry, at every branch target, and immediately after
// every terminator; each block records its successor addresses.
func BuildBasicBlocks(instructions []model.Instruction) []model.BasicBlock {
	if len(instructions) == 0 {
		return nil
	}

	byAddr := make(map[uint64]int, len(instructions))
	for i, ins := range instructions {
		byAddr[ins.Address] = i
	}

	leaders := map[uint64]bool{instructions[0].Address: true}
	for i, ins := range instructions {
		if ins.BranchTarget != nil {
			if _, known := byAddr[*ins.BranchTarget]; known {
				leaders[*ins.BranchTarget] = true
			}
		}
		if isTerminator(ins) && i+1 < len(instructions) {
			leaders[instructions[i+1].Address] = true
		}
	}

	var leaderAddrs []uint64
	for addr := range leaders {
		leaderAddrs = append(leaderAddrs, addr)
	}
	sort.Slice(leaderAddrs, func(i, j int) bool { return leaderAddrs[i] < leaderAddrs[j] })

	var blocks []model.BasicBlock
	for bi, start := range leaderAddrs {
		startIdx := byAddr[start]
		endIdx := len(instructions)
		if bi+1 < len(leaderAddrs) {
			endIdx = byAddr[leaderAddrs[bi+1]]
		}
		// A terminator inside the range also ends the block.
		for i := startIdx; i < endIdx; i++ {
			if isTerminator(instructions[i]) {
				endIdx = i + 1
				break
			}
		}

		block := model.BasicBlock{
			ID:           len(blocks),
			Address:      start,
			Instructions: instructions[startIdx:endIdx],
		}
		block.Successors = blockSuccessors(block, instructions, endIdx)
		blocks = append(blocks, block)
	}
	return blocks
}

// blockSuccessors derives the successor addresses of a block from its
// final instruction.
func blockSuccessors(block model.BasicBlock, instructions []model.Instruction, endIdx int) []uint64 {
	last := block.Instructions[len(block.Instructions)-1]

	var fallthroughAddr *uint64
	if endIdx < len(instructions) {
		addr := instructions[endIdx].Address
		fallthroughAddr = &addr
	}

	switch {
	case last.IsReturn:
		return nil
	case last.IsCall:
		// Calls fall through; the callee is not an intra-function edge.
		if fallthroughAddr != nil {
			return []uint64{*fallthroughAddr}
		}
		return nil
	case last.IsBranch:
		var succ []uint64
		if last.BranchTarget != nil {
			succ = append(succ, *last.BranchTarget)
		}
		if IsConditionalBranch(last) && fallthroughAddr != nil {
			succ = append(succ, *fallthroughAddr)
		}
		return succ
	default:
		if fallthroughAddr != nil {
			return []uint64{*fallthroughAddr}
		}
		return nil
	}
}

// IsConditionalBranch reports whether ins branches on a condition.
func IsConditionalBranch(ins model.Instruction) bool {
	if !ins.IsBranch {
		return false
	}
	m := strings.ToLower(ins.Mnemonic)
	switch m {
	case "jmp", "ljmp", "b", "br":
		return false
	}
	return true
}

func isTerminator(ins model.Instruction) bool {
	return ins.IsBranch || ins.IsCall || ins.IsReturn
}
