package disasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// xor rax,rax; je +2; xor ecx,ecx; ret
var branchyCode = []byte{
	0x48, 0x31, 0xC0, // 0x00 xor rax,rax
	0x74, 0x02, // 0x03 je 0x07
	0x31, 0xC9, // 0x05 xor ecx,ecx
	0xC3, // 0x07 ret
}

func TestDisassembleX64(t *testing.T) {
	instructions, err := Disassemble(branchyCode, 0, ArchX8664, SyntaxIntel)
	require.NoError(t, err)
	require.Len(t, instructions, 4)

	require.Equal(t, "xor", instructions[0].Mnemonic)

	je := instructions[1]
	require.True(t, je.IsBranch)
	require.True(t, IsConditionalBranch(je))
	require.NotNil(t, je.BranchTarget)
	require.Equal(t, uint64(0x07), *je.BranchTarget)

	require.True(t, instructions[3].IsReturn)
}

func TestDisassembleWithBase(t *testing.T) {
	instructions, err := Disassemble(branchyCode, 0x401000, ArchX8664, SyntaxIntel)
	require.NoError(t, err)
	require.Equal(t, uint64(0x401000), instructions[0].Address)
	require.Equal(t, uint64(0x401007), *instructions[1].BranchTarget)
}

func TestBuildBasicBlocks(t *testing.T) {
	instructions, err := Disassemble(branchyCode, 0, ArchX8664, SyntaxIntel)
	require.NoError(t, err)

	blocks := BuildBasicBlocks(instructions)
	require.Len(t, blocks, 3)

	// Block 0 ends at the conditional branch: both edges present.
	require.Equal(t, uint64(0), blocks[0].Address)
	require.ElementsMatch(t, []uint64{0x07, 0x05}, blocks[0].Successors)

	// Fall-through block flows into the join.
	require.Equal(t, uint64(0x05), blocks[1].Address)
	require.Equal(t, []uint64{0x07}, blocks[1].Successors)

	// Return block has no successors.
	require.Equal(t, uint64(0x07), blocks[2].Address)
	require.Empty(t, blocks[2].Successors)
}

func TestDisassembleGarbageNeverPanics(t *testing.T) {
	garbage := []byte{0xFF, 0xFF, 0x06, 0x00, 0x00}
	instructions, err := Disassemble(garbage, 0, ArchX8664, SyntaxIntel)
	require.NoError(t, err)
	require.NotEmpty(t, instructions)

	// Addresses must stay contiguous even through filler bytes.
	var total int
	for _, ins := range instructions {
		require.Equal(t, uint64(total), ins.Address)
		total += ins.Length
	}
	require.Equal(t, len(garbage), total)
}

func TestDisassembleEmptyRejected(t *testing.T) {
	_, err := Disassemble(nil, 0, ArchX8664, SyntaxIntel)
	require.Error(t, err)
}
