package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/marmos91/triage/pkg/model"
)

// decodeARM sweeps 32-bit ARM code (A32 encoding, 4-byte units).
func decodeARM(code []byte, base uint64) []model.Instruction {
	var out []model.Instruction
	for pc := 0; pc+4 <= len(code); pc += 4 {
		addr := base + uint64(pc)
		inst, err := armasm.Decode(code[pc:pc+4], armasm.ModeARM)
		if err != nil {
			out = append(out, wordFiller(code[pc:pc+4], addr))
			continue
		}

		text := armasm.GNUSyntax(inst)
		mnemonic, operands := splitText(text)

		op := strings.ToUpper(inst.Op.String())
		isCall := strings.HasPrefix(op, "BL")
		isRet := op == "BX" && len(inst.Args) > 0 && fmt.Sprint(inst.Args[0]) == "LR"
		isBranch := !isCall && !isRet &&
			(op == "B" || strings.HasPrefix(op, "B.") || strings.HasPrefix(op, "B_"))

		decoded := model.Instruction{
			Address:  addr,
			Bytes:    code[pc : pc+4],
			Mnemonic: mnemonic,
			Operands: operands,
			Text:     text,
			Length:   4,
			IsBranch: isBranch,
			IsCall:   isCall,
			IsReturn: isRet,
		}

		if isBranch || isCall {
			for _, arg := range inst.Args {
				if rel, ok := arg.(armasm.PCRel); ok {
					// ARM PC reads as current instruction + 8.
					target := addr + 8 + uint64(int64(rel))
					decoded.BranchTarget = &target
					break
				}
			}
		}
		out = append(out, decoded)
	}
	return out
}

// decodeARM64 sweeps A64 code (fixed 4-byte instructions).
func decodeARM64(code []byte, base uint64) []model.Instruction {
	var out []model.Instruction
	for pc := 0; pc+4 <= len(code); pc += 4 {
		addr := base + uint64(pc)
		inst, err := arm64asm.Decode(code[pc : pc+4])
		if err != nil {
			out = append(out, wordFiller(code[pc:pc+4], addr))
			continue
		}

		text := arm64asm.GNUSyntax(inst)
		mnemonic, operands := splitText(text)

		op := strings.ToUpper(inst.Op.String())
		isCall := op == "BL" || op == "BLR"
		isRet := op == "RET"
		isBranch := !isCall && !isRet &&
			(op == "B" || op == "BR" || op == "CBZ" || op == "CBNZ" ||
				op == "TBZ" || op == "TBNZ" || strings.HasPrefix(mnemonic, "b."))

		decoded := model.Instruction{
			Address:  addr,
			Bytes:    code[pc : pc+4],
			Mnemonic: mnemonic,
			Operands: operands,
			Text:     text,
			Length:   4,
			IsBranch: isBranch,
			IsCall:   isCall,
			IsReturn: isRet,
		}

		if isBranch || isCall {
			for _, arg := range inst.Args {
				if rel, ok := arg.(arm64asm.PCRel); ok {
					target := addr + uint64(int64(rel))
					decoded.BranchTarget = &target
					break
				}
			}
		}
		out = append(out, decoded)
	}
	return out
}

func wordFiller(word []byte, addr uint64) model.Instruction {
	v := binary.LittleEndian.Uint32(word)
	return model.Instruction{
		Address:  addr,
		Bytes:    append([]byte(nil), word...),
		Mnemonic: ".word",
		Operands: []string{fmt.Sprintf("0x%08x", v)},
		Text:     fmt.Sprintf(".word 0x%08x", v),
		Length:   4,
	}
}
