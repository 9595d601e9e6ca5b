package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/marmos91/triage/pkg/model"
)

// x86ConditionalOps is the Jcc family.
var x86ConditionalOps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JCXZ: true, x86asm.JE: true, x86asm.JECXZ: true, x86asm.JG: true,
	x86asm.JGE: true, x86asm.JL: true, x86asm.JLE: true, x86asm.JNE: true,
	x86asm.JNO: true, x86asm.JNP: true, x86asm.JNS: true, x86asm.JO: true,
	x86asm.JP: true, x86asm.JRCXZ: true, x86asm.JS: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

var x86ReturnOps = map[x86asm.Op]bool{
	x86asm.RET: true, x86asm.LRET: true, x86asm.IRET: true,
	x86asm.IRETD: true, x86asm.IRETQ: true,
}

// decodeX86 linearly sweeps code in 32- or 64-bit mode. Undecodable
// bytes are emitted one at a time as ".byte" so following instructions
// keep their addresses.
func decodeX86(code []byte, base uint64, mode int, syntax Syntax) []model.Instruction {
	var out []model.Instruction
	pc := 0
	for pc < len(code) {
		addr := base + uint64(pc)
		inst, err := x86asm.Decode(code[pc:], mode)
		if err != nil || inst.Len == 0 {
			out = append(out, byteFiller(code[pc], addr))
			pc++
			continue
		}

		var text string
		if syntax == SyntaxATT {
			text = x86asm.GNUSyntax(inst, addr, nil)
		} else {
			text = x86asm.IntelSyntax(inst, addr, nil)
		}

		mnemonic, operands := splitText(text)
		isCall := inst.Op == x86asm.CALL || inst.Op == x86asm.LCALL
		isRet := x86ReturnOps[inst.Op]
		isBranch := inst.Op == x86asm.JMP || inst.Op == x86asm.LJMP || x86ConditionalOps[inst.Op]

		decoded := model.Instruction{
			Address:  addr,
			Bytes:    code[pc : pc+inst.Len],
			Mnemonic: mnemonic,
			Operands: operands,
			Text:     text,
			Length:   inst.Len,
			IsBranch: isBranch,
			IsCall:   isCall,
			IsReturn: isRet,
		}

		if isBranch || isCall {
			if rel, ok := inst.Args[0].(x86asm.Rel); ok {
				target := addr + uint64(inst.Len) + uint64(int64(rel))
				decoded.BranchTarget = &target
			}
		}

		out = append(out, decoded)
		pc += inst.Len
	}
	return out
}

func byteFiller(b byte, addr uint64) model.Instruction {
	return model.Instruction{
		Address:  addr,
		Bytes:    []byte{b},
		Mnemonic: ".byte",
		Operands: []string{fmt.Sprintf("0x%02x", b)},
		Text:     fmt.Sprintf(".byte 0x%02x", b),
		Length:   1,
	}
}

// splitText separates a rendered instruction into mnemonic and operand
// list.
func splitText(text string) (string, []string) {
	mnemonic, rest, found := strings.Cut(text, " ")
	mnemonic = strings.ToLower(mnemonic)
	if !found || rest == "" {
		return mnemonic, nil
	}
	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return mnemonic, parts
}
