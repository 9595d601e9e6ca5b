package cfg

import (
	"strconv"
	"strings"

	"github.com/marmos91/triage/pkg/model"
)

// IndirectJumpKind classifies an indirect transfer.
type IndirectJumpKind string

const (
	IndirectJumpJump   IndirectJumpKind = "jump"
	IndirectJumpCall   IndirectJumpKind = "call"
	IndirectJumpReturn IndirectJumpKind = "return"
)

// IndirectJump is a block terminator whose target is computed at run
// time: jmp/call through memory or register, or any return.
type IndirectJump struct {
	SourceBlock     int
	Address         uint64
	Kind            IndirectJumpKind
	PossibleTargets []uint64
}

// FindIndirectJumps scans each block's terminator for computed-target
// forms.
func FindIndirectJumps(g *model.ControlFlowGraph) []IndirectJump {
	var jumps []IndirectJump
	for id, block := range g.Blocks {
		if len(block.Instructions) == 0 {
			continue
		}
		last := block.Instructions[len(block.Instructions)-1]
		m := strings.ToLower(last.Mnemonic)
		operands := strings.ToLower(strings.Join(last.Operands, ","))

		indirect := false
		kind := IndirectJumpJump
		switch {
		case m == "ret" || m == "retf":
			indirect = true
			kind = IndirectJumpReturn
		case m == "call" && (strings.Contains(operands, "[") || strings.Contains(operands, "*")):
			indirect = true
			kind = IndirectJumpCall
		case m == "jmp" && (strings.Contains(operands, "[") || strings.Contains(operands, "*")):
			indirect = true
		}
		if !indirect {
			continue
		}

		jumps = append(jumps, IndirectJump{
			SourceBlock:     id,
			Address:         last.Address,
			Kind:            kind,
			PossibleTargets: possibleTargets(block),
		})
	}
	return jumps
}

// possibleTargets is a shallow heuristic: scan the block's last ten
// instructions for mov/lea immediates that parse as addresses.
func possibleTargets(block model.BasicBlock) []uint64 {
	var targets []uint64
	count := 0
	for i := len(block.Instructions) - 1; i >= 0 && count < 10; i-- {
		ins := block.Instructions[i]
		count++
		m := strings.ToLower(ins.Mnemonic)
		if m != "mov" && m != "lea" {
			continue
		}
		if len(ins.Operands) < 2 {
			continue
		}
		if addr, ok := parseAddress(ins.Operands[1]); ok {
			targets = append(targets, addr)
		}
	}
	return targets
}

// parseAddress accepts 0x-prefixed hex, bare hex with a trailing h, and
// plain decimal.
func parseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}
	if strings.HasSuffix(s, "h") {
		v, err := strconv.ParseUint(strings.TrimSuffix(s, "h"), 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}
