// Package ir lowers disassembled x86/x64 instructions into a small
// intermediate representation, simplifies it (identity and constant
// folding), and recovers high-level control structures into C-like
// pseudocode.
//
// The recovery is approximate, not sound: conditions are flag-name
// expressions, loops are recognized only as while (never do/while), and
// the calling-convention inference is a best-effort heuristic surfaced
// as an annotation in the output.
package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// Size guards reject pathological inputs before any allocation blowup.
const (
	MaxBlocks       = 100_000
	MaxInstructions = 1_000_000
)

// CallingConvention is the heuristically-inferred convention of the
// lowered function.
type CallingConvention string

const (
	ConvSystemV CallingConvention = "sysv-amd64"
	ConvWin64   CallingConvention = "win64"
	ConvCdecl   CallingConvention = "cdecl"
)

// Lowerer converts basic blocks to IR. It tracks every register name it
// has seen so the calling-convention heuristic can run over the whole
// session.
type Lowerer struct {
	seenVars    map[string]bool
	tempCounter int
}

// NewLowerer returns a fresh lowering session.
func NewLowerer() *Lowerer {
	return &Lowerer{seenVars: make(map[string]bool)}
}

// Lower converts blocks into a Function keyed by block address.
func (l *Lowerer) Lower(name string, blocks []model.BasicBlock) (model.Function, error) {
	if len(blocks) > MaxBlocks {
		return model.Function{}, analysiserr.New(analysiserr.ResourceError, "block count exceeds lowering guard")
	}
	total := 0
	for _, b := range blocks {
		total += len(b.Instructions)
	}
	if total > MaxInstructions {
		return model.Function{}, analysiserr.New(analysiserr.ResourceError, "instruction count exceeds lowering guard")
	}

	fn := model.Function{
		Name: name,
		Body: make(map[uint64][]model.Statement, len(blocks)),
	}
	if len(blocks) > 0 {
		fn.Entry = blocks[0].Address
	}
	for _, b := range blocks {
		var stmts []model.Statement
		for _, ins := range b.Instructions {
			stmts = append(stmts, l.lowerInstruction(ins)...)
		}
		fn.Body[b.Address] = stmts
		fn.Order = append(fn.Order, b.Address)
	}
	return fn, nil
}

// Convention reports the calling convention inferred from the registers
// seen so far.
func (l *Lowerer) Convention() CallingConvention {
	if l.seenVars["rdi"] || l.seenVars["rsi"] {
		return ConvSystemV
	}
	for name := range l.seenVars {
		// Stack and instruction pointers appear in every lowering and
		// carry no convention signal.
		if name == "rsp" || name == "rbp" || name == "rip" {
			continue
		}
		if strings.HasPrefix(name, "r") && len(name) >= 2 && len(name) <= 3 {
			return ConvWin64
		}
	}
	for name := range l.seenVars {
		if strings.HasPrefix(name, "e") && len(name) == 3 {
			return ConvCdecl
		}
	}
	return ConvSystemV
}

// argRegisters returns the argument registers of the inferred
// convention; cdecl passes on the stack so the list is empty.
func (l *Lowerer) argRegisters() []string {
	switch l.Convention() {
	case ConvWin64:
		return []string{"rcx", "rdx", "r8", "r9"}
	case ConvCdecl:
		return nil
	default:
		return []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	}
}

func (l *Lowerer) returnRegister() string {
	if l.Convention() == ConvCdecl {
		return "eax"
	}
	return "rax"
}

// lowerInstruction maps one instruction to IR statements.
func (l *Lowerer) lowerInstruction(ins model.Instruction) []model.Statement {
	m := strings.ToLower(ins.Mnemonic)
	ops := ins.Operands

	switch {
	case m == "nop" || m == "fnop":
		return nil

	case strings.HasPrefix(m, "movzx") || strings.HasPrefix(m, "movsx"):
		return l.moveStmt(ins, ops)
	case strings.HasPrefix(m, "movs") || strings.HasPrefix(m, "stos") ||
		strings.HasPrefix(m, "lods") || strings.HasPrefix(m, "scas") ||
		strings.HasPrefix(m, "cmps"):
		return l.commentStmt(ins, m+" string operation")
	case strings.HasPrefix(m, "mov") && !strings.HasPrefix(m, "cmov"):
		return l.moveStmt(ins, ops)
	case strings.HasPrefix(m, "lea"):
		return l.leaStmt(ins, ops)
	case strings.HasPrefix(m, "push"):
		return l.pushStmt(ins, ops)
	case strings.HasPrefix(m, "pop"):
		return l.popStmt(ins, ops)
	case strings.HasPrefix(m, "xchg"):
		return l.exchangeStmt(ins, ops)
	case m == "leave":
		return l.leaveStmt(ins)

	case strings.HasPrefix(m, "add"):
		return l.binaryStmt(ins, ops, model.OpAdd)
	case strings.HasPrefix(m, "sub"):
		return l.binaryStmt(ins, ops, model.OpSub)
	case strings.HasPrefix(m, "imul") || strings.HasPrefix(m, "mul"):
		return l.binaryStmt(ins, ops, model.OpMul)
	case strings.HasPrefix(m, "idiv") || strings.HasPrefix(m, "div"):
		return l.binaryStmt(ins, ops, model.OpDiv)
	case strings.HasPrefix(m, "inc"):
		return l.incDecStmt(ins, ops, model.OpAdd)
	case strings.HasPrefix(m, "dec"):
		return l.incDecStmt(ins, ops, model.OpSub)
	case strings.HasPrefix(m, "neg"):
		return l.unaryStmt(ins, ops, model.OpNeg)

	case strings.HasPrefix(m, "and"):
		return l.binaryStmt(ins, ops, model.OpAnd)
	case strings.HasPrefix(m, "xor"):
		return l.binaryStmt(ins, ops, model.OpXor)
	case strings.HasPrefix(m, "or"):
		return l.binaryStmt(ins, ops, model.OpOr)
	case strings.HasPrefix(m, "not"):
		return l.unaryStmt(ins, ops, model.OpNot)
	case strings.HasPrefix(m, "shl") || strings.HasPrefix(m, "sal"):
		return l.binaryStmt(ins, ops, model.OpShl)
	case strings.HasPrefix(m, "shr"):
		return l.binaryStmt(ins, ops, model.OpShr)
	case strings.HasPrefix(m, "sar"):
		return l.binaryStmt(ins, ops, model.OpSar)
	case strings.HasPrefix(m, "rol") || strings.HasPrefix(m, "ror"):
		// Rotates approximate to shifts.
		return l.binaryStmt(ins, ops, model.OpShl)

	case strings.HasPrefix(m, "cmp"):
		return l.flagsStmt(ins, ops, model.OpSub)
	case strings.HasPrefix(m, "test"):
		return l.flagsStmt(ins, ops, model.OpAnd)

	case strings.HasPrefix(m, "call"):
		return l.callStmt(ins)
	case strings.HasPrefix(m, "ret"):
		return []model.Statement{{Kind: model.StmtReturn, Address: ins.Address}}
	case m == "jmp":
		if ins.BranchTarget != nil {
			return []model.Statement{{Kind: model.StmtBranch, Target: *ins.BranchTarget, Address: ins.Address}}
		}
		return l.commentStmt(ins, "indirect jump")
	case strings.HasPrefix(m, "j"):
		return l.condBranchStmt(ins, m)

	case strings.HasPrefix(m, "cmov"):
		return l.moveStmt(ins, ops)
	case strings.HasPrefix(m, "set"):
		return l.setccStmt(ins, ops, m)
	case m == "cdq" || m == "cqo" || m == "cwd":
		return l.signExtendStmt(ins)

	default:
		return l.commentStmt(ins, ins.Text)
	}
}

// parseValue converts an operand string into an IR value: hex/decimal
// immediates become constants, bracketed forms become loads, anything
// else a variable.
func (l *Lowerer) parseValue(s string) model.IRValue {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner := l.parseValue(s[1 : len(s)-1])
		return model.Expr(model.OpLoad, inner)
	}
	// Strip size hints the Intel syntax prepends to memory operands.
	for _, prefix := range []string{"byte ptr ", "word ptr ", "dword ptr ", "qword ptr ", "xmmword ptr "} {
		if strings.HasPrefix(s, prefix) {
			return l.parseValue(strings.TrimPrefix(s, prefix))
		}
	}
	if strings.HasPrefix(s, "0x") {
		if v, err := strconv.ParseInt(s[2:], 16, 64); err == nil {
			return model.Const(v)
		}
		if v, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
			return model.Const(int64(v))
		}
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.Const(v)
	}
	return l.variable(s)
}

func (l *Lowerer) variable(name string) model.IRValue {
	name = strings.TrimSpace(name)
	l.seenVars[strings.ToLower(name)] = true
	return model.Var(name, 8)
}

func (l *Lowerer) nextTemp() model.IRValue {
	l.tempCounter++
	v := model.Var(fmt.Sprintf("t%d", l.tempCounter), 8)
	v.IsTemp = true
	return v
}

// isMemory reports whether an operand addresses memory.
func isMemory(s string) bool {
	return strings.Contains(s, "[")
}

func (l *Lowerer) moveStmt(ins model.Instruction, ops []string) []model.Statement {
	if len(ops) != 2 {
		return l.commentStmt(ins, ins.Text)
	}
	src := l.parseValue(ops[1])
	if isMemory(ops[0]) {
		addr := l.parseValue(strings.Trim(stripSizeHint(ops[0]), "[]"))
		return []model.Statement{{Kind: model.StmtStore, Addr: &addr, Val: &src, Address: ins.Address}}
	}
	dest := l.variable(ops[0])
	return []model.Statement{{Kind: model.StmtAssign, Dest: &dest, Src: &src, Address: ins.Address}}
}

func stripSizeHint(s string) string {
	if i := strings.Index(s, "ptr "); i >= 0 {
		return strings.TrimSpace(s[i+4:])
	}
	return strings.TrimSpace(s)
}

func (l *Lowerer) leaStmt(ins model.Instruction, ops []string) []model.Statement {
	if len(ops) != 2 {
		return l.commentStmt(ins, ins.Text)
	}
	dest := l.variable(ops[0])
	// lea computes the address, it never loads through it.
	src := l.parseValue(strings.Trim(stripSizeHint(ops[1]), "[]"))
	return []model.Statement{{Kind: model.StmtAssign, Dest: &dest, Src: &src, Address: ins.Address}}
}

// pushStmt lowers push to SP arithmetic plus the memory write.
func (l *Lowerer) pushStmt(ins model.Instruction, ops []string) []model.Statement {
	if len(ops) != 1 {
		return l.commentStmt(ins, ins.Text)
	}
	sp := l.variable("rsp")
	newSP := model.Expr(model.OpSub, sp, model.Const(8))
	val := l.parseValue(ops[0])
	return []model.Statement{
		{Kind: model.StmtAssign, Dest: &sp, Src: &newSP, Address: ins.Address},
		{Kind: model.StmtStore, Addr: &sp, Val: &val, Address: ins.Address},
	}
}

// popStmt lowers pop to the memory read plus SP arithmetic.
func (l *Lowerer) popStmt(ins model.Instruction, ops []string) []model.Statement {
	if len(ops) != 1 {
		return l.commentStmt(ins, ins.Text)
	}
	sp := l.variable("rsp")
	dest := l.variable(ops[0])
	load := model.Expr(model.OpLoad, sp)
	add := model.Expr(model.OpAdd, sp, model.Const(8))
	return []model.Statement{
		{Kind: model.StmtAssign, Dest: &dest, Src: &load, Address: ins.Address},
		{Kind: model.StmtAssign, Dest: &sp, Src: &add, Address: ins.Address},
	}
}

// exchangeStmt lowers xchg through a temporary.
func (l *Lowerer) exchangeStmt(ins model.Instruction, ops []string) []model.Statement {
	if len(ops) != 2 {
		return l.commentStmt(ins, ins.Text)
	}
	tmp := l.nextTemp()
	a := l.variable(ops[0])
	b := l.variable(ops[1])
	return []model.Statement{
		{Kind: model.StmtAssign, Dest: &tmp, Src: &a, Address: ins.Address},
		{Kind: model.StmtAssign, Dest: &a, Src: &b, Address: ins.Address},
		{Kind: model.StmtAssign, Dest: &b, Src: &tmp, Address: ins.Address},
	}
}

// leaveStmt is mov rsp, rbp; pop rbp.
func (l *Lowerer) leaveStmt(ins model.Instruction) []model.Statement {
	rsp := l.variable("rsp")
	rbp := l.variable("rbp")
	load := model.Expr(model.OpLoad, rsp)
	add := model.Expr(model.OpAdd, rsp, model.Const(8))
	return []model.Statement{
		{Kind: model.StmtAssign, Dest: &rsp, Src: &rbp, Address: ins.Address},
		{Kind: model.StmtAssign, Dest: &rbp, Src: &load, Address: ins.Address},
		{Kind: model.StmtAssign, Dest: &rsp, Src: &add, Address: ins.Address},
	}
}

func (l *Lowerer) binaryStmt(ins model.Instruction, ops []string, op model.IROpcode) []model.Statement {
	if len(ops) != 2 {
		return l.commentStmt(ins, ins.Text)
	}
	dest := l.variable(ops[0])
	expr := model.Expr(op, dest, l.parseValue(ops[1]))
	return []model.Statement{{Kind: model.StmtAssign, Dest: &dest, Src: &expr, Address: ins.Address}}
}

func (l *Lowerer) incDecStmt(ins model.Instruction, ops []string, op model.IROpcode) []model.Statement {
	if len(ops) != 1 {
		return l.commentStmt(ins, ins.Text)
	}
	dest := l.variable(ops[0])
	expr := model.Expr(op, dest, model.Const(1))
	return []model.Statement{{Kind: model.StmtAssign, Dest: &dest, Src: &expr, Address: ins.Address}}
}

func (l *Lowerer) unaryStmt(ins model.Instruction, ops []string, op model.IROpcode) []model.Statement {
	if len(ops) != 1 {
		return l.commentStmt(ins, ins.Text)
	}
	dest := l.variable(ops[0])
	expr := model.Expr(op, dest)
	return []model.Statement{{Kind: model.StmtAssign, Dest: &dest, Src: &expr, Address: ins.Address}}
}

// flagsStmt lowers cmp/test as a write to the synthetic FLAGS variable.
func (l *Lowerer) flagsStmt(ins model.Instruction, ops []string, op model.IROpcode) []model.Statement {
	if len(ops) != 2 {
		return l.commentStmt(ins, ins.Text)
	}
	flags := model.Var("FLAGS", 8)
	expr := model.Expr(op, l.parseValue(ops[0]), l.parseValue(ops[1]))
	return []model.Statement{{Kind: model.StmtAssign, Dest: &flags, Src: &expr, Address: ins.Address}}
}

func (l *Lowerer) callStmt(ins model.Instruction) []model.Statement {
	callee := "indirect"
	if ins.BranchTarget != nil {
		callee = fmt.Sprintf("sub_%x", *ins.BranchTarget)
	} else if len(ins.Operands) > 0 {
		callee = ins.Operands[0]
	}

	var args []model.IRValue
	for _, reg := range l.argRegisters() {
		args = append(args, model.Var(reg, 8))
	}
	ret := l.variable(l.returnRegister())

	return []model.Statement{{
		Kind:    model.StmtCall,
		Callee:  callee,
		Args:    args,
		Dest:    &ret,
		Address: ins.Address,
	}}
}

func (l *Lowerer) condBranchStmt(ins model.Instruction, mnemonic string) []model.Statement {
	if ins.BranchTarget == nil {
		return l.commentStmt(ins, ins.Text)
	}
	cond := model.Var(jumpCondition(mnemonic), 1)
	return []model.Statement{{
		Kind:        model.StmtCondBranch,
		Cond:        &cond,
		TrueTarget:  *ins.BranchTarget,
		FalseTarget: ins.Address + uint64(ins.Length),
		Address:     ins.Address,
	}}
}

func (l *Lowerer) setccStmt(ins model.Instruction, ops []string, mnemonic string) []model.Statement {
	if len(ops) != 1 {
		return l.commentStmt(ins, ins.Text)
	}
	dest := l.variable(ops[0])
	cond := model.Var(jumpCondition("j"+strings.TrimPrefix(mnemonic, "set")), 1)
	return []model.Statement{{Kind: model.StmtAssign, Dest: &dest, Src: &cond, Address: ins.Address}}
}

// signExtendStmt approximates cdq/cqo/cwd as rdx = rax.
func (l *Lowerer) signExtendStmt(ins model.Instruction) []model.Statement {
	rdx := l.variable("rdx")
	rax := l.variable("rax")
	return []model.Statement{{Kind: model.StmtAssign, Dest: &rdx, Src: &rax, Address: ins.Address}}
}

// commentStmt lowers an unknown instruction to a no-op assignment
// carrying the original text.
func (l *Lowerer) commentStmt(ins model.Instruction, text string) []model.Statement {
	nop := model.Expr(model.OpNop)
	nop.Comment = text
	dest := model.Var("_", 0)
	return []model.Statement{{Kind: model.StmtAssign, Dest: &dest, Src: &nop, Address: ins.Address}}
}

// jumpCondition maps a Jcc mnemonic to a flag expression.
func jumpCondition(mnemonic string) string {
	switch strings.ToLower(mnemonic) {
	case "je", "jz":
		return "ZF"
	case "jne", "jnz":
		return "!ZF"
	case "jl", "jnge":
		return "SF != OF"
	case "jle", "jng":
		return "ZF || (SF != OF)"
	case "jg", "jnle":
		return "!ZF && (SF == OF)"
	case "jge", "jnl":
		return "SF == OF"
	case "ja", "jnbe":
		return "!CF && !ZF"
	case "jae", "jnb", "jnc":
		return "!CF"
	case "jb", "jnae", "jc":
		return "CF"
	case "jbe", "jna":
		return "CF || ZF"
	case "js":
		return "SF"
	case "jns":
		return "!SF"
	default:
		return "condition"
	}
}
