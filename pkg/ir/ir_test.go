package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/triage/pkg/disasm"
	"github.com/marmos91/triage/pkg/model"
)

func TestSimplifyIdentities(t *testing.T) {
	x := model.Var("x", 8)

	cases := []struct {
		name string
		in   model.IRValue
		want model.IRValue
	}{
		{"x+0", model.Expr(model.OpAdd, x, model.Const(0)), x},
		{"x-0", model.Expr(model.OpSub, x, model.Const(0)), x},
		{"x*1", model.Expr(model.OpMul, x, model.Const(1)), x},
		{"x*0", model.Expr(model.OpMul, x, model.Const(0)), model.Const(0)},
		{"x&0", model.Expr(model.OpAnd, x, model.Const(0)), model.Const(0)},
		{"x&-1", model.Expr(model.OpAnd, x, model.Const(-1)), x},
		{"x|0", model.Expr(model.OpOr, x, model.Const(0)), x},
		{"x^0", model.Expr(model.OpXor, x, model.Const(0)), x},
		{"x^x", model.Expr(model.OpXor, x, x), model.Const(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SimplifyValue(tc.in))
		})
	}
}

func TestConstantFolding(t *testing.T) {
	require.Equal(t, model.Const(7), SimplifyValue(model.Expr(model.OpAdd, model.Const(3), model.Const(4))))
	require.Equal(t, model.Const(12), SimplifyValue(model.Expr(model.OpMul, model.Const(3), model.Const(4))))
	require.Equal(t, model.Const(8), SimplifyValue(model.Expr(model.OpShl, model.Const(1), model.Const(3))))

	// Shift amounts mask by 63: 1 << 64 behaves as 1 << 0.
	require.Equal(t, model.Const(1), SimplifyValue(model.Expr(model.OpShl, model.Const(1), model.Const(64))))

	// Division by zero stays symbolic.
	divZero := model.Expr(model.OpDiv, model.Const(4), model.Const(0))
	require.Equal(t, model.IRExpression, SimplifyValue(divZero).Kind)

	// Nested all-constant expressions fold completely.
	nested := model.Expr(model.OpAdd,
		model.Expr(model.OpMul, model.Const(2), model.Const(3)),
		model.Const(1))
	require.Equal(t, model.Const(7), SimplifyValue(nested))
}

func TestNegateCondition(t *testing.T) {
	cases := map[string]string{
		"ZF":                "!ZF",
		"!ZF":               "ZF",
		"SF != OF":          "SF == OF",
		"SF == OF":          "SF != OF",
		"!CF && !ZF":        "CF || ZF",
		"CF || ZF":          "!CF && !ZF",
		"ZF || (SF != OF)":  "!ZF && (SF == OF)",
		"!ZF && (SF == OF)": "ZF || (SF != OF)",
		"something_odd":     "!(something_odd)",
	}
	for in, want := range cases {
		require.Equal(t, want, NegateCondition(in), "negate %q", in)
	}
}

func TestLowerBinaryAndFlags(t *testing.T) {
	l := NewLowerer()
	blocks := []model.BasicBlock{{
		Address: 0x1000,
		Instructions: []model.Instruction{
			{Address: 0x1000, Mnemonic: "mov", Operands: []string{"rax", "0x10"}},
			{Address: 0x1003, Mnemonic: "add", Operands: []string{"rax", "rbx"}},
			{Address: 0x1006, Mnemonic: "cmp", Operands: []string{"rax", "0"}},
		},
	}}

	fn, err := l.Lower("f", blocks)
	require.NoError(t, err)
	stmts := fn.Body[0x1000]
	require.Len(t, stmts, 3)

	require.Equal(t, model.StmtAssign, stmts[0].Kind)
	require.Equal(t, model.Const(0x10), *stmts[0].Src)

	require.Equal(t, model.OpAdd, stmts[1].Src.Op)

	// cmp writes the synthetic FLAGS variable.
	require.Equal(t, "FLAGS", stmts[2].Dest.VarName)
	require.Equal(t, model.OpSub, stmts[2].Src.Op)
}

func TestLowerPushPop(t *testing.T) {
	l := NewLowerer()
	blocks := []model.BasicBlock{{
		Address: 0,
		Instructions: []model.Instruction{
			{Mnemonic: "push", Operands: []string{"rbp"}},
			{Mnemonic: "pop", Operands: []string{"rbx"}},
		},
	}}
	fn, err := l.Lower("f", blocks)
	require.NoError(t, err)
	stmts := fn.Body[0]
	require.Len(t, stmts, 4)

	// push: rsp = rsp - 8; store
	require.Equal(t, "rsp", stmts[0].Dest.VarName)
	require.Equal(t, model.OpSub, stmts[0].Src.Op)
	require.Equal(t, model.StmtStore, stmts[1].Kind)

	// pop: load; rsp = rsp + 8
	require.Equal(t, model.OpLoad, stmts[2].Src.Op)
	require.Equal(t, model.OpAdd, stmts[3].Src.Op)
}

func TestUnknownMnemonicBecomesComment(t *testing.T) {
	l := NewLowerer()
	blocks := []model.BasicBlock{{
		Instructions: []model.Instruction{
			{Mnemonic: "vfmadd231ps", Text: "vfmadd231ps xmm0, xmm1, xmm2"},
		},
	}}
	fn, err := l.Lower("f", blocks)
	require.NoError(t, err)
	stmts := fn.Body[0]
	require.Len(t, stmts, 1)
	require.Equal(t, model.OpNop, stmts[0].Src.Op)
	require.Contains(t, stmts[0].Src.Comment, "vfmadd231ps")
}

func TestCallingConventionHeuristic(t *testing.T) {
	sysv := NewLowerer()
	sysv.parseValue("rdi")
	require.Equal(t, ConvSystemV, sysv.Convention())

	win := NewLowerer()
	win.parseValue("r8")
	require.Equal(t, ConvWin64, win.Convention())

	cdecl := NewLowerer()
	cdecl.parseValue("eax")
	require.Equal(t, ConvCdecl, cdecl.Convention())
	require.Equal(t, "eax", cdecl.returnRegister())

	require.Equal(t, ConvSystemV, NewLowerer().Convention())
}

func TestBlockCountGuard(t *testing.T) {
	blocks := make([]model.BasicBlock, MaxBlocks+1)
	_, err := NewLowerer().Lower("f", blocks)
	require.Error(t, err)
}

func TestDecompileIfShape(t *testing.T) {
	// xor rax,rax; je +2; xor ecx,ecx; ret
	code := []byte{0x48, 0x31, 0xC0, 0x74, 0x02, 0x31, 0xC9, 0xC3}
	instructions, err := disasm.Disassemble(code, 0, disasm.ArchX8664, disasm.SyntaxIntel)
	require.NoError(t, err)
	blocks := disasm.BuildBasicBlocks(instructions)

	c, err := Decompile("sample", blocks)
	require.NoError(t, err)
	require.Contains(t, c, "void sample() {")
	require.Contains(t, c, "if (ZF)")
	require.Contains(t, c, "return;")
	require.Contains(t, c, "calling convention")
}

func TestFindLoopCondition(t *testing.T) {
	// Loop header at 0x100 exits to 0x200 when ZF is set and falls
	// through to the body at 0x110, which jumps back.
	cond := model.Var("ZF", 1)
	fn := model.Function{
		Name:  "loopy",
		Entry: 0x100,
		Order: []uint64{0x100, 0x110},
		Body: map[uint64][]model.Statement{
			0x100: {{Kind: model.StmtCondBranch, Cond: &cond, TrueTarget: 0x200, FalseTarget: 0x110}},
			0x110: {{Kind: model.StmtBranch, Target: 0x100}},
		},
	}
	r := &recoverer{fn: &fn, visited: map[uint64]bool{}}

	// The true branch exits the [0x100,0x110] range, so the loop
	// continues on the negated condition.
	require.Equal(t, "!ZF", r.findLoopCondition(0x100, 0x110))

	// With the exit on the false branch, the condition is kept as-is.
	lt := model.Var("SF != OF", 1)
	fn.Body[0x100] = []model.Statement{
		{Kind: model.StmtCondBranch, Cond: &lt, TrueTarget: 0x110, FalseTarget: 0x200},
	}
	require.Equal(t, "SF != OF", r.findLoopCondition(0x100, 0x110))

	// No conditional exit at all defaults to an infinite loop.
	fn.Body[0x100] = []model.Statement{{Kind: model.StmtBranch, Target: 0x110}}
	require.Equal(t, "true", r.findLoopCondition(0x100, 0x110))
}

func TestValueRendering(t *testing.T) {
	small := model.Const(42)
	big := model.Const(0x1000)
	neg := model.Const(-3)
	require.Equal(t, "42", valueString(&small))
	require.Equal(t, "0x1000", valueString(&big))
	require.Equal(t, "-3", valueString(&neg))

	v := model.Var("rax", 8)
	v.SSAVer = 2
	require.Equal(t, "rax_2", valueString(&v))

	expr := model.Expr(model.OpAdd, model.Var("rax", 8), model.Const(1))
	require.Equal(t, "(rax + 1)", valueString(&expr))
}
