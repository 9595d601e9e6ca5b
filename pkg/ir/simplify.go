package ir

import "github.com/marmos91/triage/pkg/model"

// SimplifyFunction runs identity folding and constant folding over every
// statement of fn, bottom-up.
func SimplifyFunction(fn *model.Function) {
	for _, addr := range fn.Order {
		stmts := fn.Body[addr]
		for i := range stmts {
			simplifyStatement(&stmts[i])
		}
		fn.Body[addr] = stmts
	}
}

func simplifyStatement(stmt *model.Statement) {
	for _, v := range []**model.IRValue{&stmt.Src, &stmt.Addr, &stmt.Val, &stmt.Cond} {
		if *v != nil {
			simplified := SimplifyValue(**v)
			*v = &simplified
		}
	}
	for i := range stmt.Args {
		stmt.Args[i] = SimplifyValue(stmt.Args[i])
	}
}

// SimplifyValue returns the simplified form of v: identities first, then
// constant folding once every operand is constant.
func SimplifyValue(v model.IRValue) model.IRValue {
	if v.Kind != model.IRExpression {
		return v
	}
	for i := range v.Operands {
		v.Operands[i] = SimplifyValue(v.Operands[i])
	}

	if folded, ok := applyIdentity(v); ok {
		return folded
	}
	if folded, ok := foldConstant(v); ok {
		return folded
	}
	return v
}

// applyIdentity handles x+0, x−0, x*1, x*0, x&0, x&−1, x|0, x^0, x^x.
func applyIdentity(v model.IRValue) (model.IRValue, bool) {
	if len(v.Operands) != 2 {
		return v, false
	}
	lhs, rhs := v.Operands[0], v.Operands[1]
	rhsConst := func(c int64) bool { return rhs.IsConst() && rhs.ConstVal == c }

	switch v.Op {
	case model.OpAdd, model.OpSub:
		if rhsConst(0) {
			return lhs, true
		}
	case model.OpMul:
		if rhsConst(1) {
			return lhs, true
		}
		if rhsConst(0) {
			return model.Const(0), true
		}
	case model.OpAnd:
		if rhsConst(0) {
			return model.Const(0), true
		}
		if rhsConst(-1) {
			return lhs, true
		}
	case model.OpOr, model.OpXor:
		if rhsConst(0) {
			return lhs, true
		}
		if v.Op == model.OpXor &&
			lhs.Kind == model.IRVariable && rhs.Kind == model.IRVariable &&
			lhs.VarName == rhs.VarName && lhs.SSAVer == rhs.SSAVer {
			return model.Const(0), true
		}
	}
	return v, false
}

// foldConstant evaluates an expression whose operands are all constant.
// Division and modulo by zero stay symbolic; shift amounts are masked
// by 63.
func foldConstant(v model.IRValue) (model.IRValue, bool) {
	for _, op := range v.Operands {
		if !op.IsConst() {
			return v, false
		}
	}

	b := func(cond bool) model.IRValue {
		if cond {
			return model.Const(1)
		}
		return model.Const(0)
	}

	if len(v.Operands) == 2 {
		a, c := v.Operands[0].ConstVal, v.Operands[1].ConstVal
		switch v.Op {
		case model.OpAdd:
			return model.Const(a + c), true
		case model.OpSub:
			return model.Const(a - c), true
		case model.OpMul:
			return model.Const(a * c), true
		case model.OpDiv:
			if c == 0 {
				return v, false
			}
			return model.Const(a / c), true
		case model.OpMod:
			if c == 0 {
				return v, false
			}
			return model.Const(a % c), true
		case model.OpAnd:
			return model.Const(a & c), true
		case model.OpOr:
			return model.Const(a | c), true
		case model.OpXor:
			return model.Const(a ^ c), true
		case model.OpShl:
			return model.Const(a << (c & 63)), true
		case model.OpShr:
			return model.Const(int64(uint64(a) >> (c & 63))), true
		case model.OpSar:
			return model.Const(a >> (c & 63)), true
		case model.OpEq:
			return b(a == c), true
		case model.OpNe:
			return b(a != c), true
		case model.OpLt:
			return b(a < c), true
		case model.OpLe:
			return b(a <= c), true
		case model.OpGt:
			return b(a > c), true
		case model.OpGe:
			return b(a >= c), true
		}
	}
	if len(v.Operands) == 1 {
		a := v.Operands[0].ConstVal
		switch v.Op {
		case model.OpNeg:
			return model.Const(-a), true
		case model.OpNot:
			return model.Const(^a), true
		}
	}
	return v, false
}
