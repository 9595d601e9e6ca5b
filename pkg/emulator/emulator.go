// Package emulator is a minimal concrete x86-64 emulator used to reveal
// unpacked payloads. It executes a small instruction subset over sparse,
// hard-bounded memory, traces every step, and scores the written memory
// for code-like regions afterwards.
//
// Conditional jumps are always taken. That is intentional — it drives
// execution through decode loops that a flags-accurate path might skip —
// and it means the emulator must never be mistaken for sound execution.
package emulator

import (
	"strconv"
	"strings"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/disasm"
	"github.com/marmos91/triage/pkg/model"
)

const (
	// MaxMemoryBytes bounds the sparse memory map per session.
	MaxMemoryBytes = 10 * 1024 * 1024

	// DefaultInstructionBudget bounds a session's executed instructions.
	DefaultInstructionBudget = 100_000

	// maxInstructionLength is the x86 architectural limit.
	maxInstructionLength = 15
)

// Result is the outcome of one emulation session.
type Result struct {
	ExecutedInstructions int
	FinalRegisters       map[string]uint64
	Trace                []model.TraceEntry
	ApiCalls             []model.ApiCall
	UnpackedCode         []byte
}

// Emulator holds one session's state. Sessions are strictly
// single-threaded and never shared.
type Emulator struct {
	registers map[string]uint64
	memory    map[uint64]byte
	ip        uint64
	sp        uint64
	trace     []model.TraceEntry
	budget    int
	executed  int
	apiHooks  map[uint64]string
	apiCalls  []model.ApiCall
}

// New creates a session with the given entry point and stack base.
func New(entryPoint, stackBase uint64) *Emulator {
	e := &Emulator{
		registers: make(map[string]uint64),
		memory:    make(map[uint64]byte),
		ip:        entryPoint,
		sp:        stackBase,
		budget:    DefaultInstructionBudget,
		apiHooks:  make(map[uint64]string),
	}
	e.registers["rsp"] = stackBase
	return e
}

// SetBudget overrides the instruction budget.
func (e *Emulator) SetBudget(n int) {
	if n > 0 {
		e.budget = n
	}
}

// AddAPIHook registers an address that, when reached, is treated as a
// call into the named API instead of real code.
func (e *Emulator) AddAPIHook(address uint64, name string) {
	e.apiHooks[address] = name
}

// LoadCode maps code at base.
func (e *Emulator) LoadCode(base uint64, code []byte) error {
	if len(e.memory)+len(code) > MaxMemoryBytes {
		return analysiserr.New(analysiserr.ResourceError, "code exceeds emulator memory limit")
	}
	for i, b := range code {
		e.memory[base+uint64(i)] = b
	}
	return nil
}

// Emulate loads code at base and runs until a return, budget
// exhaustion, or a memory-limit breach.
func (e *Emulator) Emulate(code []byte, base uint64) (Result, error) {
	if err := e.LoadCode(base, code); err != nil {
		return Result{}, err
	}

	for e.executed < e.budget {
		if name, hooked := e.apiHooks[e.ip]; hooked {
			e.handleAPICall(name)
			e.executed++
			continue
		}

		bytes := e.fetchInstruction()
		if len(bytes) == 0 {
			break
		}
		instructions, err := disasm.Disassemble(bytes, e.ip, disasm.ArchX8664, disasm.SyntaxIntel)
		if err != nil || len(instructions) == 0 {
			break
		}
		ins := instructions[0]
		if ins.Mnemonic == ".byte" {
			break
		}

		before := e.snapshotRegisters()
		writes, err := e.executeInstruction(ins)
		if err != nil {
			return Result{}, err
		}

		e.trace = append(e.trace, model.TraceEntry{
			Address:       ins.Address,
			Text:          ins.Text,
			RegisterDelta: registerDelta(before, e.registers),
			MemoryWrites:  writes,
		})

		if !ins.IsBranch && !ins.IsCall && !ins.IsReturn {
			e.ip += uint64(ins.Length)
		}
		e.executed++

		if ins.IsReturn {
			break
		}
	}

	return Result{
		ExecutedInstructions: e.executed,
		FinalRegisters:       e.snapshotRegisters(),
		Trace:                e.trace,
		ApiCalls:             e.apiCalls,
		UnpackedCode:         DetectUnpackedCode(e.trace),
	}, nil
}

// fetchInstruction reads up to 15 mapped bytes at IP.
func (e *Emulator) fetchInstruction() []byte {
	var bytes []byte
	for i := uint64(0); i < maxInstructionLength; i++ {
		b, mapped := e.memory[e.ip+i]
		if !mapped {
			break
		}
		bytes = append(bytes, b)
	}
	return bytes
}

func (e *Emulator) snapshotRegisters() map[string]uint64 {
	snap := make(map[string]uint64, len(e.registers))
	for k, v := range e.registers {
		snap[k] = v
	}
	return snap
}

func registerDelta(before, after map[string]uint64) map[string]uint64 {
	delta := make(map[string]uint64)
	for k, v := range after {
		if old, present := before[k]; !present || old != v {
			delta[k] = v
		}
	}
	return delta
}

func (e *Emulator) executeInstruction(ins model.Instruction) ([]model.MemWrite, error) {
	m := strings.ToLower(ins.Mnemonic)
	ops := ins.Operands

	switch {
	case strings.HasPrefix(m, "mov"):
		if len(ops) == 2 {
			e.setValue(ops[0], e.getValue(ops[1]))
		}
	case strings.HasPrefix(m, "push"):
		if len(ops) == 1 {
			return e.push(e.getValue(ops[0]))
		}
	case strings.HasPrefix(m, "pop"):
		if len(ops) == 1 {
			e.setValue(ops[0], e.readU64(e.sp))
			e.sp += 8
			e.registers["rsp"] = e.sp
		}
	case strings.HasPrefix(m, "add"):
		if len(ops) == 2 {
			e.setValue(ops[0], e.getValue(ops[0])+e.getValue(ops[1]))
		}
	case strings.HasPrefix(m, "sub"):
		if len(ops) == 2 {
			e.setValue(ops[0], e.getValue(ops[0])-e.getValue(ops[1]))
		}
	case strings.HasPrefix(m, "xor"):
		if len(ops) == 2 {
			e.setValue(ops[0], e.getValue(ops[0])^e.getValue(ops[1]))
		}
	case strings.HasPrefix(m, "call"):
		if ins.BranchTarget != nil {
			writes, err := e.push(ins.Address + uint64(ins.Length))
			if err != nil {
				return writes, err
			}
			e.ip = *ins.BranchTarget
			return writes, nil
		}
		e.ip = ins.Address + uint64(ins.Length)
	case strings.HasPrefix(m, "ret"):
		e.ip = e.readU64(e.sp)
		e.sp += 8
		e.registers["rsp"] = e.sp
	case m == "jmp":
		if ins.BranchTarget != nil {
			e.ip = *ins.BranchTarget
		} else {
			e.ip = ins.Address + uint64(ins.Length)
		}
	case strings.HasPrefix(m, "j"):
		// Conditional jumps are unconditionally taken.
		if ins.BranchTarget != nil {
			e.ip = *ins.BranchTarget
		} else {
			e.ip = ins.Address + uint64(ins.Length)
		}
	default:
		// Unknown instruction: skip.
	}
	return nil, nil
}

// push writes an 8-byte little-endian value below SP.
func (e *Emulator) push(value uint64) ([]model.MemWrite, error) {
	e.sp -= 8
	e.registers["rsp"] = e.sp

	data := make([]byte, 8)
	for i := uint64(0); i < 8; i++ {
		if len(e.memory) >= MaxMemoryBytes {
			return nil, analysiserr.New(analysiserr.ResourceError, "emulator memory limit exceeded")
		}
		b := byte(value >> (i * 8))
		e.memory[e.sp+i] = b
		data[i] = b
	}
	return []model.MemWrite{{Address: e.sp, Data: data}}, nil
}

// handleAPICall consumes the Windows-x64 argument registers, records the
// call, zeroes RAX, and advances IP past a typical call.
func (e *Emulator) handleAPICall(name string) {
	call := model.ApiCall{
		Address: e.ip,
		Name:    name,
		Args: [4]uint64{
			e.registers["rcx"], e.registers["rdx"],
			e.registers["r8"], e.registers["r9"],
		},
	}
	e.registers["rax"] = 0
	e.ip += 5
	e.apiCalls = append(e.apiCalls, call)
}

// getValue resolves an operand: hex, decimal, register, else 0. Indexed
// operands that cannot be parsed resolve to 0 rather than aborting.
func (e *Emulator) getValue(operand string) uint64 {
	operand = strings.TrimSpace(strings.ToLower(operand))
	if strings.HasPrefix(operand, "0x") {
		if v, err := strconv.ParseUint(operand[2:], 16, 64); err == nil {
			return v
		}
	}
	if v, err := strconv.ParseUint(operand, 10, 64); err == nil {
		return v
	}
	if v, known := e.registers[operand]; known {
		return v
	}
	return 0
}

func (e *Emulator) setValue(operand string, value uint64) {
	operand = strings.TrimSpace(strings.ToLower(operand))
	e.registers[operand] = value
	if operand == "rsp" {
		e.sp = value
	}
}

func (e *Emulator) readU64(addr uint64) uint64 {
	var v uint64
	for i := uint64(0); i < 8; i++ {
		v |= uint64(e.memory[addr+i]) << (i * 8)
	}
	return v
}
