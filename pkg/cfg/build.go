// Package cfg builds control-flow graphs from disassembled basic blocks
// and analyzes them: dominator trees, natural loops, exception-handler
// and indirect-jump heuristics, metrics, and DOT/Mermaid/JSON export.
//
// Graphs use the arena+index representation: blocks and edges live in
// flat slices and reference one another by integer id only.
package cfg

import (
	"log/slog"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/disasm"
	"github.com/marmos91/triage/pkg/model"
)

// Build assembles a ControlFlowGraph from disassembler blocks,
// classifying block and edge types from each block's final instruction.
func Build(functionName string, entryAddress uint64, blocks []model.BasicBlock) model.ControlFlowGraph {
	g := model.ControlFlowGraph{
		FunctionName: functionName,
		EntryAddress: entryAddress,
	}

	idByAddr := make(map[uint64]int, len(blocks))
	for i, b := range blocks {
		idByAddr[b.Address] = i
	}

	for i, b := range blocks {
		b.ID = i
		b.Type = classifyBlock(b, i == 0)
		g.Blocks = append(g.Blocks, b)
	}

	for i, b := range blocks {
		for _, succAddr := range b.Successors {
			to, known := idByAddr[succAddr]
			if !known {
				continue
			}
			g.Edges = append(g.Edges, model.Edge{
				From: i,
				To:   to,
				Type: classifyEdge(b, succAddr),
			})
		}
	}

	logger.Debug("cfg built",
		slog.String(logger.KeyFunction, functionName),
		slog.Int(logger.KeyBlockCount, len(g.Blocks)))
	return g
}

// FromCode disassembles code and builds its CFG in one step.
func FromCode(functionName string, code []byte, base uint64, arch disasm.Arch) (model.ControlFlowGraph, error) {
	instructions, err := disasm.Disassemble(code, base, arch, disasm.SyntaxIntel)
	if err != nil {
		return model.ControlFlowGraph{}, err
	}
	blocks := disasm.BuildBasicBlocks(instructions)
	return Build(functionName, base, blocks), nil
}

func classifyBlock(b model.BasicBlock, isEntry bool) model.BlockType {
	if isEntry {
		return model.BlockEntry
	}
	if len(b.Instructions) == 0 {
		return model.BlockNormal
	}
	last := b.Instructions[len(b.Instructions)-1]
	switch {
	case last.IsReturn:
		return model.BlockReturn
	case last.IsCall:
		return model.BlockCall
	case disasm.IsConditionalBranch(last):
		return model.BlockConditional
	case len(b.Successors) == 0:
		return model.BlockExit
	default:
		return model.BlockNormal
	}
}

func classifyEdge(from model.BasicBlock, targetAddr uint64) model.EdgeType {
	if len(from.Instructions) == 0 {
		return model.EdgeUnconditional
	}
	last := from.Instructions[len(from.Instructions)-1]
	switch {
	case last.IsReturn:
		return model.EdgeReturn
	case last.IsCall:
		return model.EdgeCall
	case disasm.IsConditionalBranch(last):
		if last.BranchTarget != nil && *last.BranchTarget == targetAddr {
			return model.EdgeConditionalTrue
		}
		return model.EdgeConditionalFalse
	default:
		return model.EdgeUnconditional
	}
}

// predecessors builds the reverse adjacency list of g.
func predecessors(g *model.ControlFlowGraph) [][]int {
	preds := make([][]int, len(g.Blocks))
	for _, e := range g.Edges {
		preds[e.To] = append(preds[e.To], e.From)
	}
	return preds
}

// successors builds the forward adjacency list of g.
func successors(g *model.ControlFlowGraph) [][]int {
	succs := make([][]int, len(g.Blocks))
	for _, e := range g.Edges {
		succs[e.From] = append(succs[e.From], e.To)
	}
	return succs
}
