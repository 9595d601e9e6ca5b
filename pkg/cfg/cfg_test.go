package cfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/triage/pkg/model"
)

// graphOf builds a CFG with the given directed edges over n blocks,
// typing everything as normal/unconditional. Block 0 is the entry.
func graphOf(n int, edges ...[2]int) model.ControlFlowGraph {
	g := model.ControlFlowGraph{FunctionName: "test", EntryAddress: 0x1000}
	for i := 0; i < n; i++ {
		bt := model.BlockNormal
		if i == 0 {
			bt = model.BlockEntry
		}
		g.Blocks = append(g.Blocks, model.BasicBlock{
			ID:      i,
			Address: 0x1000 + uint64(i)*0x10,
			Type:    bt,
		})
	}
	for _, e := range edges {
		g.Edges = append(g.Edges, model.Edge{From: e[0], To: e[1], Type: model.EdgeUnconditional})
	}
	return g
}

func TestDominatorsDiamond(t *testing.T) {
	// 0→1, 0→2, 1→3, 2→3
	g := graphOf(4, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 3}, [2]int{2, 3})
	dom := BuildDominatorTree(&g)

	require.Equal(t, 0, dom.IDom[0], "entry dominates itself")
	require.True(t, dom.Dominates(0, 3))
	require.False(t, dom.Dominates(1, 3))
	require.False(t, dom.Dominates(1, 2))

	// Entry dominates every vertex.
	for v := range g.Blocks {
		require.True(t, dom.Dominates(0, v), "entry must dominate block %d", v)
	}
}

func TestNaturalLoopSimple(t *testing.T) {
	// 0→1→2→3→1
	g := graphOf(4, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 3}, [2]int{3, 1})

	backEdges := FindBackEdges(&g)
	require.Len(t, backEdges, 1)
	require.Equal(t, [2]int{3, 1}, backEdges[0])

	loops := FindNaturalLoops(&g)
	require.Len(t, loops, 1)
	loop := loops[0]
	require.Equal(t, 1, loop.HeaderID)
	require.Equal(t, 3, loop.BackEdgeSrcID)
	require.Equal(t, map[int]bool{1: true, 2: true, 3: true}, loop.Members)

	// Every back edge's header dominates its source.
	dom := BuildDominatorTree(&g)
	for _, be := range backEdges {
		require.True(t, dom.Dominates(be[1], be[0]))
	}
}

func TestNaturalLoopExitBlocks(t *testing.T) {
	// 0→1→2→1, 2→3: block 2 leaves the {1,2} loop.
	g := graphOf(4, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 1}, [2]int{2, 3})
	loops := FindNaturalLoops(&g)
	require.Len(t, loops, 1)
	require.Equal(t, []int{2}, loops[0].ExitBlockIDs)
}

func TestMetrics(t *testing.T) {
	g := graphOf(4, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 3}, [2]int{2, 3})
	g.Edges[0].Type = model.EdgeConditionalTrue
	g.Edges[1].Type = model.EdgeConditionalFalse

	m := Metrics(&g)
	require.Equal(t, 4, m.NodeCount)
	require.Equal(t, 4, m.EdgeCount)
	require.Equal(t, 2, m.CyclomaticComplex) // E - N + 2
	require.Equal(t, 1, m.ConditionalCount)
	require.Equal(t, 0, m.BackEdgeCount)
}

func TestExportDOTAndMermaid(t *testing.T) {
	g := graphOf(2, [2]int{0, 1})
	g.Edges[0].Type = model.EdgeConditionalTrue

	dot := ToDOT(&g)
	require.True(t, strings.HasPrefix(dot, "digraph CFG {"))
	require.Contains(t, dot, "block_0 -> block_1")
	require.Contains(t, dot, `label="T"`)

	mermaid := ToMermaid(&g)
	require.True(t, strings.HasPrefix(mermaid, "flowchart TD"))
	require.Contains(t, mermaid, "block_0 -->|T| block_1")
}

func TestJSONRoundTrip(t *testing.T) {
	g := graphOf(3, [2]int{0, 1}, [2]int{1, 2})
	g.Blocks[1].Instructions = []model.Instruction{{
		Address: 0x1010, Mnemonic: "nop", Text: "nop", Length: 1,
	}}

	data, err := ToJSON(&g)
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, g.FunctionName, restored.FunctionName)
	require.Len(t, restored.Blocks, 3)
	require.Equal(t, g.Edges, restored.Edges)
	require.Equal(t, "nop", restored.Blocks[1].Instructions[0].Mnemonic)
}

func TestFromCodeBuildsTypedGraph(t *testing.T) {
	// xor rax,rax; je +2; xor ecx,ecx; ret
	code := []byte{0x48, 0x31, 0xC0, 0x74, 0x02, 0x31, 0xC9, 0xC3}
	g, err := FromCode("fn", code, 0, "x86-64")
	require.NoError(t, err)
	require.Len(t, g.Blocks, 3)
	require.Equal(t, model.BlockEntry, g.Blocks[0].Type)
	require.Equal(t, model.BlockReturn, g.Blocks[2].Type)

	var sawTrue, sawFalse bool
	for _, e := range g.Edges {
		switch e.Type {
		case model.EdgeConditionalTrue:
			sawTrue = true
			require.Equal(t, 2, e.To)
		case model.EdgeConditionalFalse:
			sawFalse = true
			require.Equal(t, 1, e.To)
		}
	}
	require.True(t, sawTrue)
	require.True(t, sawFalse)
}

func TestIndirectJumpDetection(t *testing.T) {
	g := graphOf(1)
	g.Blocks[0].Instructions = []model.Instruction{
		{Mnemonic: "mov", Operands: []string{"rax", "0x401000"}},
		{Mnemonic: "jmp", Operands: []string{"[rax]"}, Address: 0x1005, IsBranch: true},
	}

	jumps := FindIndirectJumps(&g)
	require.Len(t, jumps, 1)
	require.Equal(t, IndirectJumpJump, jumps[0].Kind)
	require.Equal(t, []uint64{0x401000}, jumps[0].PossibleTargets)
}

func TestExceptionHandlerHeuristic(t *testing.T) {
	// Block 3 has two non-call predecessors and restores the stack
	// pointer.
	g := graphOf(4, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 3}, [2]int{2, 3})
	g.Blocks[3].Instructions = []model.Instruction{
		{Mnemonic: "mov", Operands: []string{"rsp", "rbp"}},
		{Mnemonic: "ret", IsReturn: true},
	}

	handlers := DetectExceptionHandlers(&g)
	require.Len(t, handlers, 1)
	require.Equal(t, 3, handlers[0].HandlerID)
	require.ElementsMatch(t, []int{0, 1, 2}, handlers[0].ProtectedBlocks)
}
