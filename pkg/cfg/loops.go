package cfg

import (
	"sort"

	"github.com/marmos91/triage/pkg/model"
)

// FindBackEdges enumerates edges (from, to) where to is an ancestor on
// the current DFS stack.
func FindBackEdges(g *model.ControlFlowGraph) [][2]int {
	succs := successors(g)
	visited := make([]bool, len(g.Blocks))
	onStack := make([]bool, len(g.Blocks))
	var backEdges [][2]int

	var dfs func(node int)
	dfs = func(node int) {
		visited[node] = true
		onStack[node] = true
		for _, next := range succs[node] {
			if !visited[next] {
				dfs(next)
			} else if onStack[next] {
				backEdges = append(backEdges, [2]int{node, next})
			}
		}
		onStack[node] = false
	}

	for b := range g.Blocks {
		if !visited[b] {
			dfs(b)
		}
	}
	return backEdges
}

// FindNaturalLoops detects natural loops: for each back edge (t→h) with
// h dominating t, the loop body is everything reachable backwards from t
// without crossing h, plus h itself.
func FindNaturalLoops(g *model.ControlFlowGraph) []model.NaturalLoop {
	backEdges := FindBackEdges(g)
	dom := BuildDominatorTree(g)
	preds := predecessors(g)
	succs := successors(g)

	var loops []model.NaturalLoop
	for _, be := range backEdges {
		tail, head := be[0], be[1]
		if !dom.Dominates(head, tail) {
			continue
		}

		members := map[int]bool{head: true, tail: true}
		worklist := []int{tail}
		visited := map[int]bool{tail: true, head: true}
		for len(worklist) > 0 {
			current := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]
			for _, p := range preds[current] {
				if visited[p] {
					continue
				}
				visited[p] = true
				members[p] = true
				worklist = append(worklist, p)
			}
		}

		var exits []int
		for member := range members {
			for _, next := range succs[member] {
				if !members[next] {
					exits = append(exits, member)
					break
				}
			}
		}
		sort.Ints(exits)

		loops = append(loops, model.NaturalLoop{
			HeaderID:      head,
			BackEdgeSrcID: tail,
			Members:       members,
			ExitBlockIDs:  exits,
		})
	}
	return loops
}
