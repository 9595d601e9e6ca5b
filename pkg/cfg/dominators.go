package cfg

import "github.com/marmos91/triage/pkg/model"

// BuildDominatorTree computes immediate dominators with the iterative
// dataflow algorithm: initialize idom[entry]=entry, then repeatedly
// intersect each block's processed predecessors until a fixed point.
// Terminates in O(N·E).
func BuildDominatorTree(g *model.ControlFlowGraph) model.DominatorTree {
	n := len(g.Blocks)
	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	if n == 0 {
		return model.DominatorTree{IDom: idom}
	}

	const entry = 0
	idom[entry] = entry
	preds := predecessors(g)

	changed := true
	for changed {
		changed = false
		for b := 0; b < n; b++ {
			if b == entry || len(preds[b]) == 0 {
				continue
			}

			newIdom := -1
			for _, p := range preds[b] {
				if idom[p] >= 0 {
					newIdom = p
					break
				}
			}
			if newIdom < 0 {
				continue
			}

			for _, p := range preds[b] {
				if p == newIdom || idom[p] < 0 {
					continue
				}
				newIdom = intersect(idom, p, newIdom)
			}

			if idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	return model.DominatorTree{IDom: idom}
}

// intersect walks both pointers up the dominator tree, always moving the
// greater index toward its idom, until they meet.
func intersect(idom []int, b1, b2 int) int {
	for b1 != b2 {
		for b1 > b2 {
			if idom[b1] < 0 || idom[b1] == b1 {
				break
			}
			b1 = idom[b1]
		}
		for b2 > b1 {
			if idom[b2] < 0 || idom[b2] == b2 {
				break
			}
			b2 = idom[b2]
		}
		if b1 > b2 && (idom[b1] < 0 || idom[b1] == b1) {
			break
		}
		if b2 > b1 && (idom[b2] < 0 || idom[b2] == b2) {
			break
		}
	}
	return min(b1, b2)
}
