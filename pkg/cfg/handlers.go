package cfg

import (
	"sort"
	"strings"

	"github.com/marmos91/triage/pkg/model"
)

// ExceptionHandler is a heuristically-detected handler block together
// with the region it appears to protect.
type ExceptionHandler struct {
	HandlerID       int
	ProtectedBlocks []int
	Kind            string // catch
}

// DetectExceptionHandlers looks for blocks that resemble exception
// handlers: at least two non-call predecessors plus either an
// unwind/except mnemonic or a stack-pointer-restoring mov. The protected
// region is the backward reachability of each predecessor, stopping at
// the handler itself.
func DetectExceptionHandlers(g *model.ControlFlowGraph) []ExceptionHandler {
	preds := predecessors(g)

	var handlers []ExceptionHandler
	for id, block := range g.Blocks {
		var normalPreds []int
		for _, e := range g.Edges {
			if e.To == id && e.Type != model.EdgeCall {
				normalPreds = append(normalPreds, e.From)
			}
		}
		if len(normalPreds) < 2 {
			continue
		}

		if !hasHandlerPattern(block) {
			continue
		}

		protected := map[int]bool{}
		for _, p := range normalPreds {
			for b := range reverseReachable(preds, p, id) {
				protected[b] = true
			}
		}
		var region []int
		for b := range protected {
			region = append(region, b)
		}
		sort.Ints(region)

		handlers = append(handlers, ExceptionHandler{
			HandlerID:       id,
			ProtectedBlocks: region,
			Kind:            "catch",
		})
	}
	return handlers
}

func hasHandlerPattern(block model.BasicBlock) bool {
	for _, ins := range block.Instructions {
		m := strings.ToLower(ins.Mnemonic)
		if strings.Contains(m, "except") || strings.Contains(m, "unwind") {
			return true
		}
		if m == "mov" && len(ins.Operands) > 0 {
			dst := strings.ToLower(ins.Operands[0])
			if dst == "rsp" || dst == "esp" {
				return true
			}
		}
	}
	return false
}

// reverseReachable collects every block reachable backwards from start,
// stopping at (and excluding) stop.
func reverseReachable(preds [][]int, start, stop int) map[int]bool {
	reachable := map[int]bool{}
	visited := map[int]bool{}
	worklist := []int{start}
	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if current == stop || visited[current] {
			continue
		}
		visited[current] = true
		reachable[current] = true
		for _, p := range preds[current] {
			if !visited[p] {
				worklist = append(worklist, p)
			}
		}
	}
	return reachable
}
