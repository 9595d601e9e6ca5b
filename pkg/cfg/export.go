package cfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// ToDOT renders the graph as Graphviz DOT, coloring nodes by block type
// and edges by edge type with T/F labels on conditional edges.
func ToDOT(g *model.ControlFlowGraph) string {
	var sb strings.Builder
	sb.WriteString("digraph CFG {\n")
	sb.WriteString("  node [shape=box,style=rounded];\n")
	fmt.Fprintf(&sb, "  label=\"%s\\n0x%x\";\n", g.FunctionName, g.EntryAddress)
	sb.WriteString("  labelloc=\"t\";\n\n")

	for _, block := range g.Blocks {
		var color string
		switch block.Type {
		case model.BlockEntry:
			color = "lightgreen"
		case model.BlockExit, model.BlockReturn:
			color = "lightcoral"
		case model.BlockConditional:
			color = "lightyellow"
		case model.BlockCall:
			color = "lightblue"
		default:
			color = "white"
		}
		fmt.Fprintf(&sb, "  block_%d [label=\"%s\",fillcolor=%s,style=\"rounded,filled\"];\n",
			block.ID, blockLabel(block), color)
	}

	sb.WriteString("\n")
	for _, edge := range g.Edges {
		var color, style, label string
		switch edge.Type {
		case model.EdgeConditionalTrue:
			color, style, label = "green", "solid", "T"
		case model.EdgeConditionalFalse:
			color, style, label = "red", "dashed", "F"
		case model.EdgeCall:
			color, style = "blue", "dotted"
		case model.EdgeReturn:
			color, style = "purple", "dotted"
		default:
			color, style = "black", "solid"
		}
		fmt.Fprintf(&sb, "  block_%d -> block_%d [color=%s,style=%s,label=\"%s\"];\n",
			edge.From, edge.To, color, style, label)
	}

	sb.WriteString("}\n")
	return sb.String()
}

// blockLabel shows the block id, address, and up to five instructions.
func blockLabel(block model.BasicBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Block %d\\n0x%x", block.ID, block.Address)
	for i, ins := range block.Instructions {
		if i == 5 {
			fmt.Fprintf(&sb, "\\n... (%d more)", len(block.Instructions)-5)
			break
		}
		fmt.Fprintf(&sb, "\\n0x%x: %s", ins.Address, ins.Mnemonic)
	}
	return strings.ReplaceAll(sb.String(), `"`, `\"`)
}

// ToMermaid renders the graph as a Mermaid flowchart.
func ToMermaid(g *model.ControlFlowGraph) string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	for _, block := range g.Blocks {
		lhs, rhs := "[", "]"
		switch block.Type {
		case model.BlockExit, model.BlockReturn:
			lhs, rhs = "([", "])"
		case model.BlockConditional:
			lhs, rhs = "{", "}"
		}
		fmt.Fprintf(&sb, "  block_%d%sBlock %d @ 0x%x%s\n",
			block.ID, lhs, block.ID, block.Address, rhs)
	}

	sb.WriteString("\n")
	for _, edge := range g.Edges {
		var arrow string
		switch edge.Type {
		case model.EdgeConditionalTrue:
			arrow = "-->|T|"
		case model.EdgeConditionalFalse:
			arrow = "-.->|F|"
		case model.EdgeCall:
			arrow = "==>"
		case model.EdgeReturn:
			arrow = "-.->"
		default:
			arrow = "-->"
		}
		fmt.Fprintf(&sb, "  block_%d %s block_%d\n", edge.From, arrow, edge.To)
	}
	return sb.String()
}

// ToJSON serializes the graph for round-tripping with FromJSON.
func ToJSON(g *model.ControlFlowGraph) ([]byte, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.ParseError, "serialize CFG", err)
	}
	return data, nil
}

// FromJSON deserializes a graph produced by ToJSON.
func FromJSON(data []byte) (model.ControlFlowGraph, error) {
	var g model.ControlFlowGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return model.ControlFlowGraph{}, analysiserr.Wrap(analysiserr.ParseError, "deserialize CFG", err)
	}
	return g, nil
}

// Metrics summarizes structural counts: cyclomatic complexity is
// E−N+2, conditionals count true/false edge pairs halved.
func Metrics(g *model.ControlFlowGraph) model.CFGMetrics {
	m := model.CFGMetrics{
		NodeCount: len(g.Blocks),
		EdgeCount: len(g.Edges),
	}
	for _, b := range g.Blocks {
		m.InstructionCount += len(b.Instructions)
	}
	m.CyclomaticComplex = len(g.Edges) - len(g.Blocks) + 2

	conditionalEdges := 0
	for _, e := range g.Edges {
		if e.Type == model.EdgeConditionalTrue || e.Type == model.EdgeConditionalFalse {
			conditionalEdges++
		}
	}
	m.ConditionalCount = conditionalEdges / 2
	m.BackEdgeCount = len(FindBackEdges(g))
	return m
}
