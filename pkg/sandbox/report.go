package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marmos91/triage/pkg/model"
)

// FilterBehavioralEvents keeps events at or above the given severity.
func FilterBehavioralEvents(events []model.BehavioralEvent, minSeverity model.BehavioralSeverity) []model.BehavioralEvent {
	rank := map[model.BehavioralSeverity]int{
		model.BehaviorLow: 0, model.BehaviorMedium: 1,
		model.BehaviorHigh: 2, model.BehaviorCritical: 3,
	}
	threshold := rank[minSeverity]
	var out []model.BehavioralEvent
	for _, e := range events {
		if rank[e.Severity] >= threshold {
			out = append(out, e)
		}
	}
	return out
}

// FileOpSummary aggregates file activity per event kind.
type FileOpSummary struct {
	Total      int
	ByEvent    map[string]int
	TouchedTmp bool
	TouchedEtc bool
}

// SummarizeFileOperations rolls up a report's file operations.
func SummarizeFileOperations(ops []model.FileOperation) FileOpSummary {
	summary := FileOpSummary{ByEvent: map[string]int{}}
	for _, op := range ops {
		summary.Total++
		summary.ByEvent[op.Event]++
		if strings.HasPrefix(op.Path, "/tmp") {
			summary.TouchedTmp = true
		}
		if strings.HasPrefix(op.Path, "/etc") {
			summary.TouchedEtc = true
		}
	}
	return summary
}

// AnalyzeNetworkConnections renders a per-connection summary string.
func AnalyzeNetworkConnections(conns []model.Connection) string {
	if len(conns) == 0 {
		return "no network connections observed"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d unique connections:\n", len(conns))
	for _, c := range conns {
		fmt.Fprintf(&sb, "  %s %s:%d (%s)\n", c.Protocol, c.DestinationIP, c.DestinationPort, c.Classification)
	}
	return sb.String()
}

// ProcessNode is one node in the reconstructed process tree.
type ProcessNode struct {
	Process  model.ProcessInfo
	Children []*ProcessNode
}

// GetProcessTree reconstructs parent/child relationships; processes
// with no known parent become roots.
func GetProcessTree(processes []model.ProcessInfo) []*ProcessNode {
	nodes := make(map[int]*ProcessNode, len(processes))
	for _, p := range processes {
		nodes[p.PID] = &ProcessNode{Process: p}
	}
	var roots []*ProcessNode
	var rootPIDs []int
	for pid, node := range nodes {
		if parent, ok := nodes[node.Process.PPID]; ok && node.Process.PPID != pid {
			parent.Children = append(parent.Children, node)
		} else {
			rootPIDs = append(rootPIDs, pid)
		}
	}
	sort.Ints(rootPIDs)
	for _, pid := range rootPIDs {
		roots = append(roots, nodes[pid])
	}
	return roots
}

// TechniqueDetail is the detail card for one mapped technique.
type TechniqueDetail struct {
	ID         string
	Name       string
	Tactic     string
	Mitigation string
}

var techniqueTactics = map[string]string{
	"T1059": "Execution",
	"T1106": "Execution",
	"T1071": "Command and Control",
	"T1095": "Command and Control",
	"T1003": "Credential Access",
	"T1055": "Defense Evasion",
	"T1070": "Defense Evasion",
	"T1222": "Defense Evasion",
	"T1548": "Privilege Escalation",
	"T1547": "Persistence",
}

var techniqueMitigations = map[string]string{
	"T1059": "Restrict script interpreters and enable execution policies",
	"T1071": "Egress filtering and protocol inspection",
	"T1003": "Credential guard and restricted file permissions",
	"T1055": "Behavior-based process monitoring",
	"T1547": "Audit autostart locations",
}

// GetTechniqueDetails resolves tactic and mitigation hints for an id.
func GetTechniqueDetails(id string) TechniqueDetail {
	detail := TechniqueDetail{
		ID:         id,
		Name:       TechniqueName(id),
		Tactic:     techniqueTactics[id],
		Mitigation: techniqueMitigations[id],
	}
	if detail.Tactic == "" {
		detail.Tactic = "Unknown"
	}
	if detail.Mitigation == "" {
		detail.Mitigation = "Review vendor guidance for this technique"
	}
	return detail
}

// FormatError renders a sandbox failure as a short actionable message.
// Raw paths never appear; callers pass file names only.
func FormatError(errorType, details string) string {
	switch errorType {
	case "connect":
		return "container host unreachable: " + details + " (is the daemon running?)"
	case "create":
		return "sandbox container could not be created: " + details + " (is the reference image present?)"
	case "timeout":
		return "sample execution exceeded its window: " + details
	case "upload":
		return "sample upload failed: " + details
	default:
		return "sandbox error (" + errorType + "): " + details
	}
}
