package jobqueue

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/execfmt"
	"github.com/marmos91/triage/pkg/model"
	"github.com/marmos91/triage/pkg/sandbox"
	"github.com/marmos91/triage/pkg/scanner"
	"github.com/marmos91/triage/pkg/signature"
)

// runFileAnalysis drives the full static pipeline over one file, with
// an optional dynamic stage when the container host is reachable.
func (r *Runner) runFileAnalysis(ctx context.Context, job *model.Job) (map[string]any, error) {
	path, err := inputString(job.Input, "file_path")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.InputError, "read "+filepath.Base(path), err)
	}
	r.progress(job, 0.1, "file read")

	report := execfmt.Parse(data, filepath.Base(path))
	r.progress(job, 0.1, "hashes computed")

	report.Signature = signature.Verify(report.Format, data, path)
	r.progress(job, 0.3, "executable parsed, signature checked")

	scan := scanner.Scan(data)
	r.progress(job, 0.5, "pattern scan complete")

	packed := isPacked(report)
	suspiciousImports := hasSuspiciousImports(report)
	highEntropySection := hasHighEntropySection(report)
	r.progress(job, 0.7, "structural heuristics evaluated")

	var execution *model.ExecutionReport
	if r.detonator != nil && r.detonator.Available(ctx) {
		if result, derr := r.detonator.Execute(ctx, path); derr == nil {
			execution = &result
		} else {
			r.log(job.ID, "dynamic analysis skipped: "+derr.Error())
		}
	}
	r.progress(job, 0.8, "dynamic analysis stage finished")

	level := classifyThreat(scan, report, execution, packed, suspiciousImports, highEntropySection)
	r.progress(job, 0.95, "threat level classified: "+level)

	output := map[string]any{
		"report":        report,
		"scan_matches":  len(scan.Matches),
		"scan":          scan,
		"threat_level":  level,
		"packed":        packed,
		"suspicious_imports": suspiciousImports,
	}
	if execution != nil {
		output["execution"] = *execution
		output["threat_score"] = sandbox.CalculateThreatScore(*execution)
	}
	return output, nil
}

// classifyThreat applies the file-analysis threat rules.
func classifyThreat(scan model.ScanResult, report model.ExecutableReport, execution *model.ExecutionReport, packed, suspiciousImports, highEntropySection bool) string {
	criticalMatch := false
	for _, m := range scan.Matches {
		if strings.EqualFold(m.Metadata["severity"], "critical") {
			criticalMatch = true
			break
		}
	}

	severeEvents := 0
	behavioralEvents := 0
	techniques := 0
	if execution != nil {
		behavioralEvents = len(execution.BehavioralEvents)
		techniques = len(execution.MappedTechniques)
		for _, e := range execution.BehavioralEvents {
			if e.Severity == model.BehaviorHigh || e.Severity == model.BehaviorCritical {
				severeEvents++
			}
		}
	}

	switch {
	case criticalMatch || len(scan.Matches) >= 3 || severeEvents >= 3:
		return "critical"
	case len(scan.Matches) >= 1 || suspiciousImports || packed || techniques > 0:
		return "suspicious"
	case highEntropySection || behavioralEvents >= 1:
		return "low"
	default:
		return "benign"
	}
}

func isPacked(report model.ExecutableReport) bool {
	for _, sig := range report.Signatures {
		if sig.Category == "packer" {
			return true
		}
	}
	return false
}

func hasSuspiciousImports(report model.ExecutableReport) bool {
	for _, imp := range report.Imports {
		if imp.Suspicious {
			return true
		}
	}
	return false
}

func hasHighEntropySection(report model.ExecutableReport) bool {
	for _, sec := range report.Sections {
		if sec.Entropy > 7.0 {
			return true
		}
	}
	return false
}

// runBatchScan pattern-scans every listed file; progress tracks
// index/total.
func (r *Runner) runBatchScan(job *model.Job) (map[string]any, error) {
	paths, err := inputStrings(job.Input, "file_paths")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, analysiserr.New(analysiserr.InputError, "batch scan requires at least one file")
	}

	perFile := make(map[string]any, len(paths))
	totalMatches := 0
	for i, path := range paths {
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			perFile[name] = map[string]any{"error": "unreadable"}
		} else {
			scan := scanner.Scan(data)
			perFile[name] = map[string]any{"matches": len(scan.Matches)}
			totalMatches += len(scan.Matches)
		}
		r.progress(job, float64(i+1)/float64(len(paths)), "scanned "+name)
	}

	return map[string]any{
		"files_scanned": len(paths),
		"total_matches": totalMatches,
		"per_file":      perFile,
	}, nil
}

// runThreatHunt walks the directory two levels deep, restricted to the
// provided *.ext patterns, scanning each candidate.
func (r *Runner) runThreatHunt(job *model.Job) (map[string]any, error) {
	dir, err := inputString(job.Input, "directory")
	if err != nil {
		return nil, err
	}
	patterns, err := inputStrings(job.Input, "patterns")
	if err != nil {
		return nil, err
	}

	candidates, err := huntCandidates(dir, patterns)
	if err != nil {
		return nil, err
	}

	var hits []map[string]any
	for i, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		scan := scanner.Scan(data)
		if len(scan.Matches) == 0 {
			continue
		}
		hits = append(hits, map[string]any{
			"file":     filepath.Base(path),
			"matches":  len(scan.Matches),
			"severity": huntSeverity(scan),
		})
		if len(candidates) > 0 {
			r.progress(job, float64(i+1)/float64(len(candidates)), "hunted "+filepath.Base(path))
		}
	}

	return map[string]any{
		"candidates": len(candidates),
		"hits":       hits,
	}, nil
}

// huntCandidates does the two-level recursive walk restricted to *.ext
// patterns.
func huntCandidates(dir string, patterns []string) ([]string, error) {
	matchesPattern := func(name string) bool {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, name); ok {
				return true
			}
		}
		return false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.InputError, "read hunt directory", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			subEntries, err := os.ReadDir(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			for _, sub := range subEntries {
				if !sub.IsDir() && matchesPattern(sub.Name()) {
					out = append(out, filepath.Join(dir, entry.Name(), sub.Name()))
				}
			}
			continue
		}
		if matchesPattern(entry.Name()) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}

// huntSeverity classifies a hunt hit: critical-severity match is
// critical, more than two matches high, else medium.
func huntSeverity(scan model.ScanResult) string {
	for _, m := range scan.Matches {
		if strings.EqualFold(m.Metadata["severity"], "critical") {
			return "critical"
		}
	}
	if len(scan.Matches) > 2 {
		return "high"
	}
	return "medium"
}

// runReportGeneration dispatches to the external collaborator.
func (r *Runner) runReportGeneration(job *model.Job) (map[string]any, error) {
	if r.generator == nil {
		return nil, analysiserr.New(analysiserr.InputError, "no report generator is configured")
	}
	format, err := inputString(job.Input, "format")
	if err != nil {
		return nil, err
	}
	name, err := inputString(job.Input, "file_name")
	if err != nil {
		return nil, err
	}
	data, _ := job.Input["data"].(map[string]any)
	r.progress(job, 0.5, "dispatching to report generator")
	return r.generator(data, format, name)
}
