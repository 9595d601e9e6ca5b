package jobqueue

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/triage/pkg/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSubmitRejectsUnknownWorkflow(t *testing.T) {
	r := NewRunner(NewMemoryStore())
	_, err := r.Submit("mystery", nil)
	require.Error(t, err)
}

func TestFileAnalysisWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "benign.txt", "nothing interesting in here at all")

	var events []model.ProgressEvent
	r := NewRunner(NewMemoryStore(), WithProgressHook(func(e model.ProgressEvent) {
		events = append(events, e)
	}))

	job, err := r.Submit(model.WorkflowFileAnalysis, map[string]any{"file_path": path})
	require.NoError(t, err)

	done, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobSucceeded, done.Status)
	require.Equal(t, 1.0, done.Progress)
	require.Equal(t, "benign", done.Output["threat_level"])
	require.NotEmpty(t, done.Log)
	require.NotEmpty(t, events)

	// Progress events stay within [0,1] and reach the late stages.
	var sawLate bool
	for _, e := range events {
		require.GreaterOrEqual(t, e.Progress, 0.0)
		require.LessOrEqual(t, e.Progress, 1.0)
		if e.Progress >= 0.95 {
			sawLate = true
		}
	}
	require.True(t, sawLate)
}

func TestFileAnalysisSuspiciousOnPatternMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dropper.bin", "some UPX! packed payload")

	r := NewRunner(NewMemoryStore())
	job, err := r.Submit(model.WorkflowFileAnalysis, map[string]any{"file_path": path})
	require.NoError(t, err)

	done, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	require.Contains(t, []string{"suspicious", "critical"}, done.Output["threat_level"])
}

func TestFileAnalysisMissingFileFails(t *testing.T) {
	r := NewRunner(NewMemoryStore())
	job, err := r.Submit(model.WorkflowFileAnalysis, map[string]any{"file_path": "/does/not/exist"})
	require.NoError(t, err)

	done, runErr := r.Run(context.Background(), job.ID)
	require.Error(t, runErr)
	require.Equal(t, model.JobFailed, done.Status)
	require.NotEmpty(t, done.Error)

	// Terminal: further runs are rejected.
	_, err = r.Run(context.Background(), job.ID)
	require.Error(t, err)
}

func TestBatchScanWorkflow(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", "clean file")
	b := writeFile(t, dir, "b.bin", "UPX! marker inside")

	r := NewRunner(NewMemoryStore())
	job, err := r.Submit(model.WorkflowBatchScan, map[string]any{
		"file_paths": []string{a, b, "/missing/c.bin"},
	})
	require.NoError(t, err)

	done, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 3, done.Output["files_scanned"])
	require.GreaterOrEqual(t, done.Output["total_matches"].(int), 1)

	perFile := done.Output["per_file"].(map[string]any)
	require.Contains(t, perFile, "c.bin")
}

func TestThreatHuntWorkflow(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clean.sh", "echo hello")
	writeFile(t, dir, filepath.Join("sub", "evil.sh"), "your files have been encrypted, pay bitcoin")
	writeFile(t, dir, filepath.Join("sub", "ignored.txt"), "your files have been encrypted")

	r := NewRunner(NewMemoryStore())
	job, err := r.Submit(model.WorkflowThreatHunt, map[string]any{
		"directory": dir,
		"patterns":  []string{"*.sh"},
	})
	require.NoError(t, err)

	done, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, done.Output["candidates"], "txt excluded by pattern")

	hits := done.Output["hits"].([]map[string]any)
	require.Len(t, hits, 1)
	require.Equal(t, "evil.sh", hits[0]["file"])
	require.Equal(t, "critical", hits[0]["severity"])
}

func TestReportGenerationDispatches(t *testing.T) {
	var gotFormat, gotName string
	r := NewRunner(NewMemoryStore(), WithReportGenerator(
		func(data map[string]any, format, name string) (map[string]any, error) {
			gotFormat, gotName = format, name
			return map[string]any{"url": "file:///tmp/out.pdf", "format": format}, nil
		}))

	job, err := r.Submit(model.WorkflowReportGeneration, map[string]any{
		"format":    "pdf",
		"file_name": "report-1",
		"data":      map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	done, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, "pdf", gotFormat)
	require.Equal(t, "report-1", gotName)
	require.Equal(t, "pdf", done.Output["format"])
}

func TestClassifyThreatRules(t *testing.T) {
	criticalScan := model.ScanResult{Matches: []model.RuleMatch{
		{Metadata: map[string]string{"severity": "critical"}},
	}}
	require.Equal(t, "critical",
		classifyThreat(criticalScan, model.ExecutableReport{}, nil, false, false, false))

	threeMatches := model.ScanResult{Matches: make([]model.RuleMatch, 3)}
	require.Equal(t, "critical",
		classifyThreat(threeMatches, model.ExecutableReport{}, nil, false, false, false))

	require.Equal(t, "suspicious",
		classifyThreat(model.ScanResult{}, model.ExecutableReport{}, nil, true, false, false))

	require.Equal(t, "low",
		classifyThreat(model.ScanResult{}, model.ExecutableReport{}, nil, false, false, true))

	require.Equal(t, "benign",
		classifyThreat(model.ScanResult{}, model.ExecutableReport{}, nil, false, false, false))

	exec := &model.ExecutionReport{BehavioralEvents: []model.BehavioralEvent{
		{Severity: model.BehaviorCritical}, {Severity: model.BehaviorHigh}, {Severity: model.BehaviorHigh},
	}}
	require.Equal(t, "critical",
		classifyThreat(model.ScanResult{}, model.ExecutableReport{}, exec, false, false, false))
}
