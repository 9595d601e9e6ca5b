package commands

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/marmos91/triage/pkg/jobqueue"
	"github.com/marmos91/triage/pkg/model"
	"github.com/marmos91/triage/pkg/sample"
	"github.com/marmos91/triage/pkg/scanner"
)

// analyzeCmd runs the file-analysis workflow in-process and prints the
// aggregate result.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Run the static analysis pipeline over a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Scanner.RulesPath != "" {
			scanner.SetRulesPath(cfg.Scanner.RulesPath)
		}

		runner := jobqueue.NewRunner(jobqueue.NewMemoryStore())
		job, err := runner.Submit(model.WorkflowFileAnalysis, map[string]any{
			"file_path": args[0],
		})
		if err != nil {
			return err
		}
		done, err := runner.Run(context.Background(), job.ID)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(done.Output, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

// submitCmd quarantines a file and enqueues a persisted analysis job.
var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Quarantine a sample and enqueue a persisted analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sample.Open(sample.Config{BaseDir: cfg.Quarantine.BaseDir})
		if err != nil {
			return err
		}
		defer store.Close()

		data, err := readSample(args[0])
		if err != nil {
			return err
		}
		stored, err := store.Store(data, args[0])
		if err != nil {
			return err
		}
		cmd.Printf("sample %s quarantined (duplicate=%v)\n", stored.SHA256, stored.IsDuplicate)

		jobStore, closeStore, err := openJobStore()
		if err != nil {
			return err
		}
		defer closeStore()

		runner := jobqueue.NewRunner(jobStore)
		staged, err := store.StageForAnalysis(stored.SHA256)
		if err != nil {
			return err
		}
		job, err := runner.Submit(model.WorkflowFileAnalysis, map[string]any{
			"file_path": staged,
		})
		if err != nil {
			return err
		}
		cmd.Printf("job %s enqueued\n", job.ID)

		done, err := runner.Run(context.Background(), job.ID)
		if err != nil {
			return err
		}
		cmd.Printf("job %s: %s (threat level: %v)\n", done.ID, done.Status, done.Output["threat_level"])
		return nil
	},
}
