package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/jobqueue"
	"github.com/marmos91/triage/pkg/model"
	"github.com/marmos91/triage/pkg/sandbox"
	"github.com/marmos91/triage/pkg/scanner"
)

// openJobStore selects the persisted store when configured, the
// in-memory store otherwise.
func openJobStore() (jobqueue.Store, func(), error) {
	if cfg.Jobs.StorePath == "" {
		s := jobqueue.NewMemoryStore()
		return s, func() {}, nil
	}
	s, err := jobqueue.OpenBadgerStore(cfg.Jobs.StorePath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func readSample(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// sandboxDetonator adapts the orchestrator to the runner's Detonator
// interface, creating a fresh connection per execution.
type sandboxDetonator struct{}

func (sandboxDetonator) Available(ctx context.Context) bool {
	return sandbox.Available(ctx)
}

func (sandboxDetonator) Execute(ctx context.Context, samplePath string) (model.ExecutionReport, error) {
	orch, err := sandbox.New(ctx)
	if err != nil {
		return model.ExecutionReport{}, err
	}
	defer orch.Close()
	return orch.ExecuteSample(ctx, sandbox.Request{
		SamplePath:  samplePath,
		Timeout:     cfg.Sandbox.Timeout,
		MemoryLimit: cfg.Sandbox.MemoryLimit.Int64(),
		Image:       cfg.Sandbox.Image,
		PidsLimit:   cfg.Sandbox.PidsLimit,
	})
}

// serveCmd exposes the job-status API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job submission and status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Scanner.RulesPath != "" {
			scanner.SetRulesPath(cfg.Scanner.RulesPath)
		}

		store, closeStore, err := openJobStore()
		if err != nil {
			return err
		}
		defer closeStore()

		runner := jobqueue.NewRunner(store,
			jobqueue.WithDetonator(sandboxDetonator{}),
		)

		addr := fmt.Sprintf(":%d", cfg.Jobs.APIPort)
		server := &http.Server{
			Addr:              addr,
			Handler:           jobqueue.NewHTTPHandler(runner),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("job API listening", logger.Filename(addr))
		return server.ListenAndServe()
	},
}
