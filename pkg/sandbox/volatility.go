package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// volatilityBinaries are probed in order.
var volatilityBinaries = []string{"vol", "vol.py", "volatility3", "volatility"}

// VolatilityStatus reports whether a memory-forensics toolchain is on
// PATH.
type VolatilityStatus struct {
	Available bool
	Binary    string
}

// CheckVolatilityAvailable probes PATH for a volatility executable.
func CheckVolatilityAvailable() VolatilityStatus {
	for _, name := range volatilityBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return VolatilityStatus{Available: true, Binary: path}
		}
	}
	return VolatilityStatus{}
}

// AnalyzeMemoryWithVolatility runs the given plugin over a memory dump
// and returns the tool's output. The dump path never appears in error
// text, only its file name.
func AnalyzeMemoryWithVolatility(ctx context.Context, dumpPath, plugin string) (string, error) {
	status := CheckVolatilityAvailable()
	if !status.Available {
		return "", analysiserr.New(analysiserr.InputError, "no volatility binary found on PATH")
	}
	if plugin == "" {
		plugin = "linux.pslist"
	}

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(runCtx, status.Binary, "-f", dumpPath, plugin)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), analysiserr.Wrap(analysiserr.InputError,
			"volatility analysis of "+filepath.Base(dumpPath)+" failed", err)
	}
	return string(out), nil
}

// Status summarizes the orchestrator's environment for the status
// surface: host reachability and the volatility toolchain.
type Status struct {
	HostAvailable       bool
	VolatilityAvailable bool
}

// GetStatus probes the container host and the memory-forensics
// toolchain.
func GetStatus(ctx context.Context) Status {
	return Status{
		HostAvailable:       Available(ctx),
		VolatilityAvailable: CheckVolatilityAvailable().Available,
	}
}
