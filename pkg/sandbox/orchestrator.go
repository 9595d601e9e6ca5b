// Package sandbox executes samples inside a locked-down container and
// turns the monitor agent's artifacts into an ExecutionReport.
//
// Availability reporting is intentionally shallow: the container host
// being reachable is reported as "sandbox available" without checking
// that the reference image actually exists. Image pull failures surface
// at container-creation time instead.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
	"github.com/marmos91/triage/pkg/netcap"
)

// Container-side layout expected by the monitor agent.
const (
	inputDir     = "/sandbox/input/"
	samplePath   = "/sandbox/input/sample"
	outputDir    = "/sandbox/output/"
	monitorAgent = "/usr/local/bin/monitor_agent.sh"

	// execGrace is added on top of the configured timeout so the agent
	// can flush its artifacts before the exec is abandoned.
	execGrace = 30 * time.Second
)

// Request configures one sandboxed execution.
type Request struct {
	SamplePath     string
	OSKind         string // linux, windows
	Timeout        time.Duration
	CaptureNetwork bool
	MemoryLimit    int64
	Image          string // overrides the per-OS default image
	PidsLimit      int64
}

// Orchestrator drives the container host.
type Orchestrator struct {
	cli *client.Client
}

// New connects to the container host and pings it.
func New(ctx context.Context) (*Orchestrator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseConnect, "create container client", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseConnect, "ping container host", err)
	}
	return &Orchestrator{cli: cli}, nil
}

// Close releases the client.
func (o *Orchestrator) Close() error { return o.cli.Close() }

// Available reports whether the container host answers a ping. The
// reference image is not checked.
func Available(ctx context.Context) bool {
	o, err := New(ctx)
	if err != nil {
		return false
	}
	o.Close()
	return true
}

// ExecuteSample runs the sample inside a fresh container. Teardown is
// guaranteed on every exit path, panics in the body included; cleanup
// failures are logged, never returned as the primary error.
func (o *Orchestrator) ExecuteSample(ctx context.Context, req Request) (report model.ExecutionReport, err error) {
	if req.Timeout <= 0 {
		req.Timeout = 60 * time.Second
	}
	if req.MemoryLimit <= 0 {
		req.MemoryLimit = 512 * 1024 * 1024
	}
	if req.PidsLimit <= 0 {
		req.PidsLimit = 256
	}

	sessionID := uuid.NewString()
	start := time.Now()
	report.SessionID = sessionID

	sample, err := os.ReadFile(req.SamplePath)
	if err != nil {
		return report, analysiserr.Wrap(analysiserr.InputError, "read sample for detonation", err)
	}

	containerID, err := o.createContainer(ctx, req)
	if err != nil {
		return report, err
	}
	logger.Info("sandbox container started",
		logger.SessionID(sessionID), logger.ContainerID(containerID))

	defer func() {
		if r := recover(); r != nil {
			err = analysiserr.New(analysiserr.ContainerError, fmt.Sprintf("panic during execution: %v", r))
		}
		if cleanupErr := o.cleanupContainer(containerID); cleanupErr != nil {
			logger.Warn("sandbox cleanup failed",
				logger.ContainerID(containerID), logger.Err(cleanupErr))
		}
	}()

	if err := o.copySampleIn(ctx, containerID, sample); err != nil {
		return report, err
	}

	exitCode, stdout, stderr, err := o.runMonitor(ctx, containerID, req.Timeout)
	if err != nil {
		return report, err
	}
	report.ExitCode = exitCode
	report.Stdout = stdout
	report.Stderr = stderr

	artifacts, err := o.downloadArtifacts(ctx, containerID)
	if err != nil {
		// Artifact loss degrades the report, it does not fail the run.
		logger.Warn("artifact download failed",
			logger.ContainerID(containerID), logger.Err(err))
		artifacts = parsedArtifacts{}
	}

	report.FileOperations = artifacts.FileOperations
	report.BehavioralEvents = artifacts.BehavioralEvents
	report.SyscallCounts = artifacts.SyscallCounts
	report.Processes = artifacts.Processes
	report.MemoryDumps = artifacts.MemoryDumps
	if len(artifacts.PCAP) > 0 {
		if packets, perr := netcap.ParsePCAP(artifacts.PCAP); perr == nil {
			report.NetworkConnections = netcap.Connections(packets)
		}
	}
	report.MappedTechniques = MapTechniques(report.BehavioralEvents, report.FileOperations, report.SyscallCounts)
	report.ElapsedMs = time.Since(start).Milliseconds()

	logger.Info("sandbox execution finished",
		logger.SessionID(sessionID),
		logger.DurationMs(float64(report.ElapsedMs)))
	return report, nil
}

// createContainer builds the locked-down container: memory and swap
// pinned to the same limit, one CPU, no network, all capabilities
// dropped except SYS_PTRACE, no-new-privileges, bounded pids.
func (o *Orchestrator) createContainer(ctx context.Context, req Request) (string, error) {
	image := req.Image
	if image == "" {
		if strings.EqualFold(req.OSKind, "windows") {
			image = "triage/sandbox-windows:latest"
		} else {
			image = "triage/sandbox-linux:latest"
		}
	}

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     strslice.StrSlice{"ALL"},
		CapAdd:      strslice.StrSlice{"SYS_PTRACE"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     req.MemoryLimit,
			MemorySwap: req.MemoryLimit, // equal limits: no swap
			NanoCPUs:   1_000_000_000,   // 1 CPU
			PidsLimit:  &req.PidsLimit,
		},
	}
	config := &container.Config{
		Image:           image,
		NetworkDisabled: true,
		AttachStdout:    true,
		AttachStderr:    true,
		Tty:             false,
	}

	name := "triage-sandbox-" + uuid.NewString()
	created, err := o.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return "", analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseCreate, "create sandbox container", err)
	}
	if err := o.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = o.cleanupContainer(created.ID)
		return "", analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseCreate, "start sandbox container", err)
	}
	return created.ID, nil
}

// copySampleIn uploads a one-entry tar holding the sample (mode 0755).
func (o *Orchestrator) copySampleIn(ctx context.Context, containerID string, sample []byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    "sample",
		Mode:    0o755,
		Size:    int64(len(sample)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseUpload, "build sample archive", err)
	}
	if _, err := tw.Write(sample); err != nil {
		return analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseUpload, "build sample archive", err)
	}
	if err := tw.Close(); err != nil {
		return analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseUpload, "build sample archive", err)
	}

	if err := o.cli.CopyToContainer(ctx, containerID, inputDir, &buf, container.CopyToContainerOptions{}); err != nil {
		return analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseUpload, "upload sample", err)
	}
	return nil
}

// runMonitor execs the monitor agent and captures stdout/stderr until
// the stream ends, bounded by timeout + grace.
func (o *Orchestrator) runMonitor(ctx context.Context, containerID string, timeout time.Duration) (int, string, string, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout+execGrace)
	defer cancel()

	execResp, err := o.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{monitorAgent, samplePath, fmt.Sprintf("%d", int(timeout.Seconds()))},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, "", "", analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseExec, "create monitor exec", err)
	}

	attach, err := o.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, "", "", analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseExec, "attach monitor exec", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		if execCtx.Err() != nil {
			return 0, stdout.String(), stderr.String(),
				analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseTimeout, "monitor exec exceeded its deadline", execCtx.Err())
		}
		return 0, stdout.String(), stderr.String(),
			analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseExec, "read monitor output", err)
	}

	inspect, err := o.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, stdout.String(), stderr.String(), nil
	}
	return inspect.ExitCode, stdout.String(), stderr.String(), nil
}

// downloadArtifacts pulls the output directory as a tar stream and
// parses the known entries.
func (o *Orchestrator) downloadArtifacts(ctx context.Context, containerID string) (parsedArtifacts, error) {
	reader, _, err := o.cli.CopyFromContainer(ctx, containerID, outputDir)
	if err != nil {
		return parsedArtifacts{}, analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseDownload, "download artifacts", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return parsedArtifacts{}, analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseDownload, "read artifact stream", err)
	}
	return ParseArtifactTar(data), nil
}

// cleanupContainer stops and forcibly removes the container.
func (o *Orchestrator) cleanupContainer(containerID string) error {
	// Cleanup must run even when the caller's context is already dead.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = o.cli.ContainerStop(ctx, containerID, container.StopOptions{})
	if err := o.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return analysiserr.WithPhase(analysiserr.ContainerError, analysiserr.PhaseCleanup, "remove sandbox container", err)
	}
	return nil
}
