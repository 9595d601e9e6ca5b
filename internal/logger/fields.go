package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are designed to be pipeline-agnostic, supporting the static,
// dynamic, and job-orchestration subsystems equally. Use these keys
// consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Job Orchestration
	// ========================================================================
	KeyJobID       = "job_id"
	KeyWorkflow    = "workflow"     // file-analysis, batch-scan, threat-hunt, report-generation
	KeyJobStatus   = "job_status"   // pending, running, succeeded, failed
	KeyProgress    = "progress"     // 0..1
	KeyStage       = "stage"        // pipeline stage name (disassemble, build-cfg, lower-ir, ...)

	// ========================================================================
	// Sample / Quarantine
	// ========================================================================
	KeySampleHash = "sample_sha256"
	KeyFilename   = "filename"
	KeySize       = "size"
	KeyFileType   = "file_type"
	KeyDuplicate  = "duplicate"

	// ========================================================================
	// Executable Analysis
	// ========================================================================
	KeyFormat     = "format" // pe, elf, macho, unknown
	KeySection    = "section"
	KeyImphash    = "imphash"
	KeyEntropy    = "entropy"
	KeyTrustLevel = "trust_level"

	// ========================================================================
	// Code Reasoning Pipeline
	// ========================================================================
	KeyFunction     = "function"
	KeyBlockCount   = "block_count"
	KeyInstrCount   = "instruction_count"
	KeyLoopCount    = "loop_count"
	KeyComplexity   = "cyclomatic_complexity"

	// ========================================================================
	// Sandbox / Dynamic Execution
	// ========================================================================
	KeyContainerID = "container_id"
	KeySessionID   = "session_id"
	KeyThreatScore = "threat_score"
	KeyThreatLevel = "threat_level"
	KeyTechnique   = "technique_id"

	// ========================================================================
	// Network Capture
	// ========================================================================
	KeyCaptureID = "capture_id"
	KeyInterface = "interface"
	KeyProtocol  = "protocol"
	KeySrcIP     = "src_ip"
	KeyDstIP     = "dst_ip"
	KeyDstPort   = "dst_port"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeySource     = "source"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
)

// JobID returns a slog.Attr for the job identifier.
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// Workflow returns a slog.Attr for the workflow kind.
func Workflow(kind string) slog.Attr {
	return slog.String(KeyWorkflow, kind)
}

// Progress returns a slog.Attr for job progress in [0,1].
func Progress(p float64) slog.Attr {
	return slog.Float64(KeyProgress, p)
}

// SampleHash returns a slog.Attr for the sample's SHA-256 digest.
func SampleHash(sha256Hex string) slog.Attr {
	return slog.String(KeySampleHash, sha256Hex)
}

// Filename returns a slog.Attr for a sanitized filename.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Size returns a slog.Attr for a byte size.
func Size(n uint64) slog.Attr {
	return slog.Uint64(KeySize, n)
}

// Format returns a slog.Attr for the detected executable format.
func Format(f string) slog.Attr {
	return slog.String(KeyFormat, f)
}

// Entropy returns a slog.Attr for a Shannon entropy value.
func Entropy(h float64) slog.Attr {
	return slog.Float64(KeyEntropy, h)
}

// ThreatScore returns a slog.Attr for the aggregate threat score.
func ThreatScore(score int) slog.Attr {
	return slog.Int(KeyThreatScore, score)
}

// ThreatLevel returns a slog.Attr for the classified threat level.
func ThreatLevel(level string) slog.Attr {
	return slog.String(KeyThreatLevel, level)
}

// SessionID returns a slog.Attr for a sandbox session id.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// ContainerID returns a slog.Attr for a container id.
func ContainerID(id string) slog.Attr {
	return slog.String(KeyContainerID, id)
}

// CaptureID returns a slog.Attr for a packet-capture session id.
func CaptureID(id string) slog.Attr {
	return slog.String(KeyCaptureID, id)
}

// Interface returns a slog.Attr for a network interface name.
func Interface(name string) slog.Attr {
	return slog.String(KeyInterface, name)
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error value; a nil error yields an empty
// attr, which slog handlers omit.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
