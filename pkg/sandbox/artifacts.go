package sandbox

import (
	"archive/tar"
	"bytes"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/triage/pkg/model"
)

// parsedArtifacts is everything recovered from the output tar.
type parsedArtifacts struct {
	FileOperations   []model.FileOperation
	BehavioralEvents []model.BehavioralEvent
	SyscallCounts    map[string]int
	Processes        []model.ProcessInfo
	MemoryDumps      []model.MemoryDumpDescriptor
	PCAP             []byte
	Summary          string
	Stdout           string
}

// syscallRule classifies one suspicious syscall family.
type syscallRule struct {
	severity    model.BehavioralSeverity
	description string
	techniqueID string
}

// classifySyscall maps a syscall (with its full trace line, for
// argument-sensitive rules) to a severity and technique.
func classifySyscall(name, line string) (syscallRule, bool) {
	switch name {
	case "execve":
		return syscallRule{model.BehaviorHigh, "Process execution detected", "T1059"}, true
	case "fork", "clone", "clone3":
		return syscallRule{model.BehaviorMedium, "Process creation detected", "T1106"}, true
	case "connect":
		return syscallRule{model.BehaviorHigh, "Network connection attempt", "T1071"}, true
	case "socket":
		return syscallRule{model.BehaviorMedium, "Socket creation detected", "T1095"}, true
	case "open", "openat":
		if strings.Contains(line, "/etc/passwd") || strings.Contains(line, "/etc/shadow") {
			return syscallRule{model.BehaviorCritical, "Credential file access detected", "T1003"}, true
		}
	case "ptrace":
		return syscallRule{model.BehaviorCritical, "Process injection/debugging detected", "T1055"}, true
	case "mprotect":
		if strings.Contains(line, "PROT_EXEC") {
			return syscallRule{model.BehaviorHigh, "Memory protection change (executable)", "T1055"}, true
		}
	case "unlink", "unlinkat":
		return syscallRule{model.BehaviorMedium, "File deletion detected", "T1070"}, true
	case "chmod", "fchmod":
		return syscallRule{model.BehaviorMedium, "Permission modification detected", "T1222"}, true
	case "setuid", "setgid":
		return syscallRule{model.BehaviorHigh, "Privilege change detected", "T1548"}, true
	}
	return syscallRule{}, false
}

// ParseArtifactTar walks the output archive and dispatches each known
// entry to its parser.
func ParseArtifactTar(data []byte) parsedArtifacts {
	artifacts := parsedArtifacts{SyscallCounts: map[string]int{}}

	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(tr, 64*1024*1024))
		if err != nil {
			continue
		}

		name := hdr.Name
		switch {
		case strings.HasSuffix(name, "file_events.log"):
			artifacts.FileOperations = ParseFileEvents(string(content))
		case strings.HasSuffix(name, "syscalls.log"):
			artifacts.BehavioralEvents, artifacts.SyscallCounts = ParseSyscalls(string(content))
			artifacts.Processes = ExtractProcesses(string(content))
		case strings.HasSuffix(name, "summary.log"):
			artifacts.Summary = string(content)
		case strings.HasSuffix(name, "stdout.log"):
			artifacts.Stdout = string(content)
		case strings.HasSuffix(name, "network.pcap"):
			artifacts.PCAP = content
		case strings.Contains(name, "/memory/") || strings.HasPrefix(name, "memory/"):
			if dump, ok := ParseMemoryDumpName(path.Base(name)); ok {
				artifacts.MemoryDumps = append(artifacts.MemoryDumps, dump)
			}
		}
	}
	return artifacts
}

// ParseFileEvents parses whitespace-separated lines of
// "timestamp path event".
func ParseFileEvents(content string) []model.FileOperation {
	var ops []model.FileOperation
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		ts, _ := strconv.ParseInt(fields[0], 10, 64)
		ops = append(ops, model.FileOperation{
			TimestampMs: ts,
			Path:        fields[1],
			Event:       fields[2],
		})
	}
	return ops
}

// ParseSyscalls reads strace-formatted lines ("PID time name(args) =
// result"), counting every syscall and raising behavioral events for
// the suspicious ones.
func ParseSyscalls(content string) ([]model.BehavioralEvent, map[string]int) {
	var events []model.BehavioralEvent
	counts := map[string]int{}
	now := time.Now().UnixMilli()

	for _, line := range strings.Split(content, "\n") {
		nameStart := strings.IndexFunc(line, func(r rune) bool {
			return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
		})
		if nameStart < 0 {
			continue
		}
		parenOffset := strings.IndexByte(line[nameStart:], '(')
		if parenOffset <= 0 {
			continue
		}
		name := line[nameStart : nameStart+parenOffset]
		if strings.ContainsAny(name, " \t") {
			continue
		}
		counts[name]++

		rule, suspicious := classifySyscall(name, line)
		if !suspicious {
			continue
		}
		detail := line
		if len(detail) > 200 {
			detail = detail[:200]
		}
		events = append(events, model.BehavioralEvent{
			TimestampMs: now,
			EventType:   name,
			Description: rule.description + ": " + detail,
			Severity:    rule.severity,
			TechniqueID: rule.techniqueID,
		})
	}
	return events, counts
}

// ExtractProcesses interprets the first token of each line as a PID,
// deduplicated.
func ExtractProcesses(content string) []model.ProcessInfo {
	seen := map[int]bool{}
	var processes []model.ProcessInfo
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil || seen[pid] {
			continue
		}
		seen[pid] = true

		cmdline := "unknown"
		if strings.Contains(line, "execve(") {
			cmdline = line
			if len(cmdline) > 100 {
				cmdline = cmdline[:100]
			}
		}
		processes = append(processes, model.ProcessInfo{
			PID:     pid,
			Name:    "process_" + fields[0],
			Cmdline: cmdline,
		})
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].PID < processes[j].PID })
	return processes
}

// ParseMemoryDumpName decodes <kind>_<pid>_<trigger>_<ts> dump file
// names. The trigger maps: syscall-kind → SuspiciousSyscall(name),
// exit → ProcessExit, child and anything else → ProcessStart.
func ParseMemoryDumpName(filename string) (model.MemoryDumpDescriptor, bool) {
	base := strings.TrimSuffix(filename, ".bin")
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return model.MemoryDumpDescriptor{}, false
	}
	kind := parts[0]
	switch kind {
	case "core", "region", "dump":
	default:
		return model.MemoryDumpDescriptor{}, false
	}

	pid, _ := strconv.Atoi(parts[1])
	var trigger string
	switch {
	case strings.HasPrefix(parts[2], "syscall"):
		name := "unknown"
		if len(parts) > 3 && parts[2] == "syscall" {
			name = parts[3]
		} else if rest, ok := strings.CutPrefix(parts[2], "syscall-"); ok {
			name = rest
		}
		trigger = "SuspiciousSyscall(" + name + ")"
	case parts[2] == "exit":
		trigger = "ProcessExit"
	case parts[2] == "child":
		trigger = "ProcessStart"
	default:
		trigger = "ProcessStart"
	}

	return model.MemoryDumpDescriptor{
		Kind:      kind,
		PID:       pid,
		Trigger:   trigger,
		Timestamp: time.Now(),
		Path:      outputDir + "memory/" + filename,
	}, true
}
