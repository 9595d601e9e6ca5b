package sandbox

import (
	"strings"

	"github.com/marmos91/triage/pkg/model"
)

// vmArtifactProbes are paths and markers a sample reads to detect that
// it runs virtualized; the sandbox environment hides these.
var vmArtifactProbes = []string{
	"/.dockerenv",
	"/sys/class/dmi/id/product_name",
	"/proc/scsi/scsi",
	"/proc/cpuinfo",
	"/sys/devices/virtual",
	"/proc/self/cgroup",
	"vmtoolsd",
	"VBoxService",
}

// HiddenVMArtifacts lists the artifact classes the anti-evasion
// environment conceals from samples.
func HiddenVMArtifacts() []string {
	return []string{
		"/proc/scsi/scsi entries (VM disk identifiers)",
		"/proc/cpuinfo hypervisor flag",
		"/sys/devices/virtual markers",
		"Docker container ID in cgroup",
		"VM tools processes (vmtoolsd, VBoxService)",
		"Guest additions markers",
		"VM vendor MAC address prefixes",
		"VM disk serial numbers",
		"VM BIOS strings (VirtualBox, VMware, QEMU)",
	}
}

// DetectEvasion post-processes an execution report for sandbox-evasion
// behavior: VM-artifact probes, PTRACE_TRACEME self-protection, long
// sleeps, and bulk file-probe patterns.
func DetectEvasion(report model.ExecutionReport) []model.EvasionFinding {
	var findings []model.EvasionFinding

	for _, event := range report.BehavioralEvents {
		switch event.EventType {
		case "open", "openat":
			for _, probe := range vmArtifactProbes {
				if strings.Contains(event.Description, probe) {
					findings = append(findings, model.EvasionFinding{
						TimestampMs:   event.TimestampMs,
						TechniqueType: "vm-artifact-probe",
						Description:   "sample probed " + probe,
					})
					break
				}
			}
			if strings.Contains(event.Description, "hypervisor") {
				findings = append(findings, model.EvasionFinding{
					TimestampMs:   event.TimestampMs,
					TechniqueType: "vm-artifact-probe",
					Description:   "sample searched for the cpuinfo hypervisor flag",
				})
			}
		case "ptrace":
			if strings.Contains(event.Description, "PTRACE_TRACEME") {
				findings = append(findings, model.EvasionFinding{
					TimestampMs:   event.TimestampMs,
					TechniqueType: "anti-debugging",
					Description:   "sample invoked ptrace(PTRACE_TRACEME) to block debuggers",
				})
			}
		case "nanosleep", "clock_nanosleep":
			if longSleep(event.Description) {
				findings = append(findings, model.EvasionFinding{
					TimestampMs:   event.TimestampMs,
					TechniqueType: "timing-evasion",
					Description:   "sample slept for an extended duration to outlast analysis",
				})
			}
		}
	}

	if report.SyscallCounts["openat"] > 10 {
		findings = append(findings, model.EvasionFinding{
			TechniqueType: "environment-probing",
			Description:   "bulk file probing pattern: more than ten openat calls",
		})
	}

	return findings
}

// longSleep spots sleep arguments of 30 seconds or more in a trace
// line like "nanosleep({tv_sec=120, tv_nsec=0}, ...)".
func longSleep(description string) bool {
	idx := strings.Index(description, "tv_sec=")
	if idx < 0 {
		return false
	}
	rest := description[idx+len("tv_sec="):]
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end <= 0 {
		end = len(rest)
	}
	secs := 0
	for _, c := range rest[:end] {
		secs = secs*10 + int(c-'0')
	}
	return secs >= 30
}
