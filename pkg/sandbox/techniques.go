package sandbox

import (
	"strings"

	"github.com/marmos91/triage/pkg/model"
)

// techniqueNames maps attack-taxonomy ids to their names.
var techniqueNames = map[string]string{
	"T1059": "Command and Scripting Interpreter",
	"T1106": "Native API",
	"T1071": "Application Layer Protocol",
	"T1095": "Non-Application Layer Protocol",
	"T1003": "OS Credential Dumping",
	"T1055": "Process Injection",
	"T1070": "Indicator Removal",
	"T1222": "File and Directory Permissions Modification",
	"T1548": "Abuse Elevation Control Mechanism",
	"T1547": "Boot or Logon Autostart Execution",
}

// TechniqueName resolves an id, falling back to "Unknown Technique".
func TechniqueName(id string) string {
	if name, ok := techniqueNames[id]; ok {
		return name
	}
	return "Unknown Technique"
}

// persistencePaths mark writes that establish autostart persistence.
var persistencePaths = []string{".bashrc", ".profile", "crontab", "/etc/init"}

// MapTechniques combines three signals into the deduplicated technique
// list: behavioral events' direct ids (confidence 0.8), persistence
// file writes (T1547, 0.7), and the socket+connect pair (T1071, 0.6).
func MapTechniques(events []model.BehavioralEvent, fileOps []model.FileOperation, syscalls map[string]int) []model.MappedTechnique {
	seen := map[string]bool{}
	var techniques []model.MappedTechnique

	for _, event := range events {
		if event.TechniqueID == "" || seen[event.TechniqueID] {
			continue
		}
		seen[event.TechniqueID] = true
		techniques = append(techniques, model.MappedTechnique{
			ID:          event.TechniqueID,
			Name:        TechniqueName(event.TechniqueID),
			Description: event.Description,
			Confidence:  0.8,
		})
	}

	for _, op := range fileOps {
		if seen["T1547"] {
			break
		}
		for _, marker := range persistencePaths {
			if strings.Contains(op.Path, marker) {
				seen["T1547"] = true
				techniques = append(techniques, model.MappedTechnique{
					ID:          "T1547",
					Name:        TechniqueName("T1547"),
					Description: "Persistence mechanism detected: " + op.Path,
					Confidence:  0.7,
				})
				break
			}
		}
	}

	if syscalls["socket"] > 0 && syscalls["connect"] > 0 && !seen["T1071"] {
		techniques = append(techniques, model.MappedTechnique{
			ID:          "T1071",
			Name:        TechniqueName("T1071"),
			Description: "Network communication detected via socket/connect syscalls",
			Confidence:  0.6,
		})
	}

	return techniques
}
