package sandbox

import "github.com/marmos91/triage/pkg/model"

// ThreatLevel buckets an aggregate score.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// ThreatScoreResult is the scored assessment of one execution report.
type ThreatScoreResult struct {
	Score   int
	Level   ThreatLevel
	Factors []string
}

// CalculateThreatScore is pure over the report: severity-weighted
// events (critical 25, high 15, medium 8, low 3), confidence×20 per
// mapped technique, +30 for any ptrace activity, clamped to [0,100].
func CalculateThreatScore(report model.ExecutionReport) ThreatScoreResult {
	var result ThreatScoreResult
	score := 0.0

	for _, event := range report.BehavioralEvents {
		var eventScore float64
		switch event.Severity {
		case model.BehaviorCritical:
			eventScore = 25
		case model.BehaviorHigh:
			eventScore = 15
		case model.BehaviorMedium:
			eventScore = 8
		case model.BehaviorLow:
			eventScore = 3
		default:
			eventScore = 1
		}
		score += eventScore
		if eventScore >= 15 {
			detail := event.Description
			if len(detail) > 50 {
				detail = detail[:50]
			}
			result.Factors = append(result.Factors, string(event.Severity)+": "+detail)
		}
	}

	for _, technique := range report.MappedTechniques {
		score += technique.Confidence * 20
		result.Factors = append(result.Factors, "technique "+technique.ID+": "+technique.Name)
	}

	if report.SyscallCounts["ptrace"] > 0 {
		score += 30
		result.Factors = append(result.Factors, "process injection signals (ptrace)")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	result.Score = int(score)

	switch {
	case result.Score >= 75:
		result.Level = ThreatCritical
	case result.Score >= 50:
		result.Level = ThreatHigh
	case result.Score >= 25:
		result.Level = ThreatMedium
	default:
		result.Level = ThreatLow
	}
	return result
}
