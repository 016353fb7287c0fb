package agent

import (
	"strings"
	"time"
)

// ScoreInput is everything scoring looks at. The function is pure so
// promotion verdicts can be recomputed from a trace.
type ScoreInput struct {
	// OutputText is the final assistant text.
	OutputText string

	// ExpectedFragments are substrings the output should contain.
	// Empty means no coverage expectation.
	ExpectedFragments []string

	// Latency is the total run duration.
	Latency time.Duration

	// OutputTokens is the total generated token count.
	OutputTokens int

	// SafetyViolations counts policy and inspector rejections.
	SafetyViolations int
}

// safetyPenalty is subtracted once per safety violation.
const safetyPenalty = 0.1

// ScoreExecution grades a finished run into [0, 1]. Coverage of the
// expected fragments carries half the weight; latency band and
// output-token economy split the rest. Safety violations subtract a
// flat penalty each.
func ScoreExecution(in ScoreInput) float64 {
	score := 0.5*fragmentCoverage(in.OutputText, in.ExpectedFragments) +
		0.25*latencyBand(in.Latency) +
		0.25*tokenEconomy(in.OutputTokens)

	score -= safetyPenalty * float64(in.SafetyViolations)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// fragmentCoverage is the case-insensitive fraction of expected
// fragments present in the output. No expectations score full marks.
func fragmentCoverage(output string, fragments []string) float64 {
	if len(fragments) == 0 {
		return 1.0
	}
	lowered := strings.ToLower(output)
	matched := 0
	for _, fragment := range fragments {
		if strings.Contains(lowered, strings.ToLower(fragment)) {
			matched++
		}
	}
	return float64(matched) / float64(len(fragments))
}

func latencyBand(latency time.Duration) float64 {
	switch {
	case latency < 30*time.Second:
		return 1.0
	case latency < 2*time.Minute:
		return 0.75
	case latency < 5*time.Minute:
		return 0.5
	case latency < 10*time.Minute:
		return 0.25
	default:
		return 0.1
	}
}

// tokenEconomy rewards concise runs. Zero tokens is suspicious rather
// than ideal, so it lands mid-band.
func tokenEconomy(outputTokens int) float64 {
	switch {
	case outputTokens <= 0:
		return 0.5
	case outputTokens <= 2000:
		return 1.0
	case outputTokens <= 8000:
		return 0.7
	case outputTokens <= 20000:
		return 0.4
	default:
		return 0.2
	}
}
