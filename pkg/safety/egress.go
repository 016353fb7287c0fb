package safety

import (
	"fmt"
	"strings"
)

// PolicyOutcome is the three-way result shared by the egress and tool
// policies.
type PolicyOutcome string

const (
	OutcomeAllow         PolicyOutcome = "allow"
	OutcomeNeedsApproval PolicyOutcome = "needs_approval"
	OutcomeDeny          PolicyOutcome = "deny"
)

// EgressMode controls how strictly external hosts are policed.
type EgressMode string

const (
	EgressOff     EgressMode = "off"
	EgressAudit   EgressMode = "audit"
	EgressEnforce EgressMode = "enforce"
)

// In enforce mode, up to this many unknown hosts escalate to approval
// instead of an outright deny.
const maxUnknownHostsForApproval = 3

// EgressInput carries everything the egress policy needs for a decision.
type EgressInput struct {
	Hosts          []string
	Mode           EgressMode
	AllowHosts     []string
	ExceptionHosts []string

	// CriticalRisk marks that the same command was classified critical by
	// the inspector; in enforce mode that forces a deny.
	CriticalRisk bool
}

// EgressResult is the policy decision plus the hosts that triggered it.
type EgressResult struct {
	Decision     PolicyOutcome `json:"decision"`
	BlockedHosts []string      `json:"blockedHosts,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// EvaluateEgress decides whether a command touching the given hosts may run.
func EvaluateEgress(in EgressInput) EgressResult {
	if in.Mode == EgressOff || in.Mode == "" {
		return EgressResult{Decision: OutcomeAllow}
	}

	known := make(map[string]bool, len(in.AllowHosts)+len(in.ExceptionHosts))
	for _, h := range in.AllowHosts {
		known[strings.ToLower(h)] = true
	}
	for _, h := range in.ExceptionHosts {
		known[strings.ToLower(h)] = true
	}

	var unknown []string
	for _, h := range in.Hosts {
		if !known[strings.ToLower(h)] {
			unknown = append(unknown, strings.ToLower(h))
		}
	}

	if in.Mode == EgressAudit {
		result := EgressResult{Decision: OutcomeAllow, BlockedHosts: unknown}
		if len(unknown) > 0 {
			result.Reason = fmt.Sprintf("%d host(s) not in allowlist (audit mode)", len(unknown))
		}
		return result
	}

	// Enforce mode from here.
	if in.CriticalRisk {
		return EgressResult{
			Decision:     OutcomeDeny,
			BlockedHosts: unknown,
			Reason:       "critical-risk command with external egress",
		}
	}
	if len(unknown) == 0 {
		return EgressResult{Decision: OutcomeAllow}
	}
	if len(unknown) <= maxUnknownHostsForApproval {
		return EgressResult{
			Decision:     OutcomeNeedsApproval,
			BlockedHosts: unknown,
			Reason:       fmt.Sprintf("%d host(s) not in allowlist", len(unknown)),
		}
	}
	return EgressResult{
		Decision:     OutcomeDeny,
		BlockedHosts: unknown,
		Reason:       fmt.Sprintf("%d unknown hosts exceed the approval threshold", len(unknown)),
	}
}
