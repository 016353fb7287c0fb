package safety

import (
	"fmt"
	"strings"
)

// PolicyResult is a tool-policy decision with its reason.
type PolicyResult struct {
	Decision PolicyOutcome `json:"decision"`
	Reason   string        `json:"reason,omitempty"`
}

// ToolPolicy makes per-tool decisions from the tool name and input shape,
// independent of command-string parsing. An empty allowlist permits every
// registered tool; a non-empty one denies everything outside it.
type ToolPolicy struct {
	allowed  map[string]bool
	approval map[string]bool
}

// NewToolPolicy builds a policy from the project's declared tool lists.
func NewToolPolicy(allowedTools, approvalTools []string) *ToolPolicy {
	p := &ToolPolicy{
		allowed:  make(map[string]bool, len(allowedTools)),
		approval: make(map[string]bool, len(approvalTools)),
	}
	for _, name := range allowedTools {
		p.allowed[name] = true
	}
	for _, name := range approvalTools {
		p.approval[name] = true
	}
	return p
}

// Evaluate returns the decision for a single tool invocation.
func (p *ToolPolicy) Evaluate(toolName string, input map[string]any) PolicyResult {
	if len(p.allowed) > 0 && !p.allowed[toolName] {
		return PolicyResult{
			Decision: OutcomeDeny,
			Reason:   fmt.Sprintf("tool %q is not in the project allowlist", toolName),
		}
	}

	if toolName == "git_commit" {
		message, _ := input["message"].(string)
		if strings.TrimSpace(message) == "" {
			return PolicyResult{
				Decision: OutcomeDeny,
				Reason:   "git_commit requires a non-empty message",
			}
		}
	}

	if p.approval[toolName] {
		return PolicyResult{
			Decision: OutcomeNeedsApproval,
			Reason:   fmt.Sprintf("tool %q is marked for operator approval", toolName),
		}
	}

	return PolicyResult{Decision: OutcomeAllow}
}
