package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolPolicy_EmptyAllowlistPermitsEverything(t *testing.T) {
	policy := NewToolPolicy(nil, nil)

	assert.Equal(t, OutcomeAllow, policy.Evaluate("write_file", nil).Decision)
	assert.Equal(t, OutcomeAllow, policy.Evaluate("mcp_browser_open", nil).Decision)
}

func TestToolPolicy_DeniesOutsideAllowlist(t *testing.T) {
	policy := NewToolPolicy([]string{"read_file", "search_code"}, nil)

	result := policy.Evaluate("write_file", nil)
	assert.Equal(t, OutcomeDeny, result.Decision)
	assert.Contains(t, result.Reason, "write_file")

	assert.Equal(t, OutcomeAllow, policy.Evaluate("read_file", nil).Decision)
}

func TestToolPolicy_GitCommitRequiresMessage(t *testing.T) {
	policy := NewToolPolicy(nil, nil)

	result := policy.Evaluate("git_commit", map[string]any{"message": ""})
	assert.Equal(t, OutcomeDeny, result.Decision)

	result = policy.Evaluate("git_commit", map[string]any{"message": "   "})
	assert.Equal(t, OutcomeDeny, result.Decision)

	result = policy.Evaluate("git_commit", nil)
	assert.Equal(t, OutcomeDeny, result.Decision)

	result = policy.Evaluate("git_commit", map[string]any{"message": "fix parser"})
	assert.Equal(t, OutcomeAllow, result.Decision)
}

func TestToolPolicy_ApprovalListEscalates(t *testing.T) {
	policy := NewToolPolicy(nil, []string{"run_command"})

	result := policy.Evaluate("run_command", map[string]any{"command": "ls"})
	assert.Equal(t, OutcomeNeedsApproval, result.Decision)
	assert.NotEmpty(t, result.Reason)
}

func TestToolPolicy_AllowlistCheckedBeforeApprovalList(t *testing.T) {
	policy := NewToolPolicy([]string{"read_file"}, []string{"run_command"})

	assert.Equal(t, OutcomeDeny, policy.Evaluate("run_command", nil).Decision)
}
