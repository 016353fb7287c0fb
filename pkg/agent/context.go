package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/repomap"
)

const agentInstructions = `You are an autonomous coding agent working inside a
project directory. You complete the given objective by calling tools.

Rules:
- Paths are relative to the project root. You cannot reach outside it.
- Read before you write. Use search_code and glob_files to find things.
- After changing code, verify it with run_command where possible.
- Commands run with a 30 second limit; do not start servers or watchers.
- Use ask_user when you are blocked on a decision only the operator can make.
- When the objective is done, reply without tool calls and summarize what
  changed and how you verified it.`

// buildSystemPrompt composes the agent instructions with a bounded map of
// the project tree. Map construction failures degrade to instructions only.
func (a *Agent) buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(agentInstructions)

	if a.cfg.Agent.RepoMapBudget > 0 {
		tree, err := repomap.Build(a.cfg.Agent.ProjectRoot, repomap.Options{
			Budget: a.cfg.Agent.RepoMapBudget,
		})
		if err != nil {
			slog.Warn("Repo map construction failed", "error", err)
		} else if tree != "" {
			sb.WriteString("\n\nProject files:\n")
			sb.WriteString(tree)
		}
	}
	return sb.String()
}

// rebuildConversation reconstructs a provider conversation from stored
// thread messages for resume. Provider-native payloads are not persisted,
// so tool results come back as plain user text and consecutive same-role
// messages are coalesced to keep the sequence valid for either provider
// shape.
func rebuildConversation(stored []controlplane.ThreadMessage) []llms.Message {
	messages := make([]llms.Message, 0, len(stored))
	for _, m := range stored {
		role := m.Role
		content := m.Content

		switch role {
		case "assistant":
		case "tool":
			role = "user"
			if m.ToolCallID != "" {
				content = fmt.Sprintf("Tool result [%s]: %s", m.ToolCallID, content)
			} else {
				content = "Tool result: " + content
			}
		default:
			role = "user"
		}

		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content += "\n\n" + content
			continue
		}
		messages = append(messages, llms.Message{Role: role, Content: content})
	}
	return messages
}

// threadTitle derives a thread title from the objective.
func threadTitle(objective string) string {
	title := strings.TrimSpace(objective)
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}
