package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/utils"
)

const (
	// compressTokenThreshold is the estimated token count above which
	// older history is summarized away.
	compressTokenThreshold = 65000

	// compressMinMessages is the minimum conversation length, counting
	// the system prompt, before compression applies.
	compressMinMessages = 6

	// compressKeepRecent is how many trailing messages survive verbatim.
	compressKeepRecent = 4

	// compressTranscriptCap bounds the transcript handed to the
	// auxiliary model, and the fallback summary when that call fails.
	compressTranscriptCap = 6 * 1024
)

const summarizerSystemPrompt = `You compress agent conversation history. ` +
	`Summarize the transcript into a short brief covering: the task, what ` +
	`has been done, important file paths and tool outcomes, and unresolved ` +
	`problems. Plain text, no preamble.`

// compressContext replaces older history with a summary when the
// conversation grows past the token threshold. The system prompt and the
// most recent messages always survive verbatim. Below the threshold this
// is a no-op, so calling it every turn is safe.
func (a *Agent) compressContext(ctx context.Context, rt *runtime) {
	estimate := estimateConversation(rt.estimate, rt.system, rt.messages)
	if estimate < compressTokenThreshold || len(rt.messages)+1 < compressMinMessages {
		return
	}

	keepFrom := len(rt.messages) - compressKeepRecent
	transcript := renderTranscript(rt.messages[:keepFrom])
	summary := a.summarizeTranscript(ctx, transcript)

	compressed := make([]llms.Message, 0, compressKeepRecent+1)
	compressed = append(compressed, llms.Message{
		Role:    "user",
		Content: "Summary of the conversation so far:\n\n" + summary,
	})
	compressed = append(compressed, rt.messages[keepFrom:]...)

	before := len(rt.messages)
	rt.messages = compressed

	rt.traces.Append(rt.runID, "context.compressed", map[string]any{
		"estimatedTokens": estimate,
		"beforeMessages":  before,
		"afterMessages":   len(rt.messages),
	})
	slog.Debug("Compressed conversation context",
		"run_id", rt.runID,
		"estimated_tokens", estimate,
		"before_messages", before,
		"after_messages", len(rt.messages))
}

// summarizeTranscript asks the auxiliary model for a summary and falls
// back to the raw truncated transcript when the call fails or returns
// nothing. The fallback needs no network.
func (a *Agent) summarizeTranscript(ctx context.Context, transcript string) string {
	if a.aux != nil {
		turn, err := a.aux.StreamTurn(ctx, summarizerSystemPrompt,
			[]llms.Message{{Role: "user", Content: transcript}}, nil, nil)
		if err == nil && strings.TrimSpace(turn.TextContent) != "" {
			return strings.TrimSpace(turn.TextContent)
		}
		if err != nil {
			slog.Warn("Context summarization failed, falling back to truncation", "error", err)
		}
	}
	return transcript
}

// estimateConversation totals the estimator over the system prompt and
// every message, counting raw provider JSON where present so tool-call
// payloads contribute to the pressure check.
func estimateConversation(estimate utils.Estimator, system string, messages []llms.Message) int {
	total := estimate(system)
	for _, msg := range messages {
		total += estimate(messageText(msg))
	}
	return total
}

// messageText is the text a message contributes to estimates and
// transcripts: the raw provider JSON when that is all there is.
func messageText(msg llms.Message) string {
	if msg.Content == "" && len(msg.Raw) > 0 {
		return string(msg.Raw)
	}
	return msg.Content
}

// renderTranscript flattens messages into a role-prefixed transcript,
// clipped to the transcript cap.
func renderTranscript(messages []llms.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, messageText(msg))
		if sb.Len() > compressTranscriptCap {
			break
		}
	}
	transcript := sb.String()
	if len(transcript) > compressTranscriptCap {
		transcript = transcript[:compressTranscriptCap]
	}
	return transcript
}
