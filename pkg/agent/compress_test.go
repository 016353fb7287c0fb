package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/config"
	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/utils"
)

func newCompressFixture(t *testing.T, aux *scriptedProvider) (*Agent, *runtime) {
	t.Helper()
	client := newControlPlane(t)

	cfg := config.Default()
	cfg.Agent.ProjectRoot = t.TempDir()
	cfg.Agent.RepoMapBudget = 0

	opts := []Option{WithPollInterval(0)}
	if aux != nil {
		opts = append(opts, WithAuxProvider(aux))
	}
	a, err := New(cfg, client, &scriptedProvider{}, opts...)
	require.NoError(t, err)

	rt := &runtime{
		runID:    "run-compress",
		system:   "system prompt",
		traces:   controlplane.NewTraceBuffer(client),
		estimate: utils.NewEstimator("chars", ""),
	}
	t.Cleanup(rt.traces.Flush)
	return a, rt
}

func bulkyConversation(messages int) []llms.Message {
	out := make([]llms.Message, 0, messages)
	out = append(out, llms.Message{Role: "user", Content: "the objective"})
	filler := strings.Repeat("x", 8000)
	for i := 1; i < messages; i++ {
		role := "assistant"
		if i%2 == 0 {
			role = "user"
		}
		out = append(out, llms.Message{Role: role, Content: filler})
	}
	return out
}

func TestCompressContext_ReplacesMiddleWithSummary(t *testing.T) {
	aux := &scriptedProvider{turns: []scriptedTurn{{text: "Earlier: explored the repo, wrote two files."}}}
	a, rt := newCompressFixture(t, aux)
	rt.messages = bulkyConversation(40)

	a.compressContext(context.Background(), rt)

	require.Len(t, rt.messages, compressKeepRecent+1)
	assert.Equal(t, "user", rt.messages[0].Role)
	assert.Contains(t, rt.messages[0].Content, "Summary of the conversation so far")
	assert.Contains(t, rt.messages[0].Content, "Earlier: explored the repo, wrote two files.")
	assert.Equal(t, 1, aux.callCount())
}

func TestCompressContext_NoopUnderThreshold(t *testing.T) {
	aux := &scriptedProvider{}
	a, rt := newCompressFixture(t, aux)
	rt.messages = bulkyConversation(4)

	a.compressContext(context.Background(), rt)

	assert.Len(t, rt.messages, 4)
	assert.Zero(t, aux.callCount())
}

func TestCompressContext_FallsBackToTruncationOnAuxFailure(t *testing.T) {
	aux := &scriptedProvider{turns: []scriptedTurn{{err: errors.New("aux model unavailable")}}}
	a, rt := newCompressFixture(t, aux)
	rt.messages = bulkyConversation(40)

	a.compressContext(context.Background(), rt)

	// The summary degrades to the clipped transcript; no second aux call.
	require.Len(t, rt.messages, compressKeepRecent+1)
	assert.Contains(t, rt.messages[0].Content, "Summary of the conversation so far")
	assert.LessOrEqual(t, len(rt.messages[0].Content), compressTranscriptCap+100)
	assert.Equal(t, 1, aux.callCount())
}
