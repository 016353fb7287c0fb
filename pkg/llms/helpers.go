package llms

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/autoagent/autoagent/pkg/retry"
)

// parseToolArguments decodes a tool-call argument payload. Providers may emit
// an empty string for zero-argument calls; that decodes to an empty map.
func parseToolArguments(args string) (map[string]any, error) {
	if strings.TrimSpace(args) == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// providerHTTPError turns a non-200 response into a classified ProviderError.
// 5xx and 429 are transient so the retry runner backs off and retries; other
// 4xx statuses are provider errors and fail the call immediately.
func providerHTTPError(kind ProviderKind, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(body))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	perr := &ProviderError{Kind: kind, StatusCode: resp.StatusCode, Body: truncateBody([]byte(message))}
	class := retry.ClassProvider
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		class = retry.ClassTransient
	}
	return retry.NewClassifiedError(class, retry.StageLLM, perr)
}
