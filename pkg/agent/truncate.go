package agent

import (
	"fmt"
	"strings"
)

const (
	// truncateThreshold is the tool-result length above which the
	// conversation copy is shortened. The traced copy stays complete.
	truncateThreshold = 15000

	// Head and tail retention as fractions of the threshold.
	truncateHeadChars = truncateThreshold * 6 / 10
	truncateTailChars = truncateThreshold * 2 / 10
)

// truncateToolResult shortens an oversized tool result to its head and
// tail with a marker recording how many lines were dropped. Results at
// or under the threshold pass through unchanged.
func truncateToolResult(content string) string {
	if len(content) <= truncateThreshold {
		return content
	}

	head := content[:truncateHeadChars]
	tail := content[len(content)-truncateTailChars:]
	middle := content[truncateHeadChars : len(content)-truncateTailChars]

	marker := fmt.Sprintf("\n... [%d lines truncated] ...\n", strings.Count(middle, "\n"))
	return head + marker + tail
}
