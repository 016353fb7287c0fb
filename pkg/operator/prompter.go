// Package operator relays approval gates and ask_user questions between
// a running agent and the human supervising it. Decisions always travel
// through the control plane, so a terminal prompt and a remote operator
// UI resolve the same rows and race safely.
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// ConfirmRequest is what the operator sees before approving or denying.
type ConfirmRequest struct {
	RunID     string
	Scope     controlplane.ApprovalScope
	Reason    string
	ToolName  string
	ToolInput string
	ExpiresAt *time.Time
}

// Prompter collects operator decisions. Implementations that cannot
// reach a human report Interactive() false and the coordinator falls
// back to polling the control plane.
type Prompter interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
	Ask(ctx context.Context, question string) (string, error)
	Interactive() bool
}

// TerminalPrompter reads decisions from the local terminal.
type TerminalPrompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewTerminalPrompter wires stdin and stdout. Interactive only when
// stdin is a real terminal; piped input never auto-approves.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Interactive reports whether a human is on the other end.
func (p *TerminalPrompter) Interactive() bool {
	return p.interactive
}

// Confirm shows the approval request and reads a yes/no answer.
// Anything other than an explicit yes is a denial.
func (p *TerminalPrompter) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "\nApproval required for run %s\n", req.RunID)
	fmt.Fprintf(p.out, "  Reason: %s\n", req.Reason)
	if req.Scope == controlplane.ScopeTool {
		fmt.Fprintf(p.out, "  Tool:   %s\n", req.ToolName)
		if req.ToolInput != "" {
			fmt.Fprintf(p.out, "  Input:  %s\n", req.ToolInput)
		}
	}
	if req.ExpiresAt != nil {
		fmt.Fprintf(p.out, "  Expires: %s\n", req.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprint(p.out, "Approve? [y/N]: ")

	line, err := p.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Ask shows the agent's question and reads a free-text answer.
func (p *TerminalPrompter) Ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(p.out, "\nThe agent asks:\n  %s\n> ", question)
	return p.readLine()
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if line == "" && err == io.EOF {
		return "", fmt.Errorf("input closed: %w", io.EOF)
	}
	return strings.TrimSpace(line), nil
}
