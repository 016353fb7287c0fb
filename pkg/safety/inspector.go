// Package safety classifies shell commands and gates tool execution.
//
// It has three parts: the command inspector (risk classification of a raw
// shell string), the egress policy (allow/approve/deny for external hosts),
// and the tool policy (per-tool decisions independent of command parsing).
// All three are pure; the pattern sets are data.
package safety

import (
	"regexp"
	"strings"
)

// Risk levels ordered from least to most severe. Classification only ever
// upgrades risk to a strictly higher level.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

var riskRank = map[Risk]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Inspection is the result of classifying a shell command.
type Inspection struct {
	NormalizedCommand string   `json:"normalizedCommand"`
	Risk              Risk     `json:"risk"`
	Violations        []string `json:"violations,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	ExternalHosts     []string `json:"externalHosts,omitempty"`
	NetworkSensitive  bool     `json:"networkSensitive"`
}

// Blocked returns true when the command must not reach a shell.
func (i Inspection) Blocked() bool {
	return len(i.Violations) > 0 || i.Risk == RiskCritical
}

const maxCommandLength = 4000

type patternRule struct {
	re     *regexp.Regexp
	reason string
}

// Meta patterns are outright violations regardless of risk level.
var blockedMetaRules = []patternRule{
	{regexp.MustCompile(`(?i)(;|&&)\s*rm\s+-[a-z]*[rf]`), "destructive command chaining"},
	{regexp.MustCompile(`(?i)\|\s*(sudo\s+)?(sh|bash|zsh|dash)(\s|$)`), "piping into a shell"},
	{regexp.MustCompile(`(?i)base64\s+(-d|--decode)[^|]*\|`), "base64 decode piped to an interpreter"},
}

var criticalRules = []patternRule{
	{regexp.MustCompile(`(?i)\brm\s+((-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*)\s+|(-r\s+-f|-f\s+-r)\s+|--recursive\s+--force\s+)(/|/\*|~|\$HOME)(\s|$)`), "whole-filesystem deletion"},
	{regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`), "disk formatting command"},
	{regexp.MustCompile(`(?i)\bdd\s+[^|;]*of=/dev/`), "raw write to a block device"},
	{regexp.MustCompile(`(?i)\bdrop\s+database\b`), "database drop statement"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot|poweroff|halt)\b`), "host shutdown or reboot"},
}

var highRiskRules = []patternRule{
	{regexp.MustCompile(`(?i)\bnpm\s+publish\b`), "publishes a package"},
	{regexp.MustCompile(`(?i)\bgit\s+push\b`), "pushes to a remote"},
	{regexp.MustCompile(`(?i)\bpip3?\s+install\b`), "installs python packages"},
	{regexp.MustCompile(`(?i)\b(curl|wget)\b`), "fetches remote content"},
	{regexp.MustCompile(`(?i)\bscp\b`), "copies files over the network"},
}

var packageInstallRule = regexp.MustCompile(`(?i)\b(npm|pnpm|yarn)\s+install\b`)

var longRunningRules = []patternRule{
	{regexp.MustCompile(`(?i)\bnpm\s+(start|run\s+dev)\b`), "starts a long-running dev process"},
	{regexp.MustCompile(`(?i)^node\s+\S+`), "starts a node process that may not exit"},
}

var networkRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(curl|wget|nc|ncat|netcat|ssh|scp|sftp|telnet|rsync)\b`),
	regexp.MustCompile(`(?i)https?://`),
	regexp.MustCompile(`(?i)\bgit\s+(push|pull|fetch|clone)\b`),
	regexp.MustCompile(`(?i)\b(npm|pnpm|yarn)\s+(install|publish|add)\b`),
	regexp.MustCompile(`(?i)\bpip3?\s+install\b`),
}

var hostPattern = regexp.MustCompile(`https?://([a-zA-Z0-9.-]+)(?::\d+)?`)

// InspectCommand classifies a shell command string. It never executes
// anything; callers decide what to do with the classification.
func InspectCommand(command string) Inspection {
	normalized := strings.Join(strings.Fields(command), " ")

	result := Inspection{
		NormalizedCommand: normalized,
		Risk:              RiskLow,
	}

	if strings.TrimSpace(command) == "" {
		result.Violations = append(result.Violations, "empty command")
		return result
	}
	if len(command) > maxCommandLength {
		result.Violations = append(result.Violations, "command exceeds maximum length")
	}
	if strings.ContainsAny(command, "\n\r") {
		result.Violations = append(result.Violations, "multi-line commands are not allowed")
	}

	for _, rule := range blockedMetaRules {
		if rule.re.MatchString(normalized) {
			result.Violations = append(result.Violations, rule.reason)
		}
	}

	for _, rule := range criticalRules {
		if rule.re.MatchString(normalized) {
			result.Violations = append(result.Violations, rule.reason)
			result.upgrade(RiskCritical)
		}
	}

	if result.Risk != RiskCritical {
		for _, rule := range highRiskRules {
			if rule.re.MatchString(normalized) {
				result.Warnings = append(result.Warnings, rule.reason)
				result.upgrade(RiskHigh)
			}
		}
	}

	if result.Risk == RiskLow && packageInstallRule.MatchString(normalized) {
		result.upgrade(RiskMedium)
	}

	for _, rule := range longRunningRules {
		if rule.re.MatchString(normalized) {
			result.Warnings = append(result.Warnings, rule.reason)
			if result.Risk == RiskLow {
				result.upgrade(RiskMedium)
			}
		}
	}

	seen := make(map[string]bool)
	for _, match := range hostPattern.FindAllStringSubmatch(normalized, -1) {
		host := strings.ToLower(match[1])
		if !seen[host] {
			seen[host] = true
			result.ExternalHosts = append(result.ExternalHosts, host)
		}
	}

	for _, re := range networkRules {
		if re.MatchString(normalized) {
			result.NetworkSensitive = true
			break
		}
	}

	return result
}

func (i *Inspection) upgrade(to Risk) {
	if riskRank[to] > riskRank[i.Risk] {
		i.Risk = to
	}
}
