// Package version carries the build version reported to peers such as
// MCP servers and the CLI.
package version

// Version is overridable at build time with
// -ldflags "-X github.com/autoagent/autoagent/pkg/version.Version=...".
var Version = "0.1.0"
