package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/tool"
)

func TestRegister(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg, t.TempDir()))

	assert.Equal(t, []string{
		"read_file",
		"write_file",
		"edit_file",
		"list_directory",
		"run_command",
		"search_code",
		"glob_files",
		"git_status",
		"git_diff",
		"git_commit",
	}, reg.Names())

	defs := reg.Definitions()
	require.Len(t, defs, 10)
	for _, def := range defs {
		assert.NotEmpty(t, def.Description, def.Name)
		assert.Equal(t, "object", def.InputSchema["type"], def.Name)
	}

	readFile, ok := reg.Get("read_file")
	require.True(t, ok)
	props, ok := readFile.Schema()["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
}
