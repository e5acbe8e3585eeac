package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDocsCommand(t *testing.T) {
	cmd := newGenerateDocsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "### mail_latest")

	path := filepath.Join(t.TempDir(), "actions.md")
	cmd = newGenerateDocsCmd()
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--output", path})
	require.NoError(t, cmd.Execute())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### mail_from_name")
}
