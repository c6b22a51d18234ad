package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Properties(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "nlpbridge", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.Contains(t, rootCmd.Short, "NLP processor")
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	subcommandNames := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		subcommandNames[cmd.Name()] = true
	}

	for _, expected := range []string{"serve", "validate", "version"} {
		assert.True(t, subcommandNames[expected], "missing subcommand: %s", expected)
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"serve", []string{"config", "env-file"}},
		{"validate", []string{"config", "json"}},
		{"version", []string{"json"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.command})
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, cmd.Flags().Lookup(name), "%s should have %s flag", tt.command, name)
			}
		})
	}

	cmd, _, err := rootCmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "c", cmd.Flags().Lookup("config").Shorthand)
}

func TestVersionCommand_JSON(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--json"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		versionJSON = false
	}()

	require.NoError(t, rootCmd.Execute())

	var version VersionOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &version))
	assert.Equal(t, VersionOutput{Version: "dev", BuildTime: "unknown", GitBranch: "unknown", GitCommit: "unknown"}, version)
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	assert.Equal(t, "", findConfigFile())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("app_name: x\n"), 0644))
	assert.Equal(t, "config.yaml", findConfigFile())
}

func TestDefaultConfigLocations(t *testing.T) {
	t.Setenv("HOME", "/home/bot")

	assert.Equal(t, []string{
		"config.yaml",
		"/home/bot/.config/nlpbridge/config.yaml",
		"/etc/nlpbridge/config.yaml",
	}, defaultConfigLocations())
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24)
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(prev))
	})
}
