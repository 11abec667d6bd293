package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "attribution", cmd.Use)
	assert.Contains(t, cmd.Long, "ATTRIBUTION_*")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"source", "register"},
		{"source", "list"},
		{"source", "sweep"},
		{"trigger"},
		{"reports", "list"},
		{"reports", "next"},
		{"reports", "delete"},
		{"reports", "fail"},
		{"reports", "adjust-offline"},
		{"reports", "verify"},
		{"clear"},
		{"data-keys"},
		{"debug-report"},
		{"scenario"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "attribution.db", dbFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestReportsFailCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	failCmd, _, err := cmd.Find([]string{"reports", "fail"})
	require.NoError(t, err)

	retryFlag := failCmd.Flags().Lookup("retry-at")
	require.NotNil(t, retryFlag)
	assert.Equal(t, "", retryFlag.DefValue)
}

func TestReportsListCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	listCmd, _, err := cmd.Find([]string{"reports", "list"})
	require.NoError(t, err)

	limitFlag := listCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "-1", limitFlag.DefValue)
	require.NotNil(t, listCmd.Flags().Lookup("before"))
	require.NotNil(t, listCmd.Flags().Lookup("select"))
}

func TestClearCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	clearCmd, _, err := cmd.Find([]string{"clear"})
	require.NoError(t, err)

	for _, name := range []string{"begin", "end", "origin", "rate-limits", "all"} {
		assert.NotNil(t, clearCmd.Flags().Lookup(name), "flag --%s", name)
	}
}

func TestScenarioCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scenarioCmd, _, err := cmd.Find([]string{"scenario"})
	require.NoError(t, err)

	updateFlag := scenarioCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)
	require.NotNil(t, scenarioCmd.Flags().Lookup("filter"))
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "xml", "data-keys"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestValidFormats(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}
