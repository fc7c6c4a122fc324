package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"extract", "serve", "health", "migrate", "records", "stats"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "esg-extract", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestExtractCommand_Flags(t *testing.T) {
	for _, name := range []string{"year", "user", "save", "format", "concurrency"} {
		assert.NotNil(t, extractCmd.Flags().Lookup(name), "extract should have --%s flag", name)
	}

	year := extractCmd.Flags().Lookup("year")
	require.NotNil(t, year)
	assert.Equal(t, []string{"true"}, year.Annotations[cobra.BashCompOneRequiredFlag])

	assert.Equal(t, "cli", extractCmd.Flags().Lookup("user").DefValue)
	assert.Equal(t, "2", extractCmd.Flags().Lookup("concurrency").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRecordsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range recordsCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "get", "set", "delete"} {
		assert.True(t, names[name], "records should have subcommand %q", name)
	}
	assert.NotNil(t, recordsCmd.PersistentFlags().Lookup("user"))
}

func TestStatsCommand_Flags(t *testing.T) {
	flag := statsCmd.Flags().Lookup("hours")
	require.NotNil(t, flag)
	assert.Equal(t, "24", flag.DefValue)
	assert.NotNil(t, statsCmd.Flags().Lookup("user"))
	assert.NotNil(t, statsCmd.Flags().Lookup("format"))
}
