package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: the root command
	rootCmd := NewRootCmd()

	// When: listing subcommands
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	// Then: every top-level command should be registered
	for _, want := range []string{"worker", "search", "events", "config", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestRootCmd_ConfigFlag(t *testing.T) {
	// Given: the root command
	rootCmd := NewRootCmd()

	// When: looking up the persistent config flag
	flag := rootCmd.PersistentFlags().Lookup("config")

	// Then: it should exist with the short form
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}
