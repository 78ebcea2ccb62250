package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "compare", "refresh", "resolve", "migrate", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "dealforge", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestOrgFlags(t *testing.T) {
	for _, name := range []string{"compare", "refresh", "resolve"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		flag := cmd.Flags().Lookup("org")
		require.NotNil(t, flag, "%s should have --org", name)
		assert.Equal(t, "default", flag.DefValue)
	}
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "events"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestRefreshCommand_LanesFlag(t *testing.T) {
	flag := refreshCmd.Flags().Lookup("lanes")
	require.NotNil(t, flag)
	assert.Equal(t, "[]", flag.DefValue)
}
