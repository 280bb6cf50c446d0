package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCommand()

	want := []string{"migrate", "provider", "model", "settings", "history", "stats", "set", "status"}
	got := map[string]bool{}
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		require.Truef(t, got[name], "expected subcommand %q", name)
	}
}

func TestProviderCommand_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCommand()
	var provider *cobra.Command
	for _, c := range root.Commands() {
		if c.Name() == "provider" {
			provider = c
		}
	}
	require.NotNil(t, provider)

	want := []string{"list", "add", "edit", "enable", "disable", "remove", "test"}
	got := map[string]bool{}
	for _, c := range provider.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		require.Truef(t, got[name], "expected provider subcommand %q", name)
	}
}
