package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the toolgate application.
var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Connection and auth coordination for MCP tool-servers",
	Long: `toolgate manages connections to MCP tool-servers on behalf of a host
application: it discovers OAuth requirements, registers clients, keeps
tokens fresh, and picks a working transport, exposing everything over a
small HTTP API.`,
	// SilenceUsage prevents Cobra from printing the usage message on
	// errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with
// the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
