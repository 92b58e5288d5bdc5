// Command dirgate runs the directory gateway: an OAuth 2.1 authorization
// proxy in front of an MCP directory tool server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is injected at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "dirgate",
	Short: "OAuth 2.1 gateway for the MCP directory tool server",
	Long: `dirgate proxies the OAuth 2.1 authorization-code flow to an upstream
OIDC provider and gates a JSON-RPC directory tool surface behind either the
relayed upstream bearer token or a gateway-issued session cookie.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = version
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
