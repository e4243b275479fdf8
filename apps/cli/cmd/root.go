package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "volley",
	Short: "Fire HTTP requests asynchronously over pooled connections.",
	Long: `volley is an asynchronous HTTP client. It submits requests over
pooled TCP connections, resolves each one through an asynchronous result
handle, and classifies every transport failure into a fixed error taxonomy.`,
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}
