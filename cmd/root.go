package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tenkv/tenkv/cmd/client"
	"github.com/tenkv/tenkv/cmd/serve"
)

const (
	Version = "1.2.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "tenkv",
		Short: "multi-tenant key-value store",
		Long: fmt.Sprintf(`tenkv (v%s)

A multi-tenant key-value store server speaking a line-oriented TCP
protocol, with per-key TTLs, ownership-based access control and
crash recovery via a write-ahead command log.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tenkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tenkv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
