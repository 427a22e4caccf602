// Package main implements the llctl CLI tool for LedgerLine fleet administration.
package main

import (
	"fmt"
	"os"

	"llctl/internal/api"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "llctl",
		Short:   "LedgerLine CLI tool",
		Long:    `llctl is a command-line tool for managing the LedgerLine tenant database fleet.`,
		Version: version,
	}

	// Add subcommands
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(fleetCmd())
	rootCmd.AddCommand(backupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getClient creates a control plane API client from environment variables.
func getClient() (*api.Client, error) {
	baseURL := os.Getenv("LEDGERLINE_API_URL")
	token := os.Getenv("LEDGERLINE_API_TOKEN")

	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}

	return api.NewClient(baseURL, token), nil
}
