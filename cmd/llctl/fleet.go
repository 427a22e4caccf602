package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// fleetCmd returns the fleet subcommand for fleet-wide operations.
func fleetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Fleet-wide operations",
	}

	cmd.AddCommand(fleetMigrateCmd())

	return cmd
}

func fleetMigrateCmd() *cobra.Command {
	var target string
	var tenants []string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Roll a schema migration across the fleet",
		Long: `Apply schema migrations to every active tenant database up to the
target revision. Each tenant succeeds or fails on its own; the command
prints the full per-tenant report and exits non-zero if any tenant
failed.

Examples:
  llctl fleet migrate --target 004_add_vat_columns
  llctl fleet migrate --target 004_add_vat_columns --tenant acme --tenant globex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			fmt.Println("Starting fleet migration...")
			report, err := client.MigrateFleet(target, tenants)
			if err != nil {
				return fmt.Errorf("fleet migration failed to start: %w", err)
			}

			fmt.Printf("Run %s -> %s\n\n", report.Run.ID, report.Run.TargetRevision)
			fmt.Printf("%-24s %-12s %-9s %s\n", "TENANT", "STATUS", "ATTEMPTS", "ERROR")
			for _, o := range report.Run.Outcomes {
				fmt.Printf("%-24s %-12s %-9d %s\n", o.TenantID, o.Status, o.Attempts, o.Error)
			}

			fmt.Printf("\n%d succeeded, %d failed\n", len(report.Succeeded), len(report.Failed))
			if len(report.Failed) > 0 {
				return fmt.Errorf("tenants need remediation: %v", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Target schema revision (default: latest)")
	cmd.Flags().StringArrayVar(&tenants, "tenant", nil, "Limit the run to specific tenants (repeatable)")
	return cmd
}
