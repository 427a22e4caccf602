package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// tenantCmd returns the tenant subcommand for managing tenant lifecycles.
func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant databases",
		Long:  `Provision, inspect, suspend, resume, and deactivate tenant databases.`,
	}

	cmd.AddCommand(tenantCreateCmd())
	cmd.AddCommand(tenantListCmd())
	cmd.AddCommand(tenantGetCmd())
	cmd.AddCommand(tenantSuspendCmd())
	cmd.AddCommand(tenantResumeCmd())
	cmd.AddCommand(tenantDeactivateCmd())

	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var baseline string

	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Provision a new tenant database",
		Long: `Provision a physically isolated database for a new tenant, apply the
baseline schema, and register the tenant as ACTIVE.

Examples:
  llctl tenant create acme-corp
  llctl tenant create acme-corp --baseline 003_add_tax_tables`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			fmt.Printf("Provisioning tenant %s...\n", args[0])
			tenant, err := client.CreateTenant(args[0], baseline)
			if err != nil {
				return fmt.Errorf("failed to provision tenant: %w", err)
			}

			fmt.Printf("✅ Tenant %s is %s at revision %s\n",
				tenant.TenantID, tenant.State, tenant.LastMigratedVersion)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseline, "baseline", "", "Baseline schema revision (default: latest)")
	return cmd
}

func tenantListCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			tenants, err := client.ListTenants(state)
			if err != nil {
				return fmt.Errorf("failed to list tenants: %w", err)
			}

			if len(tenants) == 0 {
				fmt.Println("No tenants found.")
				return nil
			}
			fmt.Printf("%-24s %-16s %-20s %s\n", "TENANT", "STATE", "REVISION", "CREATED")
			for _, t := range tenants {
				fmt.Printf("%-24s %-16s %-20s %s\n",
					t.TenantID, t.State, t.LastMigratedVersion,
					t.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by lifecycle state (e.g. ACTIVE, SUSPENDED)")
	return cmd
}

func tenantGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show one tenant's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			tenant, err := client.GetTenant(args[0])
			if err != nil {
				return fmt.Errorf("failed to get tenant: %w", err)
			}

			fmt.Printf("Tenant:   %s\n", tenant.TenantID)
			fmt.Printf("State:    %s\n", tenant.State)
			fmt.Printf("Revision: %s\n", tenant.LastMigratedVersion)
			fmt.Printf("Created:  %s\n", tenant.CreatedAt.Format("2006-01-02 15:04:05"))
			if tenant.LastBackupAt != nil {
				fmt.Printf("Backup:   %s\n", tenant.LastBackupAt.Format("2006-01-02 15:04:05"))
			} else {
				fmt.Println("Backup:   never")
			}
			return nil
		},
	}
}

func tenantSuspendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suspend <tenant-id>",
		Short: "Suspend a tenant",
		Long:  `Suspend an active tenant. Live connections are drained and new requests are refused until the tenant is resumed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}
			if err := client.SuspendTenant(args[0]); err != nil {
				return fmt.Errorf("failed to suspend tenant: %w", err)
			}
			fmt.Printf("✅ Tenant %s suspended\n", args[0])
			return nil
		},
	}
}

func tenantResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <tenant-id>",
		Short: "Resume a suspended tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}
			if err := client.ResumeTenant(args[0]); err != nil {
				return fmt.Errorf("failed to resume tenant: %w", err)
			}
			fmt.Printf("✅ Tenant %s active\n", args[0])
			return nil
		},
	}
}

func tenantDeactivateCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "deactivate <tenant-id>",
		Short: "Permanently deactivate a tenant",
		Long: `Deactivate a tenant. This is terminal: the tenant's record is kept for
audit but the tenant can never be reactivated. The database itself is
not dropped; decommissioning is a separate manual step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("deactivation is permanent; re-run with --yes to confirm")
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			if err := client.DeactivateTenant(args[0]); err != nil {
				return fmt.Errorf("failed to deactivate tenant: %w", err)
			}
			fmt.Printf("✅ Tenant %s deactivated\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm permanent deactivation")
	return cmd
}
