package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// backupCmd returns the backup subcommand for snapshot management.
func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage tenant backups",
	}

	cmd.AddCommand(backupCreateCmd())
	cmd.AddCommand(backupListCmd())
	cmd.AddCommand(backupRestoreCmd())
	cmd.AddCommand(backupPruneCmd())

	return cmd
}

func backupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Snapshot a tenant's database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			fmt.Printf("Backing up tenant %s...\n", args[0])
			backup, err := client.CreateBackup(args[0])
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("✅ Backup %s verified (%d bytes, revision %s)\n",
				backup.ID, backup.Size, backup.Revision)
			return nil
		},
	}
}

func backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tenant-id>",
		Short: "List a tenant's backups, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			backups, err := client.ListBackups(args[0])
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			if len(backups) == 0 {
				fmt.Println("No backups found.")
				return nil
			}
			fmt.Printf("%-38s %-20s %-12s %s\n", "ID", "TAKEN", "SIZE", "REVISION")
			for _, b := range backups {
				fmt.Printf("%-38s %-20s %-12d %s\n",
					b.ID, b.TakenAt.Format("2006-01-02 15:04:05"), b.Size, b.Revision)
			}
			return nil
		},
	}
}

func backupRestoreCmd() *cobra.Command {
	var backupID string
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <tenant-id>",
		Short: "Restore a tenant from a backup",
		Long: `Restore a tenant's database from a verified backup. The tenant's
current data is replaced and its schema revision rolls back to the
snapshot's. Live connections are drained before the replacement.

Examples:
  llctl backup restore acme-corp --backup-id 7f3a... --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if backupID == "" {
				return fmt.Errorf("--backup-id is required")
			}
			if !yes {
				return fmt.Errorf("restore replaces the tenant's current data; re-run with --yes to confirm")
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			fmt.Printf("Restoring tenant %s from backup %s...\n", args[0], backupID)
			if err := client.RestoreTenant(args[0], backupID); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("✅ Tenant %s restored and active\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&backupID, "backup-id", "", "Backup to restore from (see llctl backup list)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the restore")
	return cmd
}

func backupPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune <tenant-id>",
		Short: "Delete old backup artifacts beyond the keep count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			pruned, err := client.PruneBackups(args[0], keep)
			if err != nil {
				return fmt.Errorf("prune failed: %w", err)
			}
			fmt.Printf("✅ Pruned %d backup artifacts\n", pruned)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 5, "Number of most recent backups to keep")
	return cmd
}
