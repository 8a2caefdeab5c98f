package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"savesync/internal/saves"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create CONFIG_ID",
	Short: "Back up the current save data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")

		a, err := newTrackedApp(cmd, "backup create", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Service().CreateBackup(cmd.Context(), args[0], note, false, env())
		if err != nil {
			return a.Fail(fmt.Errorf("backup failed: %w", err))
		}
		fmt.Printf("Created %s  %s  %s\n", rec.Name, rec.CRC, humanize.Bytes(uint64(rec.FileSize)))
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list CONFIG_ID",
	Short: "List backups, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "backup list", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		recs := a.Service().BackupHistory(args[0])
		if len(recs) == 0 {
			fmt.Println("No backups.")
			return nil
		}
		for _, r := range recs {
			flag := "   "
			switch {
			case r.IsLatest():
				flag = "[L]"
			case r.IsAutoBackup:
				flag = "[A]"
			}
			fmt.Printf("%s %s  %-28s  %s  %8s  %s  %s\n",
				flag,
				r.ID,
				r.Name,
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				humanize.Bytes(uint64(r.FileSize)),
				r.CRC,
				r.Description,
			)
		}
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete BACKUP_ID",
	Short: "Delete a backup here and in the cloud",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "backup delete", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Store().Backup(args[0])
		if err != nil {
			return a.Fail(err)
		}
		if err := a.Service().DeleteBackup(cmd.Context(), rec); err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Deleted %s\n", rec.Name)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore BACKUP_ID",
	Short: "Restore a backup over the save data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noSafety, _ := cmd.Flags().GetBool("no-backup")

		a, err := newTrackedApp(cmd, "backup restore", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Store().Backup(args[0])
		if err != nil {
			return a.Fail(err)
		}
		cfg, err := a.Store().Config(rec.ConfigID)
		if err != nil {
			return a.Fail(err)
		}

		if _, err := os.Stat(a.Store().BackupPath(rec)); errors.Is(err, os.ErrNotExist) {
			if err := unlock(a); err != nil {
				return a.Fail(err)
			}
			if _, err := a.Service().DownloadBackups(cmd.Context()); err != nil {
				return a.Fail(fmt.Errorf("fetching archive: %w", err))
			}
		}

		if !noSafety {
			_, err := a.Service().CreateBackup(cmd.Context(), rec.ConfigID, "Before restore", true, env())
			if err != nil && !errors.Is(err, saves.ErrPathNotFound) {
				return a.Fail(fmt.Errorf("backing up before restore: %w", err))
			}
		}

		report, err := a.Store().RestoreBackup(rec, env(), cfg.RestoreExcludePaths)
		if err != nil {
			return a.Fail(fmt.Errorf("restore failed: %w", err))
		}
		fmt.Printf("Restored %d file(s), preserved %d, removed %d\n",
			len(report.Restored), len(report.Preserved), len(report.Removed))
		return nil
	},
}

var backupNoteCmd = &cobra.Command{
	Use:   "note BACKUP_ID TEXT",
	Short: "Set the description of a backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "backup note", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Store().UpdateDescription(args[0], args[1]); err != nil {
			return a.Fail(err)
		}
		pushCatalog(cmd, a)
		return nil
	},
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup CONFIG_ID",
	Short: "Prune auto backups beyond the configured limit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "backup cleanup", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Service().CleanupAutoBackups(cmd.Context(), args[0])
		if err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Removed %d auto backup(s)\n", n)
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCreateCmd.Flags().StringP("note", "m", "", "Description for the backup")
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupRestoreCmd.Flags().Bool("no-backup", false, "Skip the safety backup of the current save data")
	backupCmd.AddCommand(backupNoteCmd)
	backupCmd.AddCommand(backupCleanupCmd)
}
