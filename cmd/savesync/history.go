package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// transfers command
var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Inspect journaled cloud transfers",
}

var transfersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transfers that have not completed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "transfers list")
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.Service().PendingTransfers()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending transfers.")
			return nil
		}
		for _, t := range pending {
			fmt.Printf("#%d  %-40s  queued %s  attempts:%d  %s\n",
				t.ID, t.String(), humanize.Time(t.CreatedAt), t.Attempts, t.LastError)
		}
		return nil
	},
}

var transfersRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Run every pending transfer now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "transfers retry")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Service().RetryPending()
		if err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Retrying %d transfer(s)\n", n)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.Service().OperationHistory(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			duration := ""
			if !op.FinishedAt.IsZero() {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-16s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// journal command
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Maintain the transfer journal",
}

var journalBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a consistent copy of the journal database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "journal backup", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupJournal(args[0]); err != nil {
			return err
		}
		fmt.Printf("Journal copied to %s\n", args[0])
		return nil
	},
}

func init() {
	transfersCmd.AddCommand(transfersListCmd)
	transfersCmd.AddCommand(transfersRetryCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	journalCmd.AddCommand(journalBackupCmd)
}
