package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"savesync/internal/saves"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the cloud",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status [CONFIG_ID...]",
	Short: "Compare local and cloud snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")

		a, err := newApp(cmd, "sync status", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		if !offline {
			if err := a.Service().PullCatalog(cmd.Context()); err != nil {
				a.Logger().Warn("catalog refresh failed, showing cached cloud state", "error", err)
			}
		}

		ids := args
		if len(ids) == 0 {
			for _, c := range a.Store().Configs() {
				ids = append(ids, c.ConfigID)
			}
		}
		for _, id := range ids {
			report, err := a.Service().Check(id)
			if err != nil {
				return err
			}
			printReport(report)
		}
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull CONFIG_ID",
	Short: "Replace local save data with the cloud snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "sync pull", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return a.Fail(err)
		}
		if err := a.Service().PullCatalog(cmd.Context()); err != nil {
			return a.Fail(err)
		}
		if err := a.Service().PullLatest(cmd.Context(), args[0], env()); err != nil {
			return a.Fail(fmt.Errorf("pull failed: %w", err))
		}
		fmt.Println("Pulled cloud snapshot.")
		return nil
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push CONFIG_ID",
	Short: "Upload the local snapshot when the cloud is behind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "sync push", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.Service().PushLatest(cmd.Context(), args[0])
		if errors.Is(err, saves.ErrConflictUnresolved) {
			return a.Fail(fmt.Errorf("%w: run 'savesync sync resolve'", err))
		}
		if err != nil {
			return a.Fail(fmt.Errorf("push failed: %w", err))
		}
		return nil
	},
}

var syncResolveCmd = &cobra.Command{
	Use:   "resolve CONFIG_ID keep-local|pull-cloud",
	Short: "Settle a sync conflict",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		choice, err := saves.ParseChoice(args[1])
		if err != nil {
			return err
		}

		a, err := newTrackedApp(cmd, "sync resolve", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		if choice == saves.ChoosePullCloud {
			if err := unlock(a); err != nil {
				return a.Fail(err)
			}
		}
		report, err := a.Service().ResolveConflict(cmd.Context(), args[0], choice, env())
		if errors.Is(err, saves.ErrDetached) {
			fmt.Println("Upload continues in the background.")
		} else if err != nil {
			return a.Fail(err)
		}
		if report != nil {
			printReport(report)
		}
		return nil
	},
}

var syncCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Merge and upload the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "sync catalog")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Fail(a.Service().PushCatalog(cmd.Context()))
	},
}

var syncUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload every backup archive missing in the cloud",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "sync upload")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Service().UploadBackups(cmd.Context())
		if err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Uploaded %d, skipped %d\n", len(res.Transferred), len(res.Skipped))
		return nil
	},
}

var syncDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download every backup archive missing locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "sync download")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return a.Fail(err)
		}
		if err := a.Service().PullCatalog(cmd.Context()); err != nil {
			return a.Fail(err)
		}
		res, err := a.Service().DownloadBackups(cmd.Context())
		if err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Downloaded %d, skipped %d\n", len(res.Transferred), len(res.Skipped))
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	syncStatusCmd.Flags().Bool("offline", false, "Use the cached cloud state")
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncResolveCmd)
	syncCmd.AddCommand(syncCatalogCmd)
	syncCmd.AddCommand(syncUploadCmd)
	syncCmd.AddCommand(syncDownloadCmd)
}
