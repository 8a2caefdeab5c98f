package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"savesync/internal/app"
	"savesync/internal/saves"
)

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Manage save configs",
}

// pushCatalog shares a catalog edit right away. Failures are left to the
// next start-up sync.
func pushCatalog(cmd *cobra.Command, a *app.SyncApp) {
	if err := a.Service().PushCatalog(cmd.Context()); err != nil {
		a.Logger().Warn("catalog push failed", "error", err)
	}
}

var gameAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Track the save data of an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		localIDs, _ := cmd.Flags().GetStringSlice("local-id")
		files, _ := cmd.Flags().GetStringArray("file")
		dirs, _ := cmd.Flags().GetStringArray("dir")
		excludes, _ := cmd.Flags().GetStringArray("restore-exclude")

		if len(files)+len(dirs) == 0 {
			return fmt.Errorf("at least one --file or --dir is required")
		}

		a, err := newTrackedApp(cmd, "game add", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := &saves.SaveConfig{
			ConfigID:            id,
			LocalIDs:            localIDs,
			DisplayName:         args[0],
			RestoreExcludePaths: excludes,
		}
		for _, f := range files {
			cfg.SavePaths = append(cfg.SavePaths, saves.SavePath{Path: f})
		}
		for _, d := range dirs {
			cfg.SavePaths = append(cfg.SavePaths, saves.SavePath{Path: d, IsDirectory: true})
		}

		saved, err := a.Store().SaveConfig(cfg)
		if err != nil {
			return a.Fail(fmt.Errorf("saving config: %w", err))
		}
		pushCatalog(cmd, a)

		fmt.Printf("Tracking %s as %s\n", saved.DisplayName, saved.ConfigID)
		return nil
	},
}

var gameListCmd = &cobra.Command{
	Use:   "list",
	Short: "List save configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "game list")
		if err != nil {
			return err
		}
		defer a.Close()

		configs := a.Store().Configs()
		if len(configs) == 0 {
			fmt.Println("No save configs.")
			return nil
		}
		for _, c := range configs {
			auto := ""
			if c.DisableAutoMatch {
				auto = "  [no auto-match]"
			}
			fmt.Printf("%s  %-24s  ids:%s%s\n", c.ConfigID, c.DisplayName, strings.Join(c.LocalIDs, ","), auto)
			for _, sp := range c.SavePaths {
				kind := "file"
				if sp.IsDirectory {
					kind = "dir "
				}
				fmt.Printf("    %s %s\n", kind, sp.Path)
			}
		}
		return nil
	},
}

var gameRemoveCmd = &cobra.Command{
	Use:   "remove CONFIG_ID",
	Short: "Stop tracking a config and delete its backups everywhere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "game remove", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().DeleteConfig(cmd.Context(), args[0]); err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var gameLinkCmd = &cobra.Command{
	Use:   "link CONFIG_ID LOCAL_ID",
	Short: "Link a local application ID to a config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "game link", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store().LinkLocalID(args[0], args[1]); err != nil {
			return a.Fail(err)
		}
		pushCatalog(cmd, a)
		return nil
	},
}

var gameUnlinkCmd = &cobra.Command{
	Use:   "unlink CONFIG_ID LOCAL_ID",
	Short: "Unlink a local application ID and turn off auto matching",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "game unlink", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store().UnlinkLocalID(args[0], args[1]); err != nil {
			return a.Fail(err)
		}
		pushCatalog(cmd, a)
		return nil
	},
}

var gameAutoMatchCmd = &cobra.Command{
	Use:   "auto-match CONFIG_ID",
	Short: "Allow a config to be matched by display name again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "game auto-match", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store().ClearDisableAutoMatch(args[0]); err != nil {
			return a.Fail(err)
		}
		pushCatalog(cmd, a)
		return nil
	},
}

func init() {
	gameCmd.AddCommand(gameAddCmd)
	gameAddCmd.Flags().String("id", "", "Config ID (generated when empty)")
	gameAddCmd.Flags().StringSlice("local-id", nil, "Local application ID to link")
	gameAddCmd.Flags().StringArray("file", nil, "Save file path template")
	gameAddCmd.Flags().StringArray("dir", nil, "Save directory path template")
	gameAddCmd.Flags().StringArray("restore-exclude", nil, "Path template left alone on restore")

	gameCmd.AddCommand(gameListCmd)
	gameCmd.AddCommand(gameRemoveCmd)
	gameCmd.AddCommand(gameLinkCmd)
	gameCmd.AddCommand(gameUnlinkCmd)
	gameCmd.AddCommand(gameAutoMatchCmd)
}
