package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"savesync/internal/app"
	"savesync/internal/saves"
)

var runCmd = &cobra.Command{
	Use:   "run LOCAL_ID -- COMMAND [ARGS...]",
	Short: "Run an application with save sync around it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		onConflict, _ := cmd.Flags().GetString("on-conflict")

		a, err := newTrackedApp(cmd, "run", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return a.Fail(err)
		}

		res, err := a.Launch(cmd.Context(), app.LaunchRequest{
			LocalID:     args[0],
			DisplayName: name,
			Env:         env(),
			Command:     args[1:],
			Stdin:       os.Stdin,
			Stdout:      os.Stdout,
			Stderr:      os.Stderr,
		}, promptConflict(onConflict))
		if errors.Is(err, app.ErrLaunchCancelled) {
			fmt.Println("Launch cancelled.")
			return nil
		}
		if err != nil {
			return a.Fail(err)
		}
		if res.Decision != nil && res.Decision.TransferErr != nil {
			fmt.Fprintf(os.Stderr, "warning: launched with local saves, cloud pull failed: %v\n", res.Decision.TransferErr)
		}
		if res.Snapshot != nil {
			fmt.Printf("Snapshot %s saved\n", res.Snapshot.CRC)
		}
		return a.Fail(res.ExitErr)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch CONFIG_ID",
	Short: "Snapshot and push save data whenever it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTrackedApp(cmd, "watch", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Watching %s, press Ctrl-C to stop\n", args[0])
		return a.Fail(a.Watch(cmd.Context(), args[0], env(), func(rec *saves.BackupRecord, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "snapshot failed: %v\n", err)
				return
			}
			fmt.Printf("%s  snapshot %s  %s\n", time.Now().Format("15:04:05"), rec.CRC, humanize.Bytes(uint64(rec.FileSize)))
		}))
	},
}

func init() {
	runCmd.Flags().String("name", "", "Display name used to auto-match an unlinked local ID")
	runCmd.Flags().String("on-conflict", "", "Answer conflicts without asking: keep-local, pull-cloud or cancel")
}
