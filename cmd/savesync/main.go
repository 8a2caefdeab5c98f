package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"savesync/internal/app"
	"savesync/internal/config"
	"savesync/internal/paths"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var (
	installDir  string
	emulatorDir string
)

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, *app.Defaults, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a SyncApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "backup create").
func newApp(cmd *cobra.Command, operation string, args ...string) (*app.SyncApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewSyncApp(cmd.Context(), cfg, operation, strings.Join(args, " "), app.Options{})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// newTrackedApp is newApp for commands that change backups or the cloud.
func newTrackedApp(cmd *cobra.Command, operation string, args ...string) (*app.SyncApp, error) {
	a, err := newApp(cmd, operation, args...)
	if err != nil {
		return nil, err
	}
	if err := a.Track(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// unlock asks for the passphrase when cloud archives are encrypted.
func unlock(a *app.SyncApp) error {
	if !a.NeedsPassphrase() {
		return nil
	}
	passphrase, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(passphrase)
}

func env() paths.Resolver {
	return paths.NewResolver(installDir, emulatorDir)
}

var rootCmd = &cobra.Command{
	Use:          "savesync",
	Short:        "Save data backups with cloud sync",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&installDir, "install-dir", "", "Install directory used for {InstallDir} paths")
	rootCmd.PersistentFlags().StringVar(&emulatorDir, "emulator-dir", "", "Emulator directory used for {EmulatorDir} paths")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(gameCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(transfersCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(journalCmd)
}
