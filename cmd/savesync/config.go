package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"savesync/internal/app"
	"savesync/internal/config"
	"savesync/internal/encryption"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Device ID:   %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Backups:     %s (keep %d auto)\n", cfg.Backups.Dir, cfg.Backups.MaxAutoBackups)
		fmt.Printf("Catalog:     %s %s\n", cfg.Catalog.Type, cfg.Catalog.Path)
		fmt.Printf("Journal:     %s %s\n", cfg.Journal.Type, cfg.Journal.DataDir)
		if cfg.Cloud.Enabled {
			fmt.Printf("Cloud:       %s\n", cfg.Cloud.Type)
		} else {
			fmt.Printf("Cloud:       disabled\n")
		}
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Realtime:    %t\n", cfg.Sync.Realtime)
		fmt.Printf("RequireSync: %t\n", cfg.Sync.RequireSync)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc == nil {
			return fmt.Errorf("encryption type is %q, nothing to set up", cfg.Encryption.Type)
		}

		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var configPassphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Change the passphrase protecting the private key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type != "age" {
			return fmt.Errorf("encryption type is %q, no passphrase to change", cfg.Encryption.Type)
		}
		enc := encryption.NewAgeEncryptor(cfg.Encryption)

		current, err := readPassphrase("Current passphrase: ")
		if err != nil {
			return err
		}
		next, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := enc.ChangePassphrase(current, next); err != nil {
			return err
		}
		fmt.Println("Passphrase changed.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configPassphraseCmd)
}
