package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"savesync/internal/app"
	"savesync/internal/saves"
)

// readPassphrase returns SAVESYNC_PASSPHRASE or reads one from the terminal
// without echo.
func readPassphrase(prompt string) (string, error) {
	if p, ok := app.PassphraseFromEnv(); ok {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required: set SAVESYNC_PASSPHRASE or run from a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// readNewPassphrase reads a passphrase twice and requires both to match.
func readNewPassphrase() (string, error) {
	if p, ok := app.PassphraseFromEnv(); ok {
		return p, nil
	}
	first, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	second, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	if first == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return first, nil
}

// printReport shows both sides of a sync check.
func printReport(r *saves.SyncReport) {
	fmt.Printf("%s: %s\n", r.ConfigID, r.Status)
	if r.Local.Exists {
		fmt.Printf("  local  %s  %s  %s\n", r.Local.CRC, humanize.Time(r.Local.CreatedAt), humanize.Bytes(uint64(r.Local.Size)))
	} else {
		fmt.Printf("  local  none\n")
	}
	if r.Cloud.CRC != "" {
		fmt.Printf("  cloud  %s  %s  %s\n", r.Cloud.CRC, humanize.Time(r.Cloud.CreatedAt), humanize.Bytes(uint64(r.Cloud.Size)))
	} else {
		fmt.Printf("  cloud  none\n")
	}
}

// promptConflict asks on stdin how to settle a conflict. preset, when set,
// answers without asking.
func promptConflict(preset string) app.ConflictPrompt {
	return func(r *saves.SyncReport) (saves.Choice, error) {
		if preset != "" {
			return saves.ParseChoice(preset)
		}
		fmt.Println("Local and cloud saves have both changed.")
		printReport(r)

		in := bufio.NewReader(os.Stdin)
		for {
			fmt.Print("Keep [l]ocal, pull [c]loud or [a]bort? ")
			line, err := in.ReadString('\n')
			if err != nil {
				return saves.ChooseCancel, err
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "l", "local":
				return saves.ChooseKeepLocal, nil
			case "c", "cloud":
				return saves.ChoosePullCloud, nil
			case "a", "abort", "cancel":
				return saves.ChooseCancel, nil
			}
		}
	}
}
