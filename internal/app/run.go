package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"savesync/internal/paths"
	"savesync/internal/saves"
	"savesync/internal/watch"
)

// ConflictPrompt asks the user how to settle a conflict.
type ConflictPrompt func(report *saves.SyncReport) (saves.Choice, error)

// LaunchRequest describes one protected run of an application.
type LaunchRequest struct {
	LocalID     string
	DisplayName string // used to auto-match an unlinked local ID
	Env         paths.Resolver
	Command     []string
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

// LaunchResult reports what happened around a protected run.
type LaunchResult struct {
	ConfigID string
	Decision *saves.Decision
	Snapshot *saves.BackupRecord
	ExitErr  error
}

// ErrLaunchCancelled is returned when the user cancels a conflict prompt.
var ErrLaunchCancelled = errors.New("launch cancelled")

// Launch runs the full host lifecycle around a command: start-up sync, the
// pre-launch decision, the command itself, the stop snapshot. Background
// transfers are drained by Close.
func (a *SyncApp) Launch(ctx context.Context, req LaunchRequest, prompt ConflictPrompt) (*LaunchResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("no command to run")
	}
	svc := a.service

	if err := svc.OnStart(ctx); err != nil {
		a.logger.Warn("start-up sync incomplete", "error", err)
	}

	cfg := a.store.FindConfigByLocalID(req.LocalID)
	if cfg == nil && req.DisplayName != "" {
		matched, err := a.store.AutoMatch(req.LocalID, req.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("matching %s: %w", req.LocalID, err)
		}
		cfg = matched
	}

	res := &LaunchResult{}
	if cfg == nil {
		a.logger.Info("no save config for application, running without sync", "local_id", req.LocalID)
		res.ExitErr = runCommand(ctx, req)
		return res, nil
	}
	res.ConfigID = cfg.ConfigID

	decision, err := svc.OnBeforeLaunch(ctx, cfg.ConfigID, req.Env)
	res.Decision = decision
	if errors.Is(err, saves.ErrConflictUnresolved) {
		if prompt == nil {
			return res, err
		}
		choice, perr := prompt(decision.Report)
		if perr != nil {
			return res, fmt.Errorf("asking for conflict choice: %w", perr)
		}
		if choice == saves.ChooseCancel {
			return res, ErrLaunchCancelled
		}
		if _, err = svc.ResolveConflict(ctx, cfg.ConfigID, choice, req.Env); err != nil && !errors.Is(err, saves.ErrDetached) {
			return res, fmt.Errorf("resolving conflict: %w", err)
		}
	} else if err != nil {
		return res, err
	}

	res.ExitErr = runCommand(ctx, req)

	snap, err := svc.OnStop(ctx, cfg.ConfigID, req.Env)
	if err != nil {
		return res, fmt.Errorf("taking stop snapshot: %w", err)
	}
	res.Snapshot = snap
	return res, nil
}

func runCommand(ctx context.Context, req LaunchRequest) error {
	cmd := exec.CommandContext(ctx, req.Command[0], req.Command[1:]...)
	cmd.Stdin = req.Stdin
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	return cmd.Run()
}

// Watch snapshots configID every time its save data settles after a change,
// until ctx ends. Each snapshot schedules a background push.
func (a *SyncApp) Watch(ctx context.Context, configID string, env paths.Resolver, onSnapshot func(*saves.BackupRecord, error)) error {
	cfg, err := a.store.Config(configID)
	if err != nil {
		return err
	}
	var roots []string
	for _, sp := range cfg.SavePaths {
		abs, err := env.ToAbsolute(sp.Path)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", sp.Path, err)
		}
		roots = append(roots, abs)
	}

	w, err := watch.New(roots, a.cfg.Watch.Debounce(), func() {
		rec, err := a.service.Snapshot(ctx, configID, env)
		if err != nil {
			a.logger.Warn("watch snapshot failed", "config", configID, "error", err)
		} else {
			a.logger.Info("watch snapshot taken", "config", configID, "crc", rec.CRC)
		}
		if onSnapshot != nil {
			onSnapshot(rec, err)
		}
	}, a.logger)
	if err != nil {
		return err
	}

	w.Start()
	<-ctx.Done()
	return w.Stop()
}

// PassphraseFromEnv returns SAVESYNC_PASSPHRASE, if set.
func PassphraseFromEnv() (string, bool) {
	p, ok := os.LookupEnv("SAVESYNC_PASSPHRASE")
	return p, ok && p != ""
}
