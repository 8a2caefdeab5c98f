package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"savesync/internal/saves"
)

// RetryTransport retries transport failures with a fixed delay. Missing
// objects, local I/O errors and cancellation end the loop at once.
type RetryTransport struct {
	saves.Transport
	retryArgs retry.CallArgs
	logger    saves.Logger
}

var _ saves.Transport = (*RetryTransport)(nil)

// WithRetry wraps t so every operation gets up to attempts tries.
func WithRetry(t saves.Transport, attempts int, delay time.Duration, clk clock.Clock, logger saves.Logger) *RetryTransport {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = saves.NewNopLogger()
	}
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &RetryTransport{
		Transport: t,
		retryArgs: retry.CallArgs{
			IsFatalError: func(err error) bool {
				return !errors.Is(err, saves.ErrTransportFailure)
			},
			Attempts: attempts,
			Delay:    delay,
			Clock:    clk,
		},
		logger: logger,
	}
}

func (r *RetryTransport) Upload(ctx context.Context, localPath, remoteKey string) error {
	return r.call(ctx, "upload", remoteKey, func() error {
		return r.Transport.Upload(ctx, localPath, remoteKey)
	})
}

func (r *RetryTransport) Download(ctx context.Context, remoteKey, localPath string) error {
	return r.call(ctx, "download", remoteKey, func() error {
		return r.Transport.Download(ctx, remoteKey, localPath)
	})
}

func (r *RetryTransport) Delete(ctx context.Context, remoteKey string) error {
	err := r.call(ctx, "delete", remoteKey, func() error {
		return r.Transport.Delete(ctx, remoteKey)
	})
	if errors.Is(err, saves.ErrNotFound) {
		return nil
	}
	return err
}

func (r *RetryTransport) Exists(ctx context.Context, remoteKey string) (saves.Existence, error) {
	var got saves.Existence
	err := r.call(ctx, "exists", remoteKey, func() error {
		var err error
		got, err = r.Transport.Exists(ctx, remoteKey)
		return err
	})
	if err != nil {
		return saves.ExistenceUnknown, err
	}
	return got, nil
}

func (r *RetryTransport) List(ctx context.Context, prefix string) ([]saves.RemoteObject, error) {
	var objs []saves.RemoteObject
	err := r.call(ctx, "list", prefix, func() error {
		var err error
		objs, err = r.Transport.List(ctx, prefix)
		return err
	})
	return objs, err
}

func (r *RetryTransport) call(ctx context.Context, op, key string, f func() error) error {
	args := r.retryArgs // a copy
	args.Func = f
	args.Stop = ctx.Done()

	args.NotifyFunc = func(err error, attempt int) {
		r.logger.Warn("cloud transfer attempt failed", "op", op, "key", key, "attempt", attempt, "error", err)
	}

	err := retry.Call(args)
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		return fmt.Errorf("%s %s failed after %d attempts: %w", op, key, args.Attempts, retry.LastError(err))
	case retry.IsRetryStopped(err):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w", op, key, retry.LastError(err))
	default:
		// fatal errors come back as returned by f
		return err
	}
}
