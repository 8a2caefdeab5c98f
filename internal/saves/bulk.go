package saves

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"savesync/internal/fs"
	"savesync/internal/paths"
)

// defaultBulkConcurrency bounds parallel transfers in UploadAll and DownloadAll.
const defaultBulkConcurrency = 4

// workPatterns are never transferred: download staging, temp archives and
// snapshots being built.
var workPatterns = []string{incomingDir + "/*", ".tmp-*", "*.new"}

// BulkOptions control UploadAll and DownloadAll.
type BulkOptions struct {
	// Exclude holds glob patterns matched against remote keys. Patterns
	// without '/' match the final key component only.
	Exclude []string
	// Concurrency bounds parallel transfers. Defaults to 4.
	Concurrency int
	// SkipExisting skips keys already present on the destination. Backup
	// archives never change once written, and sizes are not comparable
	// across an encrypting transport.
	SkipExisting bool
}

// BulkResult lists the keys a bulk transfer moved and the ones it skipped.
type BulkResult struct {
	Transferred []string
	Skipped     []string
}

type bulkCollector struct {
	mu  sync.Mutex
	res BulkResult
}

func (c *bulkCollector) transferred(key string) {
	c.mu.Lock()
	c.res.Transferred = append(c.res.Transferred, key)
	c.mu.Unlock()
}

func (c *bulkCollector) skipped(key string) {
	c.mu.Lock()
	c.res.Skipped = append(c.res.Skipped, key)
	c.mu.Unlock()
}

func (o BulkOptions) limit() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return defaultBulkConcurrency
}

// UploadAll uploads every file under localDir to prefix/<relative path>.
func UploadAll(ctx context.Context, t Transport, localDir, prefix string, opts BulkOptions) (*BulkResult, error) {
	files, err := fs.ListFiles(localDir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", localDir, err)
	}
	exclude := fs.NewGlobMatcher(slices.Concat(opts.Exclude, workPatterns))

	remote := map[string]bool{}
	if opts.SkipExisting {
		objs, err := t.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("listing remote: %w", err)
		}
		for _, o := range objs {
			remote[o.Key] = true
		}
	}

	c := &bulkCollector{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.limit())
	for _, f := range files {
		key := path.Join(prefix, filepath.ToSlash(f.RelPath))
		if exclude.Match(key) {
			continue
		}
		if remote[key] {
			c.skipped(key)
			continue
		}
		g.Go(func() error {
			if err := t.Upload(gctx, f.AbsPath, key); err != nil {
				return fmt.Errorf("uploading %s: %w", key, err)
			}
			c.transferred(key)
			return nil
		})
	}
	err = g.Wait()
	return &c.res, err
}

// DownloadAll downloads every object under prefix into localDir.
func DownloadAll(ctx context.Context, t Transport, localDir, prefix string, opts BulkOptions) (*BulkResult, error) {
	objs, err := t.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing remote: %w", err)
	}
	exclude := fs.NewGlobMatcher(slices.Concat(opts.Exclude, workPatterns))

	c := &bulkCollector{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.limit())
	for _, o := range objs {
		if exclude.Match(o.Key) {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(o.Key, prefix), "/")
		dest := filepath.Join(localDir, filepath.FromSlash(rel))
		if rel == "" || !paths.IsWithin(localDir, dest) {
			g.Go(func() error { return fmt.Errorf("remote key escapes destination: %s", o.Key) })
			continue
		}
		if opts.SkipExisting {
			if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() {
				c.skipped(o.Key)
				continue
			}
		}
		g.Go(func() error {
			if err := t.Download(gctx, o.Key, dest); err != nil {
				return fmt.Errorf("downloading %s: %w", o.Key, err)
			}
			c.transferred(o.Key)
			return nil
		})
	}
	err = g.Wait()
	return &c.res, err
}
