package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/requestcontext"
)

// CleanupOldLogs deletes whole partition files older than the retention
// window of their stream and returns how many files were removed. Both
// streams are pruned concurrently. A filesystem failure does not stop the
// pass; it is returned with CodeRetentionIO alongside the count.
func (l *Logger) CleanupOldLogs(ctx context.Context) (int, error) {
	today := day(requestcontext.Now(ctx))
	var deleted atomic.Int64

	var g errgroup.Group
	for stream, days := range map[Stream]int{
		StreamShadow: l.retention.ShadowDays,
		StreamPublic: l.retention.PublicDays,
	} {
		if days <= 0 {
			continue
		}
		cutoff := today.AddDate(0, 0, -days)
		g.Go(func() error {
			n, err := l.prune(ctx, stream, cutoff)
			deleted.Add(int64(n))
			l.metrics.AddPruned(string(stream), n)
			return err
		})
	}
	err := g.Wait()
	count := int(deleted.Load())
	if count > 0 {
		l.logger.InfoContext(ctx, "audit retention pruned files", "deleted", count)
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "audit retention failed", "deleted", count, "error", err)
		return count, dErrors.Wrap(err, dErrors.CodeRetentionIO, "prune audit logs")
	}
	return count, nil
}

// prune removes the stream's files dated strictly before cutoff.
func (l *Logger) prune(ctx context.Context, stream Stream, cutoff time.Time) (int, error) {
	parts, err := l.partitions(stream, time.Time{}, cutoff.AddDate(0, 0, -1))
	if err != nil {
		return 0, fmt.Errorf("list %s partitions: %w", stream, err)
	}
	var errs []error
	n := 0
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		mu := l.lockFor(p.path)
		mu.Lock()
		err := os.Remove(p.path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			l.forgetLock(p.path)
		}
		mu.Unlock()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p.path, err))
			continue
		}
		if err == nil {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// RunRetention prunes once immediately and then every interval until ctx is
// cancelled. Prune failures are logged by CleanupOldLogs and do not stop the
// loop.
func (l *Logger) RunRetention(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("retention interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, _ = l.CleanupOldLogs(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
