package audit

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	dErrors "devguard/pkg/domain-errors"
)

// GetShadowLogs returns decryptable shadow records matching f, newest first,
// capped at f.Limit. Partitions in range are read concurrently.
func (l *Logger) GetShadowLogs(ctx context.Context, f Filter) ([]Record, error) {
	entries, err := l.collectShadow(ctx, f.From, f.To)
	if err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	out := make([]Record, 0, min(limit, len(entries)))
	for _, e := range entries {
		if e.Error != "" || !matches(e.Record, f) {
			continue
		}
		out = append(out, e.Record)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(rec Record, f Filter) bool {
	if f.DeviceSerial != "" && rec.DeviceSerial != f.DeviceSerial {
		return false
	}
	if f.Operation != "" && rec.Operation != f.Operation {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Timestamp.After(f.To) {
		return false
	}
	return true
}

// collectShadow reads every shadow partition in [from, to], placeholders
// included, in partition order.
func (l *Logger) collectShadow(ctx context.Context, from, to time.Time) ([]ShadowEntry, error) {
	parts, err := l.partitions(StreamShadow, from, to)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list shadow partitions")
	}

	results := make([][]ShadowEntry, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.readLimit)
	for i, p := range parts {
		g.Go(func() error {
			entries, err := l.readShadowFile(gctx, p.path)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []ShadowEntry
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// GetAnalytics aggregates the shadow records timestamped within [from, to].
// Undecryptable lines are counted separately and excluded from the totals.
func (l *Logger) GetAnalytics(ctx context.Context, from, to time.Time) (Analytics, error) {
	entries, err := l.collectShadow(ctx, from, to)
	if err != nil {
		return Analytics{}, err
	}

	a := Analytics{From: from, To: to, OperationCounts: map[string]int{}}
	devices := map[string]struct{}{}
	var durationTotal int64
	var durationSamples int
	window := Filter{From: from, To: to}
	for _, e := range entries {
		if e.Error != "" {
			a.UndecryptableLines++
			continue
		}
		rec := e.Record
		if !matches(rec, window) {
			continue
		}
		a.TotalOperations++
		a.OperationCounts[rec.Operation]++
		if rec.Success {
			a.Succeeded++
		} else {
			a.Failed++
		}
		if rec.DeviceSerial != "" {
			devices[rec.DeviceSerial] = struct{}{}
		}
		if rec.DurationMS != nil {
			durationTotal += *rec.DurationMS
			durationSamples++
		}
	}
	a.DistinctDevices = len(devices)
	if a.TotalOperations > 0 {
		a.SuccessRate = float64(a.Succeeded) / float64(a.TotalOperations)
	}
	if durationSamples > 0 {
		a.AverageDurationMS = float64(durationTotal) / float64(durationSamples)
	}
	return a, nil
}
