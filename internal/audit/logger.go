package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"devguard/internal/audit/metrics"
	dErrors "devguard/pkg/domain-errors"
)

const (
	dateLayout = "2006-01-02"
	fileExt    = ".log"
	filePerm   = 0o600
	dirPerm    = 0o700
)

// Exporter receives public records after they are durably written. Export
// must not block the write path.
type Exporter interface {
	Export(rec Record)
}

// Logger appends shadow and public records to date-partitioned files under a
// single directory. Appends to the same file are serialized by a per-file
// lock so concurrent writers never interleave partial lines.
type Logger struct {
	dir       string
	cipher    *Cipher
	retention Retention
	logger    *slog.Logger
	metrics   *metrics.Metrics
	exporter  Exporter
	readLimit int
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures the Logger.
type Option func(*Logger)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Logger) {
		l.metrics = m
	}
}

// WithRetention sets the per-stream retention windows.
func WithRetention(r Retention) Option {
	return func(l *Logger) {
		l.retention = r
	}
}

// WithExporter forwards every written public record to e.
func WithExporter(e Exporter) Option {
	return func(l *Logger) {
		l.exporter = e
	}
}

// WithClock sets the clock stamping records that arrive without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithReadConcurrency bounds how many date partitions are read at once.
func WithReadConcurrency(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.readLimit = n
		}
	}
}

// New creates a logger writing under dir. The cipher is required; it holds
// the process-lifetime shadow key.
func New(dir string, c *Cipher, opts ...Option) (*Logger, error) {
	if dir == "" {
		return nil, errors.New("audit directory is required")
	}
	if c == nil {
		return nil, errors.New("shadow cipher is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	l := &Logger{
		dir:       dir,
		cipher:    c,
		retention: DefaultRetention,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		readLimit: 4,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dir returns the directory holding the log files.
func (l *Logger) Dir() string {
	return l.dir
}

// LogShadow encrypts rec and appends it to today's shadow file. Failures are
// returned with CodePersistence and logged; they are never panics.
func (l *Logger) LogShadow(ctx context.Context, rec Record) error {
	rec = l.stamp(rec)
	err := l.writeShadow(rec)
	l.metrics.ObserveWrite(string(StreamShadow), err)
	if err != nil {
		l.logger.ErrorContext(ctx, "shadow audit write failed",
			"operation", rec.Operation,
			"device", rec.DeviceSerial,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodePersistence, "write shadow record")
	}
	return nil
}

func (l *Logger) writeShadow(rec Record) error {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	env, err := l.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return l.append(l.path(StreamShadow, rec.Timestamp), line)
}

// LogPublic appends rec as plain JSON to today's public file and hands it to
// the exporter once written.
func (l *Logger) LogPublic(ctx context.Context, rec Record) error {
	rec = l.stamp(rec)
	line, err := json.Marshal(rec)
	if err == nil {
		err = l.append(l.path(StreamPublic, rec.Timestamp), line)
	}
	l.metrics.ObserveWrite(string(StreamPublic), err)
	if err != nil {
		l.logger.WarnContext(ctx, "public audit write failed",
			"operation", rec.Operation,
			"device", rec.DeviceSerial,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodePersistence, "write public record")
	}
	if l.exporter != nil {
		l.exporter.Export(rec)
	}
	return nil
}

func (l *Logger) stamp(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec
}

func (l *Logger) path(stream Stream, t time.Time) string {
	return filepath.Join(l.dir, fileName(stream, t))
}

func fileName(stream Stream, t time.Time) string {
	return string(stream) + "-" + t.UTC().Format(dateLayout) + fileExt
}

func (l *Logger) lockFor(path string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	mu, ok := l.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[path] = mu
	}
	return mu
}

// forgetLock drops the mutex of a partition file that no longer exists.
// Callers hold that mutex so no writer can be mid-append.
func (l *Logger) forgetLock(path string) {
	l.locksMu.Lock()
	delete(l.locks, path)
	l.locksMu.Unlock()
}

// append writes line plus a newline with a single write call.
func (l *Logger) append(path string, line []byte) error {
	mu := l.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type partition struct {
	date time.Time
	path string
}

// partitions lists the files of a stream whose date lies within [from, to]
// (inclusive, by UTC day), oldest first. Zero bounds are open.
func (l *Logger) partitions(stream Stream, from, to time.Time) ([]partition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	prefix := string(stream) + "-"
	var lo, hi time.Time
	if !from.IsZero() {
		lo = day(from)
	}
	if !to.IsZero() {
		hi = day(to)
	}

	var out []partition
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		date, err := time.Parse(dateLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), fileExt))
		if err != nil {
			continue
		}
		if !lo.IsZero() && date.Before(lo) {
			continue
		}
		if !hi.IsZero() && date.After(hi) {
			continue
		}
		out = append(out, partition{date: date, path: filepath.Join(l.dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out, nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
