package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"devguard/internal/audit/metrics"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/requestcontext"
)

type recordingExporter struct {
	mu      sync.Mutex
	records []Record
}

func (e *recordingExporter) Export(rec Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
}

type LoggerSuite struct {
	suite.Suite
	dir      string
	now      time.Time
	ctx      context.Context
	metrics  *metrics.Metrics
	exporter *recordingExporter
	logger   *Logger
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.now = time.Date(2026, 5, 20, 14, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.exporter = &recordingExporter{}
	s.logger = s.newLogger(testCipher(s.T()))
}

func (s *LoggerSuite) newLogger(c *Cipher, opts ...Option) *Logger {
	opts = append([]Option{
		WithMetrics(s.metrics),
		WithExporter(s.exporter),
		WithClock(func() time.Time { return s.now }),
	}, opts...)
	l, err := New(s.dir, c, opts...)
	s.Require().NoError(err)
	return l
}

func (s *LoggerSuite) shadow(at time.Time, op, device string, success bool) {
	s.Require().NoError(s.logger.LogShadow(s.ctx, Record{
		Timestamp:    at,
		Operation:    op,
		DeviceSerial: device,
		Success:      success,
	}))
}

// =============================================================================
// Writes
// =============================================================================

func (s *LoggerSuite) TestLogShadowThenRead() {
	s.Require().NoError(s.logger.LogShadow(s.ctx, Record{Operation: "test", DeviceSerial: "X1", Success: true}))

	entries, err := s.logger.ReadShadowLogs(s.ctx, s.now)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Empty(entries[0].Error)
	s.Equal("test", entries[0].Record.Operation)
	s.Equal("X1", entries[0].Record.DeviceSerial)
	s.True(entries[0].Record.Success)
	s.NotEmpty(entries[0].Record.ID)
	s.Equal(s.now, entries[0].Record.Timestamp)
}

func (s *LoggerSuite) TestShadowFileHoldsNoPlaintext() {
	s.Require().NoError(s.logger.LogShadow(s.ctx, Record{Operation: "frp_bypass", DeviceSerial: "SERIAL-123"}))

	data, err := os.ReadFile(filepath.Join(s.dir, "shadow-2026-05-20.log"))
	s.Require().NoError(err)
	s.NotContains(string(data), "SERIAL-123")
	s.NotContains(string(data), "frp_bypass")
	s.Contains(string(data), `"iv"`)
	s.Contains(string(data), `"authTag"`)
	s.Contains(string(data), `"data"`)
}

func (s *LoggerSuite) TestUnstampedRecordsTakeClockTimeNotRequestTime() {
	tick := s.now
	l := s.newLogger(testCipher(s.T()), WithClock(func() time.Time {
		tick = tick.Add(1500 * time.Millisecond)
		return tick
	}))

	s.Require().NoError(l.LogShadow(s.ctx, Record{Operation: "first", DeviceSerial: "X1"}))
	s.Require().NoError(l.LogShadow(s.ctx, Record{Operation: "second", DeviceSerial: "X1"}))

	entries, err := l.ReadShadowLogs(s.ctx, s.now)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(s.now.Add(1500*time.Millisecond), entries[0].Record.Timestamp)
	s.True(entries[1].Record.Timestamp.After(entries[0].Record.Timestamp))

	recs, err := l.GetShadowLogs(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Equal([]string{"second", "first"}, []string{recs[0].Operation, recs[1].Operation})
}

func (s *LoggerSuite) TestLogPublic() {
	s.Require().NoError(s.logger.LogPublic(s.ctx, Record{Operation: "workflow_start", DeviceSerial: "X2", Success: true}))

	data, err := os.ReadFile(filepath.Join(s.dir, "public-2026-05-20.log"))
	s.Require().NoError(err)
	s.Contains(string(data), `"operation":"workflow_start"`)
	s.Contains(string(data), `"deviceSerial":"X2"`)

	records, err := s.logger.ReadPublicLogs(s.ctx, s.now)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("workflow_start", records[0].Operation)

	s.Require().Len(s.exporter.records, 1, "written public records are exported")
	s.Equal(records[0].ID, s.exporter.records[0].ID)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Writes.WithLabelValues("public", "ok")))
}

func (s *LoggerSuite) TestWriteFailureIsReturnedNotPanicked() {
	// a directory squatting on the partition name makes the open fail
	s.Require().NoError(os.Mkdir(filepath.Join(s.dir, "shadow-2026-05-20.log"), 0o700))
	s.Require().NoError(os.Mkdir(filepath.Join(s.dir, "public-2026-05-20.log"), 0o700))

	err := s.logger.LogShadow(s.ctx, Record{Operation: "test"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))

	err = s.logger.LogPublic(s.ctx, Record{Operation: "test"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))
	s.Empty(s.exporter.records, "failed writes are not exported")
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Writes.WithLabelValues("shadow", "error")))
}

func (s *LoggerSuite) TestConcurrentAppendsDoNotInterleave() {
	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = s.logger.LogShadow(s.ctx, Record{
					Operation: "step_complete",
					Metadata:  map[string]any{"writer": w, "i": i, "pad": strings.Repeat("x", 512)},
				})
				_ = s.logger.LogPublic(s.ctx, Record{Operation: "step_complete"})
			}
		}()
	}
	wg.Wait()

	entries, err := s.logger.ReadShadowLogs(s.ctx, s.now)
	s.Require().NoError(err)
	s.Len(entries, writers*perWriter)
	for _, e := range entries {
		s.Empty(e.Error, "line %d", e.Line)
	}
	public, err := s.logger.ReadPublicLogs(s.ctx, s.now)
	s.Require().NoError(err)
	s.Len(public, writers*perWriter)
}

// =============================================================================
// Reads
// =============================================================================

func (s *LoggerSuite) TestReadIsolatesBadLines() {
	s.shadow(s.now, "first", "X1", true)

	// a line written under a different key
	other := s.newLogger(testCipher(s.T()))
	s.Require().NoError(other.LogShadow(s.ctx, Record{Operation: "foreign"}))

	path := filepath.Join(s.dir, "shadow-2026-05-20.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	s.Require().NoError(err)
	_, err = f.WriteString("not json\n")
	s.Require().NoError(err)
	s.Require().NoError(f.Close())

	s.shadow(s.now, "last", "X1", true)

	entries, err := s.logger.ReadShadowLogs(s.ctx, s.now)
	s.Require().NoError(err)
	s.Require().Len(entries, 4)
	s.Equal("first", entries[0].Record.Operation)
	s.Equal(errDecryptFailed, entries[1].Error)
	s.Empty(entries[1].Record.Operation)
	s.Equal(errMalformedLine, entries[2].Error)
	s.Equal("last", entries[3].Record.Operation)
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.DecryptFailures))
}

func (s *LoggerSuite) TestReadMissingDate() {
	entries, err := s.logger.ReadShadowLogs(s.ctx, s.now.AddDate(0, 0, -3))
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *LoggerSuite) TestGetShadowLogs() {
	day1 := s.now.AddDate(0, 0, -2)
	day2 := s.now.AddDate(0, 0, -1)
	s.shadow(day1, "bootloader_unlock", "A", true)
	s.shadow(day1.Add(time.Hour), "frp_bypass", "B", false)
	s.shadow(day2, "bootloader_unlock", "A", false)
	s.shadow(s.now, "firmware_flash", "A", true)

	s.Run("newest first across partitions", func() {
		recs, err := s.logger.GetShadowLogs(s.ctx, Filter{})
		s.Require().NoError(err)
		s.Require().Len(recs, 4)
		s.Equal("firmware_flash", recs[0].Operation)
		s.Equal("bootloader_unlock", recs[3].Operation)
	})

	s.Run("device filter", func() {
		recs, err := s.logger.GetShadowLogs(s.ctx, Filter{DeviceSerial: "B"})
		s.Require().NoError(err)
		s.Require().Len(recs, 1)
		s.Equal("frp_bypass", recs[0].Operation)
	})

	s.Run("operation filter", func() {
		recs, err := s.logger.GetShadowLogs(s.ctx, Filter{Operation: "bootloader_unlock"})
		s.Require().NoError(err)
		s.Len(recs, 2)
	})

	s.Run("date range", func() {
		recs, err := s.logger.GetShadowLogs(s.ctx, Filter{From: day2, To: s.now})
		s.Require().NoError(err)
		s.Len(recs, 2)
	})

	s.Run("limit caps the newest", func() {
		recs, err := s.logger.GetShadowLogs(s.ctx, Filter{Limit: 2})
		s.Require().NoError(err)
		s.Require().Len(recs, 2)
		s.Equal("firmware_flash", recs[0].Operation)
		s.Equal("bootloader_unlock", recs[1].Operation)
	})
}

func (s *LoggerSuite) TestGetAnalytics() {
	ms := func(v int64) *int64 { return &v }
	records := []Record{
		{Operation: "bootloader_unlock", DeviceSerial: "A", Success: true, DurationMS: ms(1000)},
		{Operation: "bootloader_unlock", DeviceSerial: "B", Success: false, DurationMS: ms(3000)},
		{Operation: "frp_bypass", DeviceSerial: "A", Success: true},
		{Operation: "diagnostics", DeviceSerial: "C", Success: true, DurationMS: ms(500)},
	}
	for _, r := range records {
		r.Timestamp = s.now
		s.Require().NoError(s.logger.LogShadow(s.ctx, r))
	}
	outside := Record{Operation: "old", DeviceSerial: "Z", Timestamp: s.now.AddDate(0, 0, -10)}
	s.Require().NoError(s.logger.LogShadow(s.ctx, outside))

	a, err := s.logger.GetAnalytics(s.ctx, s.now.AddDate(0, 0, -1), s.now)
	s.Require().NoError(err)
	s.Equal(4, a.TotalOperations)
	s.Equal(map[string]int{"bootloader_unlock": 2, "frp_bypass": 1, "diagnostics": 1}, a.OperationCounts)
	s.Equal(3, a.Succeeded)
	s.Equal(1, a.Failed)
	s.InDelta(0.75, a.SuccessRate, 1e-9)
	s.Equal(3, a.DistinctDevices)
	s.InDelta(1500.0, a.AverageDurationMS, 1e-9)
}

func (s *LoggerSuite) TestGetAnalyticsEmpty() {
	a, err := s.logger.GetAnalytics(s.ctx, s.now.AddDate(0, 0, -7), s.now)
	s.Require().NoError(err)
	s.Zero(a.TotalOperations)
	s.Zero(a.SuccessRate)
	s.Empty(a.OperationCounts)
}

// =============================================================================
// Retention
// =============================================================================

func (s *LoggerSuite) touch(stream Stream, daysAgo int) string {
	name := fileName(stream, s.now.AddDate(0, 0, -daysAgo))
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, []byte("{}\n"), 0o600))
	return name
}

func (s *LoggerSuite) TestCleanupOldLogs() {
	logger := s.newLogger(testCipher(s.T()), WithRetention(Retention{ShadowDays: 10, PublicDays: 2}))

	keepShadow := s.touch(StreamShadow, 10)
	dropShadow := s.touch(StreamShadow, 11)
	keepPublic := s.touch(StreamPublic, 2)
	dropPublic1 := s.touch(StreamPublic, 3)
	dropPublic2 := s.touch(StreamPublic, 40)
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("keep"), 0o600))

	deleted, err := logger.CleanupOldLogs(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, deleted)

	for _, name := range []string{keepShadow, keepPublic, "notes.txt"} {
		s.FileExists(filepath.Join(s.dir, name))
	}
	for _, name := range []string{dropShadow, dropPublic1, dropPublic2} {
		s.NoFileExists(filepath.Join(s.dir, name))
	}
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.FilesPruned.WithLabelValues("public")))

	again, err := logger.CleanupOldLogs(s.ctx)
	s.Require().NoError(err)
	s.Zero(again)
}

func (s *LoggerSuite) TestCleanupForgetsLocksOfPrunedFiles() {
	logger := s.newLogger(testCipher(s.T()), WithRetention(Retention{ShadowDays: 5, PublicDays: 5}))

	for daysAgo := 0; daysAgo < 30; daysAgo++ {
		ts := s.now.AddDate(0, 0, -daysAgo)
		s.Require().NoError(logger.LogPublic(s.ctx, Record{Operation: "scan", DeviceSerial: "X1", Timestamp: ts}))
	}
	s.Len(logger.locks, 30)

	deleted, err := logger.CleanupOldLogs(s.ctx)
	s.Require().NoError(err)
	s.Equal(24, deleted)

	s.Len(logger.locks, 6)
	s.Contains(logger.locks, logger.path(StreamPublic, s.now))
	s.NotContains(logger.locks, logger.path(StreamPublic, s.now.AddDate(0, 0, -6)))

	s.Require().NoError(logger.LogPublic(s.ctx, Record{Operation: "scan", DeviceSerial: "X1"}))
	s.Len(logger.locks, 6)
}

func (s *LoggerSuite) TestCleanupZeroRetentionKeepsStream() {
	logger := s.newLogger(testCipher(s.T()), WithRetention(Retention{ShadowDays: 0, PublicDays: 1}))
	old := s.touch(StreamShadow, 5000)

	deleted, err := logger.CleanupOldLogs(s.ctx)
	s.Require().NoError(err)
	s.Zero(deleted)
	s.FileExists(filepath.Join(s.dir, old))
}

func (s *LoggerSuite) TestCleanupReportsIOErrors() {
	s.Require().NoError(os.RemoveAll(s.dir))

	deleted, err := s.logger.CleanupOldLogs(s.ctx)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRetentionIO))
	s.Zero(deleted)
}

func (s *LoggerSuite) TestRunRetentionPrunesUntilCancelled() {
	logger := s.newLogger(testCipher(s.T()), WithRetention(Retention{ShadowDays: 1, PublicDays: 1}))
	old := s.touch(StreamPublic, 30)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- logger.RunRetention(ctx, time.Hour) }()

	s.Eventually(func() bool {
		_, err := os.Stat(filepath.Join(s.dir, old))
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("retention loop did not stop")
	}

	s.Error(logger.RunRetention(s.ctx, 0))
}
