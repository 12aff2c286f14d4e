package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	dErrors "devguard/pkg/domain-errors"
)

const maxLineSize = 1 << 20

// Placeholder messages for unreadable shadow lines.
const (
	errMalformedLine = "malformed shadow line"
	errDecryptFailed = "decryption failed"
	errRecordDecode  = "decrypted record could not be decoded"
)

// ReadShadowLogs returns every line of the shadow file for date. A line that
// cannot be decrypted yields a placeholder entry with Error set; the rest of
// the file is still returned. A date with no file returns an empty slice.
func (l *Logger) ReadShadowLogs(ctx context.Context, date time.Time) ([]ShadowEntry, error) {
	return l.readShadowFile(ctx, l.path(StreamShadow, date))
}

func (l *Logger) readShadowFile(ctx context.Context, path string) ([]ShadowEntry, error) {
	entries := []ShadowEntry{}
	err := l.scan(ctx, path, func(n int, line []byte) {
		entries = append(entries, l.decodeShadowLine(n, line))
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *Logger) decodeShadowLine(n int, line []byte) ShadowEntry {
	entry := ShadowEntry{Line: n}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		l.metrics.IncDecryptFailure()
		entry.Error = errMalformedLine
		return entry
	}
	plaintext, err := l.cipher.Decrypt(env)
	if err != nil {
		l.metrics.IncDecryptFailure()
		entry.Error = errDecryptFailed
		return entry
	}
	if err := json.Unmarshal(plaintext, &entry.Record); err != nil {
		l.metrics.IncDecryptFailure()
		entry.Record = Record{}
		entry.Error = errRecordDecode
	}
	return entry
}

// ReadPublicLogs returns the decodable records of the public file for date.
// Malformed lines are skipped.
func (l *Logger) ReadPublicLogs(ctx context.Context, date time.Time) ([]Record, error) {
	records := []Record{}
	err := l.scan(ctx, l.path(StreamPublic, date), func(n int, line []byte) {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			l.logger.WarnContext(ctx, "skipping malformed public audit line", "line", n, "error", err)
			return
		}
		records = append(records, rec)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// scan calls fn for every non-blank line. The file lock is held so a
// concurrent append is never observed half-written.
func (l *Logger) scan(ctx context.Context, path string, fn func(n int, line []byte)) error {
	mu := l.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "open audit log")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		if n%512 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(n, line)
	}
	if err := scanner.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "read audit log")
	}
	return nil
}
