package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"

	"devguard/pkg/platform/sentinel"
)

const (
	runsFile        = "runs.jsonl"
	maxRunLineBytes = 4 << 20
)

// FileStore appends runs as JSON lines to one file under dir. Writers take an
// exclusive flock and readers a shared one, so CLI processes and the daemon
// can share the file. A run saved twice is read back as its last version.
type FileStore struct {
	path string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("history directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, runsFile)}, nil
}

func (s *FileStore) Save(_ context.Context, run Run) error {
	line, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock run history: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (Run, error) {
	runs, err := s.load(ctx)
	if err != nil {
		return Run{}, err
	}
	for _, r := range runs {
		if r.ExecutionID == id {
			return r, nil
		}
	}
	return Run{}, sentinel.ErrNotFound
}

func (s *FileStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Run, error) {
	return s.list(ctx, limit, func(r Run) bool { return r.DeviceID == deviceID })
}

func (s *FileStore) ListByWorkflows(ctx context.Context, workflowIDs []string, limit int) ([]Run, error) {
	if len(workflowIDs) == 0 {
		return []Run{}, nil
	}
	return s.list(ctx, limit, func(r Run) bool { return slices.Contains(workflowIDs, r.WorkflowID) })
}

func (s *FileStore) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	return s.list(ctx, limit, func(Run) bool { return true })
}

func (s *FileStore) list(ctx context.Context, limit int, keep func(Run) bool) ([]Run, error) {
	runs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(runs, limit, keep), nil
}

// load reads every run, keeping the last line per execution id. Lines that
// do not decode are skipped.
func (s *FileStore) load(ctx context.Context) ([]Run, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open run history: %w", err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("lock run history: %w", err)
	}

	var runs []Run
	index := map[string]int{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRunLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Run
		if err := json.Unmarshal(line, &r); err != nil || r.ExecutionID == "" {
			continue
		}
		flags(&r)
		if i, ok := index[r.ExecutionID]; ok {
			runs[i] = r
			continue
		}
		index[r.ExecutionID] = len(runs)
		runs = append(runs, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}
	return runs, nil
}
