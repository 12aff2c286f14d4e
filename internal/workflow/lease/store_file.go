package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"devguard/pkg/platform/sentinel"
	"devguard/pkg/requestcontext"
)

const leaseExt = ".lease"

// holder is written into the lease file so operators can see who owns a
// device. The lock itself is the flock, not the file contents.
type holder struct {
	Token      string    `json:"token"`
	DeviceID   string    `json:"deviceId"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type lockedFile struct {
	deviceID string
	f        *os.File
}

// FileStore leases devices with an exclusive flock on one file per device
// under dir, so separate processes sharing dir exclude each other. The lock
// is dropped by the kernel when the holder exits; the TTL is only recorded.
type FileStore struct {
	dir string

	mu   sync.Mutex
	held map[string]lockedFile
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("lease directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lease directory: %w", err)
	}
	return &FileStore{dir: dir, held: make(map[string]lockedFile)}, nil
}

func (s *FileStore) path(deviceID string) string {
	return filepath.Join(s.dir, url.PathEscape(deviceID)+leaseExt)
}

// Acquire takes the device lease or returns sentinel.ErrLeaseHeld.
func (s *FileStore) Acquire(ctx context.Context, deviceID string, ttl time.Duration) (string, error) {
	if deviceID == "" {
		return "", errors.New("device id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	f, err := os.OpenFile(s.path(deviceID), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return "", fmt.Errorf("open lease file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return "", sentinel.ErrLeaseHeld
		}
		return "", fmt.Errorf("lock lease file: %w", err)
	}

	now := requestcontext.Now(ctx)
	h := holder{
		Token:      uuid.NewString(),
		DeviceID:   deviceID,
		PID:        os.Getpid(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := writeHolder(f, h); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("record lease holder: %w", err)
	}

	s.mu.Lock()
	s.held[h.Token] = lockedFile{deviceID: deviceID, f: f}
	s.mu.Unlock()
	return h.Token, nil
}

func writeHolder(f *os.File, h holder) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err = f.WriteAt(append(data, '\n'), 0)
	return err
}

// Release unlocks the device if this store handed out token. Unknown tokens
// are a no-op.
func (s *FileStore) Release(_ context.Context, deviceID, token string) error {
	s.mu.Lock()
	lf, ok := s.held[token]
	if ok && lf.deviceID == deviceID {
		delete(s.held, token)
	}
	s.mu.Unlock()
	if !ok || lf.deviceID != deviceID {
		return nil
	}
	// The file stays in place: removing it would let a waiter lock an
	// unlinked inode while a newcomer locks a fresh one.
	_ = lf.f.Truncate(0)
	if err := unix.Flock(int(lf.f.Fd()), unix.LOCK_UN); err != nil {
		_ = lf.f.Close()
		return fmt.Errorf("unlock lease file: %w", err)
	}
	return lf.f.Close()
}
