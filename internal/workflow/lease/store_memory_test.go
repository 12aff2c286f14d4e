package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devguard/pkg/platform/sentinel"
	"devguard/pkg/requestcontext"
	"devguard/pkg/testutil"
)

func TestMemoryStore(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	t.Run("second acquire on the same device is refused", func(t *testing.T) {
		s := NewMemoryStore()
		token, err := s.Acquire(ctx, "R58M", time.Minute)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		_, err = s.Acquire(ctx, "R58M", time.Minute)
		assert.ErrorIs(t, err, sentinel.ErrLeaseHeld)

		_, err = s.Acquire(ctx, "OTHER", time.Minute)
		assert.NoError(t, err, "other devices are independent")
	})

	t.Run("release frees the device", func(t *testing.T) {
		s := NewMemoryStore()
		token, err := s.Acquire(ctx, "R58M", time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Release(ctx, "R58M", token))

		_, err = s.Acquire(ctx, "R58M", time.Minute)
		assert.NoError(t, err)
	})

	t.Run("stale token cannot release a newer lease", func(t *testing.T) {
		s := NewMemoryStore()
		old, err := s.Acquire(ctx, "R58M", time.Minute)
		require.NoError(t, err)

		later := requestcontext.WithTime(context.Background(), now.Add(2*time.Minute))
		_, err = s.Acquire(later, "R58M", time.Minute)
		require.NoError(t, err, "expired lease can be taken over")

		require.NoError(t, s.Release(later, "R58M", old))
		_, err = s.Acquire(later, "R58M", time.Minute)
		assert.ErrorIs(t, err, sentinel.ErrLeaseHeld)
	})

	t.Run("exactly one concurrent winner", func(t *testing.T) {
		s := NewMemoryStore()
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Acquire(ctx, "R58M", time.Minute); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()

	testutil.Given(t, "a device leased for one minute", func(t *testing.T) {
		_, err := s.Acquire(requestcontext.WithTime(context.Background(), now), "R58M", time.Minute)
		require.NoError(t, err)

		testutil.When(t, "another run asks before the lease ends", func(t *testing.T) {
			_, err := s.Acquire(requestcontext.WithTime(context.Background(), now.Add(59*time.Second)), "R58M", time.Minute)

			testutil.Then(t, "it is told the device is busy", func(t *testing.T) {
				assert.ErrorIs(t, err, sentinel.ErrLeaseHeld)
			})
		})

		testutil.When(t, "another run asks after the lease ends", func(t *testing.T) {
			_, err := s.Acquire(requestcontext.WithTime(context.Background(), now.Add(time.Minute)), "R58M", time.Minute)

			testutil.Then(t, "it takes the device over", func(t *testing.T) {
				assert.NoError(t, err)
			})
		})
	})
}
