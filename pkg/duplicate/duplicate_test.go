package duplicate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KORe4/phase4/pkg/pmode"
)

func TestMemoryStore_CheckAndRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	dup, err := store.CheckAndRecord(ctx, "msg-1", time.Now())
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = store.CheckAndRecord(ctx, "msg-1", time.Now())
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = store.CheckAndRecord(ctx, "msg-2", time.Now())
	require.NoError(t, err)
	assert.False(t, dup)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_CheckAndRecordIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const goroutines = 50
	var firstSights atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			dup, err := store.CheckAndRecord(ctx, "contended", time.Now())
			assert.NoError(t, err)
			if !dup {
				firstSights.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firstSights.Load())
}

func TestMemoryStore_Expire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := store.CheckAndRecord(ctx, fmt.Sprintf("old-%d", i), now.Add(-2*time.Hour))
		require.NoError(t, err)
	}
	_, err := store.CheckAndRecord(ctx, "fresh", now)
	require.NoError(t, err)

	removed, err := store.Expire(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	seen, err := store.Contains(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Contains(ctx, "old-0")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestManager_DefaultWindow(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()
	assert.Equal(t, DefaultWindow, m.Window())
}

func TestManager_WindowFromPMode(t *testing.T) {
	pm := &pmode.ProcessingMode{
		ReceptionAwareness: &pmode.ReceptionAwareness{
			DuplicateDetection: &pmode.DuplicateDetection{Window: 2 * time.Hour},
		},
	}
	m := NewManager(pm)
	defer m.Close()
	assert.Equal(t, 2*time.Hour, m.Window())
}

func TestManager_WindowCoversRetrySchedule(t *testing.T) {
	// The retry schedule spans 4 attempts at 1h apart, longer than the
	// configured 2h window, so the window is raised to cover it.
	pm := &pmode.ProcessingMode{
		ReceptionAwareness: &pmode.ReceptionAwareness{
			Retry:              &pmode.RetryConfig{MaxRetries: 3, RetryInterval: time.Hour},
			DuplicateDetection: &pmode.DuplicateDetection{Window: 2 * time.Hour},
		},
	}
	m := NewManager(pm)
	defer m.Close()
	assert.Equal(t, 4*time.Hour, m.Window())
}

func TestManager_CheckAndRecord(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)
	defer m.Close()

	dup, err := m.CheckAndRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = m.CheckAndRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, dup)

	seen, err := m.Contains(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, m.Clear(ctx))
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	m.Close()
	m.Close()
}
