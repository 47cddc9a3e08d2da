package duplicate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KORe4/phase4/pkg/pmode"
)

const (
	// DefaultWindow bounds how long a seen message ID is retained when
	// the P-Mode does not configure a window.
	DefaultWindow = 24 * time.Hour

	maxSweepInterval = time.Hour
)

// Manager enforces duplicate detection over a Store. The retention
// window is clamped so it always covers the sender's full retry
// schedule: a retransmission arriving after the window closed would
// otherwise be delivered twice.
type Manager struct {
	store  Store
	window time.Duration
	logger *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore replaces the default in-memory store.
func WithStore(store Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithLogger sets the logger used by the expiry janitor.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager builds a Manager for the given P-Mode. The window comes
// from the P-Mode's duplicate detection configuration, defaulting to
// DefaultWindow, and is raised to at least the duration of the full
// retry schedule (interval times attempts).
func NewManager(pm *pmode.ProcessingMode, opts ...ManagerOption) *Manager {
	window := DefaultWindow
	var retrySpan time.Duration
	if pm != nil {
		if w := pm.DuplicateWindow(); w > 0 {
			window = w
		}
		retry := pm.RetryPolicy()
		if retry.RetryInterval > 0 {
			retrySpan = retry.RetryInterval * time.Duration(retry.MaxRetries+1)
		}
	}
	if window < retrySpan {
		window = retrySpan
	}

	m := &Manager{
		store:  NewMemoryStore(),
		window: window,
		logger: slog.Default(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.janitor()
	return m
}

// Window returns the effective retention window.
func (m *Manager) Window() time.Duration {
	return m.window
}

// CheckAndRecord atomically records the ID and reports whether it was
// already seen inside the window.
func (m *Manager) CheckAndRecord(ctx context.Context, messageID string) (bool, error) {
	return m.store.CheckAndRecord(ctx, messageID, time.Now())
}

// Contains reports whether the ID is currently retained, without
// recording it.
func (m *Manager) Contains(ctx context.Context, messageID string) (bool, error) {
	return m.store.Contains(ctx, messageID)
}

// Clear drops all retained IDs.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Count returns the number of retained IDs.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// Close stops the expiry janitor.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Manager) janitor() {
	defer close(m.done)

	interval := m.window / 10
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.window)
			removed, err := m.store.Expire(context.Background(), cutoff)
			if err != nil {
				m.logger.Warn("duplicate cache expiry failed", "error", err)
				continue
			}
			if removed > 0 {
				m.logger.Debug("expired duplicate cache entries", "removed", removed)
			}
		}
	}
}
