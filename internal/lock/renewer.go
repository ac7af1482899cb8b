package lock

import (
	"log/slog"
	"sync"
	"time"
)

// Renewer refreshes a held lock's heartbeat on a fixed interval so a
// long-running holder is not reclaimed as stale. Stop it before
// releasing the lock.
type Renewer struct {
	manager  *Manager
	handle   *Handle
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	lastErr error
}

// NewRenewer creates a renewer for the given handle. The interval must
// be well under the manager's staleness threshold.
func NewRenewer(manager *Manager, handle *Handle, interval time.Duration, logger *slog.Logger) *Renewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renewer{
		manager:  manager,
		handle:   handle,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the renewal loop. The loop exits on Stop or after a
// renewal reports the lock as lost.
func (r *Renewer) Start() {
	go r.run()
}

// Stop terminates the renewal loop and waits for it to exit. Safe to
// call multiple times.
func (r *Renewer) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

// Err returns the last renewal error, if any. A lock-lost error here
// means the holder should abort its write.
func (r *Renewer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Renewer) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.manager.Renew(r.handle); err != nil {
				r.mu.Lock()
				r.lastErr = err
				r.mu.Unlock()
				r.logger.Error("lock_renew_failed",
					slog.String("dir", r.handle.dir),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}
