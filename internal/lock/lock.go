// Package lock provides a file-based advisory lock for cross-process
// mutual exclusion over a database directory.
//
// The lock is a JSON record created with O_EXCL inside the database
// directory. Holders identify themselves with a PID plus a random
// session token and refresh a heartbeat timestamp while held; a record
// whose heartbeat has gone stale (or whose holder process is dead on
// this host) is reclaimable by a contender.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

// FileName is the lock record file created inside the database directory.
const FileName = ".libris.lock"

// reclaimGuardName is a flock-guarded sidecar that serializes every
// read-check-write of the record: reclamation between contenders, and
// heartbeat renewal and release by the holder. Without it a delayed
// holder write could land over a contender's fresh record and leave two
// processes both believing they hold the lock.
const reclaimGuardName = ".libris.lock.reclaim"

const (
	initialBackoff = 50 * time.Millisecond
	maxBackoff     = 1 * time.Second
)

// Record is the persisted lock record.
type Record struct {
	PID         int       `json:"pid"`
	Token       string    `json:"token"`
	Hostname    string    `json:"hostname"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Handle represents a held lock. It is returned by Acquire and must be
// released with Manager.Release.
type Handle struct {
	dir   string
	token string
}

// Token returns the session token identifying this holder.
func (h *Handle) Token() string {
	return h.token
}

// Path returns the lock file path for this handle.
func (h *Handle) Path() string {
	return filepath.Join(h.dir, FileName)
}

// Config controls lock acquisition behavior.
type Config struct {
	// Timeout bounds how long Acquire retries before failing.
	Timeout time.Duration

	// StaleAfter is the heartbeat age beyond which a record is
	// considered abandoned.
	StaleAfter time.Duration
}

// DefaultConfig returns the default lock configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		StaleAfter: 60 * time.Second,
	}
}

// Manager acquires, renews, and releases the database directory lock.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// now is swappable for staleness tests.
	now func() time.Time
}

// NewManager creates a lock manager with the given configuration.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger, now: time.Now}
}

// Acquire obtains the exclusive lock for dir, retrying with capped
// exponential backoff until Config.Timeout elapses. A record whose
// heartbeat exceeds Config.StaleAfter, or whose holder PID is dead on
// this host, is reclaimed. Fails with the lock-timeout error when the
// budget runs out, or a lock-IO error on filesystem failure.
func (m *Manager) Acquire(ctx context.Context, dir string) (*Handle, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeLockIO, err)
	}

	deadline := m.now().Add(m.cfg.Timeout)
	backoff := initialBackoff

	for {
		handle, err := m.tryAcquire(dir)
		if err != nil {
			return nil, err
		}
		if handle != nil {
			m.logger.Debug("lock_acquired",
				slog.String("dir", dir),
				slog.String("token", handle.token))
			return handle, nil
		}

		if !m.now().Add(backoff).Before(deadline) {
			m.logger.Warn("lock_timeout",
				slog.String("dir", dir),
				slog.Duration("timeout", m.cfg.Timeout))
			return nil, liberrors.New(liberrors.ErrCodeLockTimeout,
				fmt.Sprintf("lock on %s not acquired within %s", dir, m.cfg.Timeout), nil).
				WithSuggestion("another libris process may be indexing; retry later or remove a stale lock file")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// tryAcquire makes a single acquisition attempt. It returns (nil, nil)
// when the lock is validly held by someone else.
func (m *Manager) tryAcquire(dir string) (*Handle, error) {
	handle, err := m.createExclusive(dir)
	if err == nil {
		return handle, nil
	}
	if !os.IsExist(err) {
		return nil, liberrors.Wrap(liberrors.ErrCodeLockIO, err)
	}

	rec, err := m.readRecord(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create attempt and read.
			return nil, nil
		}
		// Unreadable record: treat as stale only via the guard path
		// below, never by blind deletion.
		rec = nil
	}

	if rec != nil && !m.isStale(rec) {
		return nil, nil
	}

	return m.reclaim(dir, rec)
}

// createExclusive writes a fresh record with O_CREATE|O_EXCL semantics.
func (m *Manager) createExclusive(dir string) (*Handle, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	rec := m.newRecord()
	data, err := json.Marshal(rec)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	return &Handle{dir: dir, token: rec.Token}, nil
}

// reclaim replaces a stale record. A flock on a sidecar file serializes
// contenders so only one performs the replacement; the record is
// re-checked under the guard because another contender may have
// reclaimed first.
func (m *Manager) reclaim(dir string, stale *Record) (*Handle, error) {
	guard := flock.New(filepath.Join(dir, reclaimGuardName))
	locked, err := guard.TryLock()
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeLockIO, err)
	}
	if !locked {
		// Another contender is mid-reclamation; back off and retry.
		return nil, nil
	}
	defer guard.Unlock()

	current, err := m.readRecord(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Reclaimed and released already; fall through to a fresh
			// create on the next attempt.
			return nil, nil
		}
		current = nil
	}
	if current != nil {
		if stale != nil && current.Token != stale.Token {
			// The record changed hands since we judged it stale.
			return nil, nil
		}
		if !m.isStale(current) {
			return nil, nil
		}
	}

	m.logger.Info("lock_reclaimed",
		slog.String("dir", dir),
		slog.Int("stale_pid", recordPID(current)))

	rec := m.newRecord()
	if err := m.writeRecord(dir, rec); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeLockIO, err)
	}
	return &Handle{dir: dir, token: rec.Token}, nil
}

// withGuard runs fn while holding the sidecar flock. Every path that
// rewrites or removes the record after reading it goes through here, so
// the token check and the write it authorizes are one atomic step with
// respect to other processes.
func (m *Manager) withGuard(dir string, fn func() error) error {
	guard := flock.New(filepath.Join(dir, reclaimGuardName))
	if err := guard.Lock(); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeLockIO, err)
	}
	defer guard.Unlock()
	return fn()
}

// Renew refreshes the heartbeat for a held lock. Long-running holders
// must call this at an interval well under the staleness threshold.
// Fails with the lock-lost error if the record no longer carries the
// handle's token.
func (m *Manager) Renew(h *Handle) error {
	return m.withGuard(h.dir, func() error {
		rec, err := m.readRecord(h.dir)
		if err != nil {
			if os.IsNotExist(err) {
				return liberrors.New(liberrors.ErrCodeLockLost,
					"lock file disappeared while held", nil)
			}
			return liberrors.Wrap(liberrors.ErrCodeLockIO, err)
		}
		if rec.Token != h.token {
			return liberrors.New(liberrors.ErrCodeLockLost,
				"lock reclaimed by another process after missed renewals", nil)
		}

		rec.HeartbeatAt = m.now()
		if err := m.writeRecord(h.dir, rec); err != nil {
			return liberrors.Wrap(liberrors.ErrCodeLockIO, err)
		}
		return nil
	})
}

// Release deletes the lock file, but only while the record still
// carries the handle's token. Releasing a lock reclaimed by someone
// else is a no-op.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	return m.withGuard(h.dir, func() error {
		rec, err := m.readRecord(h.dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return liberrors.Wrap(liberrors.ErrCodeLockIO, err)
		}
		if rec.Token != h.token {
			m.logger.Warn("lock_release_skipped",
				slog.String("dir", h.dir),
				slog.String("reason", "token mismatch"))
			return nil
		}

		if err := os.Remove(h.Path()); err != nil && !os.IsNotExist(err) {
			return liberrors.Wrap(liberrors.ErrCodeLockIO, err)
		}
		m.logger.Debug("lock_released", slog.String("dir", h.dir))
		return nil
	})
}

// Inspect returns the current lock record for dir, or nil if no lock
// file exists. Read-only; used by status reporting.
func (m *Manager) Inspect(dir string) (*Record, error) {
	rec, err := m.readRecord(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, liberrors.Wrap(liberrors.ErrCodeLockIO, err)
	}
	return rec, nil
}

// isStale reports whether rec may be reclaimed. Staleness is judged by
// heartbeat age alone: a crashed holder becomes reclaimable only once
// the threshold elapses, never before, so a live-but-slow holder whose
// renewals still land is never confused with a dead one. HolderAlive is
// reported separately for diagnostics.
func (m *Manager) isStale(rec *Record) bool {
	return m.now().Sub(rec.HeartbeatAt) > m.cfg.StaleAfter
}

// HolderAlive reports whether the record's holder process still exists
// on this host. Cross-host records always report true (no probe
// possible). Diagnostic only; reclamation is driven by heartbeat age.
func HolderAlive(rec *Record) bool {
	hostname, err := os.Hostname()
	if err != nil || rec.Hostname != hostname {
		return true
	}
	return processExists(rec.PID)
}

func (m *Manager) newRecord() *Record {
	hostname, _ := os.Hostname()
	now := m.now()
	return &Record{
		PID:         os.Getpid(),
		Token:       uuid.NewString(),
		Hostname:    hostname,
		AcquiredAt:  now,
		HeartbeatAt: now,
	}
}

func (m *Manager) readRecord(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt lock record: %w", err)
	}
	return &rec, nil
}

// writeRecord replaces the record atomically via temp file + rename so
// readers never observe a partially written record.
func (m *Manager) writeRecord(dir string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".libris.lock.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, FileName)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func recordPID(rec *Record) int {
	if rec == nil {
		return 0
	}
	return rec.PID
}

// processExists checks liveness via signal 0. On Unix FindProcess
// always succeeds, so the signal probe is the actual check.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
