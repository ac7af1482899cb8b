package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

func testManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	return NewManager(cfg, nil)
}

func quickConfig() Config {
	return Config{
		Timeout:    200 * time.Millisecond,
		StaleAfter: 1 * time.Second,
	}
}

func TestAcquire_FreshDirectory(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	handle, err := m.Acquire(context.Background(), dir)

	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.NotEmpty(t, handle.Token())
	assert.FileExists(t, filepath.Join(dir, FileName))

	require.NoError(t, m.Release(handle))
	assert.NoFileExists(t, filepath.Join(dir, FileName))
}

func TestAcquire_RecordContents(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	handle, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(handle)

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, handle.Token(), rec.Token)
	assert.False(t, rec.AcquiredAt.IsZero())
	assert.Equal(t, rec.AcquiredAt, rec.HeartbeatAt)
}

func TestAcquire_HeldLockTimesOut(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	first, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(first)

	// A second acquire against a validly held lock must time out.
	start := time.Now()
	_, err = m.Acquire(context.Background(), dir)

	require.Error(t, err)
	assert.ErrorIs(t, err, liberrors.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquire_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, Config{Timeout: 10 * time.Second, StaleAfter: time.Minute})

	first, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(first)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_ReclaimsStaleLockAfterCrash(t *testing.T) {
	// Given a lock record left behind by a crashed holder, with a
	// heartbeat older than the staleness threshold
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	crashed, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	// The holder dies without Release; simulate the elapsed time by
	// aging the record on disk.
	ageRecord(t, dir, 2*time.Second)

	// When a new process acquires
	handle, err := m.Acquire(context.Background(), dir)

	// Then the stale record is reclaimed under a fresh token
	require.NoError(t, err)
	assert.NotEqual(t, crashed.Token(), handle.Token())

	rec, err := m.Inspect(dir)
	require.NoError(t, err)
	assert.Equal(t, handle.Token(), rec.Token)

	require.NoError(t, m.Release(handle))
}

func TestAcquire_DoesNotReclaimBeforeThreshold(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	held, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(held)

	// Age the record to just under the threshold.
	ageRecord(t, dir, 500*time.Millisecond)

	_, err = m.Acquire(context.Background(), dir)
	assert.ErrorIs(t, err, liberrors.ErrLockTimeout)
}

func TestAcquire_ConcurrentContenders(t *testing.T) {
	// Two contenders race on a fresh directory: exactly one wins
	// immediately, the other either waits it out or times out.
	dir := t.TempDir()
	m := testManager(t, Config{Timeout: 1 * time.Second, StaleAfter: time.Minute})

	var mu sync.Mutex
	var handles []*Handle
	var failures []error
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(context.Background(), dir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			// Hold briefly, then release so the other may succeed.
			time.Sleep(100 * time.Millisecond)
			handles = append(handles, h)
			assert.NoError(t, m.Release(h))
		}()
	}
	wg.Wait()

	assert.NotEmpty(t, handles, "at least one contender must acquire")
	assert.Len(t, handles, 2-len(failures))
	for _, err := range failures {
		assert.ErrorIs(t, err, liberrors.ErrLockTimeout)
	}
	assert.NoFileExists(t, filepath.Join(dir, FileName))
}

func TestRenew_RefreshesHeartbeat(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	handle, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(handle)

	before, err := m.Inspect(dir)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Renew(handle))

	after, err := m.Inspect(dir)
	require.NoError(t, err)
	assert.True(t, after.HeartbeatAt.After(before.HeartbeatAt))
	assert.Equal(t, before.AcquiredAt.Unix(), after.AcquiredAt.Unix())
}

func TestRenew_FailsAfterReclamation(t *testing.T) {
	// Given a holder whose lock went stale and was reclaimed
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	old, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	ageRecord(t, dir, 2*time.Second)

	reclaimer, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(reclaimer)

	// When the original holder tries to renew
	err = m.Renew(old)

	// Then it learns the lock is lost
	require.Error(t, err)
	assert.Equal(t, liberrors.ErrCodeLockLost, liberrors.GetCode(err))
}

func TestRelease_SkipsReclaimedLock(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	old, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	ageRecord(t, dir, 2*time.Second)

	reclaimer, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)

	// The dead holder's release must not remove the reclaimer's lock.
	require.NoError(t, m.Release(old))
	assert.FileExists(t, filepath.Join(dir, FileName))

	require.NoError(t, m.Release(reclaimer))
	assert.NoFileExists(t, filepath.Join(dir, FileName))
}

func TestRenew_WaitsForReclamationGuard(t *testing.T) {
	// A renewal must not interleave with an in-flight reclamation: the
	// token check and the heartbeat write happen under the same sidecar
	// flock reclamation holds, so whichever side wins the guard, the
	// other sees its finished state instead of racing it.
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	handle, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(handle)

	guard := flock.New(filepath.Join(dir, reclaimGuardName))
	require.NoError(t, guard.Lock())

	renewed := make(chan error, 1)
	go func() { renewed <- m.Renew(handle) }()

	select {
	case <-renewed:
		t.Fatal("renew completed while the guard was held")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, guard.Unlock())
	assert.NoError(t, <-renewed)
}

func TestRelease_WaitsForReclamationGuard(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	handle, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)

	guard := flock.New(filepath.Join(dir, reclaimGuardName))
	require.NoError(t, guard.Lock())

	released := make(chan error, 1)
	go func() { released <- m.Release(handle) }()

	select {
	case <-released:
		t.Fatal("release completed while the guard was held")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, guard.Unlock())
	assert.NoError(t, <-released)
	assert.NoFileExists(t, filepath.Join(dir, FileName))
}

func TestRelease_MissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, quickConfig())

	handle, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, m.Release(handle))
	require.NoError(t, m.Release(handle))
}

func TestInspect_NoLock(t *testing.T) {
	m := testManager(t, quickConfig())

	rec, err := m.Inspect(t.TempDir())

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRenewer_KeepsLockFresh(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, Config{Timeout: 200 * time.Millisecond, StaleAfter: 150 * time.Millisecond})

	handle, err := m.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer m.Release(handle)

	renewer := NewRenewer(m, handle, 40*time.Millisecond, nil)
	renewer.Start()

	// Without renewal the lock would go stale during this window; a
	// contender must still see it as held.
	time.Sleep(300 * time.Millisecond)
	_, err = m.Acquire(context.Background(), dir)
	assert.ErrorIs(t, err, liberrors.ErrLockTimeout)

	renewer.Stop()
	assert.NoError(t, renewer.Err())
}

// ageRecord rewrites the on-disk record with timestamps pushed into the
// past, simulating a holder that stopped heartbeating.
func ageRecord(t *testing.T, dir string, age time.Duration) {
	t.Helper()

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	rec.HeartbeatAt = rec.HeartbeatAt.Add(-age)
	rec.AcquiredAt = rec.AcquiredAt.Add(-age)

	aged, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, aged, 0644))
}
