package async

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libris-dev/libris/internal/embed"
	liberrors "github.com/libris-dev/libris/internal/errors"
	"github.com/libris-dev/libris/internal/index"
	"github.com/libris-dev/libris/internal/library"
	"github.com/libris-dev/libris/internal/lock"
)

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib, err := library.Open(library.Config{
		Dir: t.TempDir(),
		Lock: lock.Config{
			Timeout:    2 * time.Second,
			StaleAfter: time.Minute,
		},
		RenewInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func newCoordinator(t *testing.T, lib *library.Library, embedder embed.Embedder) *Coordinator {
	t.Helper()
	if embedder == nil {
		embedder = embed.NewStaticEmbedder(32)
	}
	pipeline := index.New(index.Config{Writer: lib, Embedder: embedder})
	return NewCoordinator(pipeline, nil)
}

func writeBooks(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("book-%d.txt", i+1))
		require.NoError(t, os.WriteFile(paths[i],
			[]byte(fmt.Sprintf("Full text of book number %d.", i+1)), 0644))
	}
	return paths
}

func waitForTerminal(t *testing.T, c *Coordinator) *JobSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	snap := c.Status()
	require.NotNil(t, snap)
	require.True(t, snap.Status.Terminal())
	return snap
}

func TestCoordinator_CompletesJob(t *testing.T) {
	lib := testLibrary(t)
	c := newCoordinator(t, lib, nil)

	jobID, err := c.Start(context.Background(), writeBooks(t, 3))
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	snap := waitForTerminal(t, c)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, jobID, snap.ID)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Done)
	assert.Equal(t, 3, snap.Indexed)
	assert.Zero(t, snap.Failed)
	assert.False(t, snap.FinishedAt.IsZero())

	books, err := lib.ListBooks(context.Background())
	require.NoError(t, err)
	assert.Len(t, books, 3)
	assert.False(t, c.Running())
}

func TestCoordinator_RejectsSecondJob(t *testing.T) {
	lib := testLibrary(t)

	// Gate the embedder so the first job stays running.
	gate := make(chan struct{})
	c := newCoordinator(t, lib, &gatedEmbedder{
		Embedder: embed.NewStaticEmbedder(32),
		gate:     gate,
	})

	first, err := c.Start(context.Background(), writeBooks(t, 2))
	require.NoError(t, err)

	_, err = c.Start(context.Background(), writeBooks(t, 1))
	assert.ErrorIs(t, err, liberrors.ErrJobAlreadyRunning)

	// The rejected call left the first job untouched.
	assert.True(t, c.Running())
	assert.Equal(t, first, c.Status().ID)

	close(gate)
	snap := waitForTerminal(t, c)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Indexed)
}

func TestCoordinator_CancelAfterTwoOfFiveBooks(t *testing.T) {
	// Five sources; cancellation lands while book 2 is embedding. The
	// in-flight book commits, the rest never start: status Cancelled,
	// exactly 2 books durable, lock file absent.
	lib := testLibrary(t)

	hooked := &hookedEmbedder{Embedder: embed.NewStaticEmbedder(32)}
	pipeline := index.New(index.Config{Writer: lib, Embedder: hooked})
	c := NewCoordinator(pipeline, nil)
	hooked.afterEmbed = func(calls int) {
		if calls == 2 {
			c.Cancel()
		}
	}

	_, err := c.Start(context.Background(), writeBooks(t, 5))
	require.NoError(t, err)

	snap := waitForTerminal(t, c)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, 2, snap.Indexed)
	assert.Equal(t, 2, snap.Done)

	books, err := lib.ListBooks(context.Background())
	require.NoError(t, err)
	assert.Len(t, books, 2)

	assert.NoFileExists(t, filepath.Join(lib.Dir(), lock.FileName))
}

func TestCoordinator_StatusSnapshotsProgress(t *testing.T) {
	lib := testLibrary(t)
	c := newCoordinator(t, lib, nil)

	assert.Nil(t, c.Status(), "no snapshot before the first job")

	_, err := c.Start(context.Background(), writeBooks(t, 2))
	require.NoError(t, err)

	snap := waitForTerminal(t, c)
	assert.Equal(t, 2, snap.Done)
	assert.NotEmpty(t, snap.LastPath)
	assert.Greater(t, snap.Elapsed(), time.Duration(0))
}

func TestCoordinator_SecondJobAfterFirstFinishes(t *testing.T) {
	lib := testLibrary(t)
	c := newCoordinator(t, lib, nil)

	_, err := c.Start(context.Background(), writeBooks(t, 1))
	require.NoError(t, err)
	waitForTerminal(t, c)

	_, err = c.Start(context.Background(), writeBooks(t, 1))
	require.NoError(t, err)
	snap := waitForTerminal(t, c)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestCoordinator_ShutdownGraceful(t *testing.T) {
	lib := testLibrary(t)
	c := newCoordinator(t, lib, nil)

	_, err := c.Start(context.Background(), writeBooks(t, 3))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	snap := c.Status()
	require.NotNil(t, snap)
	assert.True(t, snap.Status.Terminal())
	// Whatever committed before the stop is queryable and consistent.
	books, err := lib.ListBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Indexed, len(books))
	assert.NoFileExists(t, filepath.Join(lib.Dir(), lock.FileName))
}

func TestCoordinator_WorkerPanicFailsJob(t *testing.T) {
	// A panic inside the worker must surface as a Failed terminal
	// snapshot with the cause recorded, and must reopen admission.
	lib := testLibrary(t)
	c := newCoordinator(t, lib, &panickingEmbedder{})

	_, err := c.Start(context.Background(), writeBooks(t, 2))
	require.NoError(t, err)

	snap := waitForTerminal(t, c)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "embedder exploded")
	assert.False(t, snap.FinishedAt.IsZero())
	assert.False(t, c.Running())

	// The coordinator accepts new jobs after the failure.
	c2 := newCoordinator(t, lib, nil)
	_, err = c2.Start(context.Background(), writeBooks(t, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitForTerminal(t, c2).Status)
}

func TestCoordinator_WaitNoJob(t *testing.T) {
	c := newCoordinator(t, testLibrary(t), nil)
	assert.NoError(t, c.Wait(context.Background()))
}

func TestCoordinator_CancelNoJobIsNoop(t *testing.T) {
	c := newCoordinator(t, testLibrary(t), nil)
	c.Cancel()
	assert.False(t, c.Running())
}

// gatedEmbedder blocks every Embed call until the gate closes.
type gatedEmbedder struct {
	embed.Embedder
	gate chan struct{}
}

func (g *gatedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-g.gate
	return g.Embedder.Embed(ctx, texts)
}

// panickingEmbedder panics on the first Embed call.
type panickingEmbedder struct{}

func (p *panickingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	panic("embedder exploded")
}

func (p *panickingEmbedder) Dimensions() int { return 32 }

func (p *panickingEmbedder) Close() error { return nil }

// hookedEmbedder invokes afterEmbed with the number of completed calls.
type hookedEmbedder struct {
	embed.Embedder
	calls      int
	afterEmbed func(calls int)
}

func (h *hookedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := h.Embedder.Embed(ctx, texts)
	h.calls++
	if h.afterEmbed != nil {
		h.afterEmbed(h.calls)
	}
	return vecs, err
}
