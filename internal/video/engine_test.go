package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidstore/internal/registry"
	"vidstore/internal/status"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transcodeFunc func(ctx context.Context, src, dst string, width, height int) error

func (f transcodeFunc) Resize(ctx context.Context, src, dst string, width, height int) error {
	return f(ctx, src, dst, width, height)
}

// appendSize writes the source bytes plus the target size, standing in for ffmpeg.
func appendSize(_ context.Context, src, dst string, width, height int) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append(b, fmt.Sprintf(" %dx%d", width, height)...), 0o600)
}

// blockingTranscoder holds every resize until release is closed.
func blockingTranscoder(release <-chan struct{}) transcodeFunc {
	return func(ctx context.Context, src, dst string, width, height int) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return appendSize(ctx, src, dst, width, height)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newEngineWith(t, transcodeFunc(appendSize))
}

func newEngineWith(t *testing.T, tr transcodeFunc) *Engine {
	t.Helper()
	return NewEngineWithOptions(Options{
		DataDir:    t.TempDir(),
		Transcoder: tr,
	})
}

func wait(t *testing.T, h *registry.Handle) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := h.Wait(ctx)
	require.NoError(t, err, "operation did not finish in time")
	return ok
}

func ingestDone(t *testing.T, e *Engine, name, content string) uuid.UUID {
	t.Helper()
	id, h, err := e.Ingest(context.Background(), name, strings.NewReader(content))
	require.NoError(t, err)
	require.True(t, wait(t, h))
	return id
}

func TestUnknownIDIsRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := e.GetInfo(ctx, id)
	assert.ErrorIs(t, err, ErrNonExistentID)
	_, err = e.Transform(ctx, id, 640, 360)
	assert.ErrorIs(t, err, ErrNonExistentID)
	_, err = e.Purge(ctx, id)
	assert.ErrorIs(t, err, ErrNonExistentID)
}

func TestIngestRejectsWrongFormat(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"clip.txt", "mp4", "video.mp4.zip", ""} {
		_, h, err := e.Ingest(ctx, name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrFormat, name)
		assert.Nil(t, h)
	}

	infos, err := e.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos, "rejected uploads must leave no records")
	assert.Equal(t, 0, e.Registry().Len())
}

func TestIngestAcceptsExtensionCaseInsensitively(t *testing.T) {
	e := newTestEngine(t)
	id := ingestDone(t, e, "Holiday.MP4", "frames")

	info, err := e.GetInfo(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Holiday.MP4", info.Filename)
}

func TestIngestStatusWhileRunningAndAfter(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pr, pw := io.Pipe()

	id, h, err := e.Ingest(ctx, "video.mp4", pr)
	require.NoError(t, err)

	info, err := e.GetInfo(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Processing)
	assert.Nil(t, info.LastSuccess)
	assert.Equal(t, "video.mp4", info.Filename)

	_, err = pw.Write([]byte("frames"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.True(t, wait(t, h))

	info, err = e.GetInfo(ctx, id)
	require.NoError(t, err)
	assert.False(t, info.Processing)
	require.NotNil(t, info.LastSuccess)
	assert.True(t, *info.LastSuccess)
	assert.Equal(t, "video.mp4", info.Filename)

	stored, err := os.ReadFile(e.videoPath(id))
	require.NoError(t, err)
	assert.Equal(t, "frames", string(stored))
}

func TestIngestCopyFailureIsRecorded(t *testing.T) {
	e := newTestEngine(t)
	pr, pw := io.Pipe()
	_ = pw.CloseWithError(errors.New("client went away"))

	id, h, err := e.Ingest(context.Background(), "video.mp4", pr)
	require.NoError(t, err, "background failures are not returned to the caller")
	assert.False(t, wait(t, h))

	info, err := e.GetInfo(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, info.Processing)
	require.NotNil(t, info.LastSuccess)
	assert.False(t, *info.LastSuccess)
}

func TestTransformRejectsIncorrectSizes(t *testing.T) {
	e := newTestEngine(t)
	id := ingestDone(t, e, "video.mp4", "frames")

	for _, size := range [][2]int{{40, 0}, {0, 40}, {40, -1}, {40, 33}, {40, 1}, {20, 40}, {-40, -40}} {
		_, err := e.Transform(context.Background(), id, size[0], size[1])
		assert.ErrorIs(t, err, ErrIncorrectSize, "%v", size)
	}
	assert.False(t, e.Registry().IsBusy(id), "rejected requests must not register work")
}

func TestTransformAcceptsValidSizes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, size := range [][2]int{{640, 360}, {320, 180}, {1280, 720}, {360, 360}} {
		id := ingestDone(t, e, "video.mp4", "frames")
		h, err := e.Transform(ctx, id, size[0], size[1])
		require.NoError(t, err, "%v", size)
		assert.True(t, wait(t, h))

		info, err := e.GetInfo(ctx, id)
		require.NoError(t, err)
		assert.False(t, info.Processing)
		require.NotNil(t, info.LastSuccess)
		assert.True(t, *info.LastSuccess)

		stored, err := os.ReadFile(e.videoPath(id))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("frames %dx%d", size[0], size[1]), string(stored))
		assert.NoFileExists(t, e.tempPath(id))
	}
}

func TestTransformConflictsWhileRunning(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	e := newEngineWith(t, blockingTranscoder(release))
	id := ingestDone(t, e, "video.mp4", "frames")

	first, err := e.Transform(ctx, id, 640, 360)
	require.NoError(t, err)

	info, err := e.GetInfo(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Processing)
	assert.Nil(t, info.LastSuccess, "outcome resets when an operation starts")

	_, err = e.Transform(ctx, id, 320, 180)
	assert.ErrorIs(t, err, ErrProcessing)

	close(release)
	require.True(t, wait(t, first))

	second, err := e.Transform(ctx, id, 320, 180)
	require.NoError(t, err)
	assert.True(t, wait(t, second))
}

func TestTransformConflictsWithRunningIngest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pr, pw := io.Pipe()

	id, h, err := e.Ingest(ctx, "video.mp4", pr)
	require.NoError(t, err)

	_, err = e.Transform(ctx, id, 640, 360)
	assert.ErrorIs(t, err, ErrProcessing)

	require.NoError(t, pw.Close())
	wait(t, h)
}

func TestTransformFailureKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	e := newEngineWith(t, func(_ context.Context, _, dst string, _, _ int) error {
		_ = os.WriteFile(dst, []byte("half"), 0o600)
		return errors.New("ffmpeg exited with code 1")
	})
	id := ingestDone(t, e, "video.mp4", "frames")

	h, err := e.Transform(ctx, id, 640, 360)
	require.NoError(t, err)
	assert.False(t, wait(t, h))

	info, err := e.GetInfo(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, info.LastSuccess)
	assert.False(t, *info.LastSuccess)

	stored, err := os.ReadFile(e.videoPath(id))
	require.NoError(t, err)
	assert.Equal(t, "frames", string(stored))
	assert.NoFileExists(t, e.tempPath(id), "temp artifact is cleaned up on failure")
}

func TestPurgeWaitsForRunningOperation(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	e := newEngineWith(t, blockingTranscoder(release))
	id := ingestDone(t, e, "video.mp4", "frames")

	transform, err := e.Transform(ctx, id, 640, 360)
	require.NoError(t, err)

	purge, err := e.Purge(ctx, id)
	require.NoError(t, err)

	_, err = e.GetInfo(ctx, id)
	assert.ErrorIs(t, err, ErrNonExistentID, "status disappears immediately")
	_, err = e.Transform(ctx, id, 320, 180)
	assert.ErrorIs(t, err, ErrNonExistentID)

	select {
	case <-purge.Done():
		t.Fatal("deletion must wait for the running resize")
	case <-time.After(50 * time.Millisecond):
	}
	assert.FileExists(t, e.videoPath(id))

	close(release)
	wait(t, transform)
	assert.True(t, wait(t, purge))
	assert.NoFileExists(t, e.videoPath(id))
	assert.NoFileExists(t, e.tempPath(id))
}

func TestPurgeIdleFile(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id := ingestDone(t, e, "video.mp4", "frames")

	h, err := e.Purge(ctx, id)
	require.NoError(t, err)
	assert.True(t, wait(t, h))
	assert.NoFileExists(t, e.videoPath(id))

	has, err := e.store.Has(ctx, id)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = e.Purge(ctx, id)
	assert.ErrorIs(t, err, ErrNonExistentID, "ids are not reusable after purge")
}

func TestRecoverMarksInterruptedAndSweepsLeftovers(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	store := status.NewFileStore(dataDir)
	e := NewEngineWithOptions(Options{DataDir: dataDir, Store: store, Transcoder: transcodeFunc(appendSize)})

	interrupted, err := store.Create(ctx, uuid.New(), "cut.mp4")
	require.NoError(t, err)
	finished, err := store.Create(ctx, uuid.New(), "done.mp4")
	require.NoError(t, err)
	require.NoError(t, store.SetLastSuccess(ctx, finished.ID, true))

	orphan := uuid.New()
	require.NoError(t, os.MkdirAll(e.tempDir(), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Dir(e.videoPath(orphan)), 0o750))
	require.NoError(t, os.WriteFile(e.tempPath(interrupted.ID), []byte("tmp"), 0o600))
	require.NoError(t, os.WriteFile(e.videoPath(orphan), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(e.videoPath(finished.ID), []byte("keep"), 0o600))

	require.NoError(t, e.Recover(ctx))

	info, err := e.GetInfo(ctx, interrupted.ID)
	require.NoError(t, err)
	require.NotNil(t, info.LastSuccess)
	assert.False(t, *info.LastSuccess)

	info, err = e.GetInfo(ctx, finished.ID)
	require.NoError(t, err)
	assert.True(t, *info.LastSuccess)

	assert.NoFileExists(t, e.tempPath(interrupted.ID))
	assert.NoFileExists(t, e.videoPath(orphan))
	assert.FileExists(t, e.videoPath(finished.ID))
}

func TestWaitAllAfterShutdownCancel(t *testing.T) {
	e := newEngineWith(t, blockingTranscoder(make(chan struct{})))
	ctx, cancel := context.WithCancel(context.Background())
	e.SetBaseContext(ctx)
	id := ingestDone(t, e, "video.mp4", "frames")

	h, err := e.Transform(context.Background(), id, 640, 360)
	require.NoError(t, err)

	cancel()
	require.True(t, e.WaitAll(context.Background()))
	assert.False(t, h.Success(), "cancelled resize counts as failed")
}

// hookStore runs afterCreate once the record is written, while Ingest is
// still in progress.
type hookStore struct {
	status.Store
	createErr   error
	afterCreate func(id uuid.UUID)
}

func (s *hookStore) Create(ctx context.Context, id uuid.UUID, filename string) (status.Record, error) {
	if s.createErr != nil {
		return status.Record{}, s.createErr
	}
	rec, err := s.Store.Create(ctx, id, filename)
	if err == nil && s.afterCreate != nil {
		s.afterCreate(id)
	}
	return rec, err
}

func TestIngestIsBusyBeforeRecordIsVisible(t *testing.T) {
	dataDir := t.TempDir()
	store := &hookStore{Store: status.NewFileStore(dataDir)}
	e := NewEngineWithOptions(Options{DataDir: dataDir, Store: store, Transcoder: transcodeFunc(appendSize)})
	ctx := context.Background()

	var (
		seen         FileInfo
		infoErr      error
		transformErr error
	)
	store.afterCreate = func(id uuid.UUID) {
		seen, infoErr = e.GetInfo(ctx, id)
		_, transformErr = e.Transform(ctx, id, 640, 360)
	}

	id, h, err := e.Ingest(ctx, "video.mp4", strings.NewReader("frames"))
	require.NoError(t, err)
	require.True(t, wait(t, h))

	require.NoError(t, infoErr)
	assert.True(t, seen.Processing, "a freshly created record must already be busy")
	assert.Nil(t, seen.LastSuccess)
	assert.ErrorIs(t, transformErr, ErrProcessing)

	infos, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
}

func TestIngestCreateFailureLeavesNothingBehind(t *testing.T) {
	dataDir := t.TempDir()
	store := &hookStore{Store: status.NewFileStore(dataDir), createErr: errors.New("disk full")}
	e := NewEngineWithOptions(Options{DataDir: dataDir, Store: store, Transcoder: transcodeFunc(appendSize)})
	ctx := context.Background()

	_, h, err := e.Ingest(ctx, "video.mp4", strings.NewReader("frames"))
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Equal(t, 0, e.Registry().Len())

	infos, err := e.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestPurgeWaitsForRunningIngest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pr, pw := io.Pipe()

	id, ingest, err := e.Ingest(ctx, "video.mp4", pr)
	require.NoError(t, err)

	purge, err := e.Purge(ctx, id)
	require.NoError(t, err)
	_, err = e.GetInfo(ctx, id)
	assert.ErrorIs(t, err, ErrNonExistentID)

	select {
	case <-purge.Done():
		t.Fatal("deletion must wait for the running upload")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = pw.Write([]byte("frames"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	wait(t, ingest)
	assert.True(t, wait(t, purge))
	assert.NoFileExists(t, e.videoPath(id))

	infos, err := e.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestTransformRespectsConcurrencyCap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	e := NewEngineWithOptions(Options{
		DataDir: t.TempDir(),
		Transcoder: transcodeFunc(func(ctx context.Context, src, dst string, width, height int) error {
			started <- src
			<-release
			return appendSize(ctx, src, dst, width, height)
		}),
		MaxConcurrentTranscodes: 1,
	})
	ctx := context.Background()
	first := ingestDone(t, e, "a.mp4", "a")
	second := ingestDone(t, e, "b.mp4", "b")

	h1, err := e.Transform(ctx, first, 640, 360)
	require.NoError(t, err)
	h2, err := e.Transform(ctx, second, 640, 360)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("no resize started")
	}
	select {
	case <-started:
		t.Fatal("second resize started while the only slot was taken")
	case <-time.After(50 * time.Millisecond):
	}

	info, err := e.GetInfo(ctx, second)
	require.NoError(t, err)
	assert.True(t, info.Processing, "a resize waiting for a slot is still busy")

	close(release)
	assert.True(t, wait(t, h1))
	assert.True(t, wait(t, h2))
}
