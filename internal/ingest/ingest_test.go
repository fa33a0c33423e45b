package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/werkstatt-archive/internal/async"
	"github.com/joseph-ayodele/werkstatt-archive/internal/pipeline"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]bool
	after func(n int)
}

func (r *recorder) ProcessFile(_ context.Context, path string) (pipeline.Result, error) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	n := len(r.paths)
	r.mu.Unlock()
	if r.after != nil {
		r.after(n)
	}
	if r.fail[filepath.Base(path)] {
		return pipeline.Result{}, errors.New("unreadable")
	}
	return pipeline.Result{Source: path, Disposition: pipeline.Filed}, nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func intake(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	unclear := filepath.Join(root, "_unklar")
	for _, p := range []string{
		"a.pdf", "b.txt", "sub/c.jpg", "notes.docx", ".hidden.pdf", ".cache/d.pdf", "~$lock.pdf",
		"_unklar/old.pdf",
	} {
		touch(t, filepath.Join(root, p))
	}
	return root, unclear
}

func TestCollect_SkipsHiddenExcludedAndForeign(t *testing.T) {
	root, unclear := intake(t)
	s := NewScanner(&recorder{}, 1, []string{unclear}, nil)
	files, err := s.Collect(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, _ := filepath.Rel(root, f)
		rel = append(rel, r)
	}
	assert.Equal(t, []string{"a.pdf", "b.txt", filepath.Join("sub", "c.jpg")}, rel)

	_, err = s.Collect(" ")
	assert.Error(t, err)
}

func TestScan_FailuresDoNotStopTheScan(t *testing.T) {
	root, unclear := intake(t)
	rec := &recorder{fail: map[string]bool{"b.txt": true}}
	results, stats, err := NewScanner(rec, 3, []string{unclear}, nil).Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 3, stats.Matched)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.Filed)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Skipped)
	assert.Error(t, results[1].Err)
}

func TestScan_CancelBetweenDocuments(t *testing.T) {
	root, unclear := intake(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{after: func(n int) {
		if n == 1 {
			cancel()
		}
	}}

	results, stats, err := NewScanner(rec, 1, []string{unclear}, nil).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1, "the started document is finished")
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Len(t, rec.seen(), 1)
}

func TestWatcher_InitialScanAndNewFiles(t *testing.T) {
	root := t.TempDir()
	unclear := filepath.Join(root, "_unklar")
	touch(t, filepath.Join(root, "existing.pdf"))
	touch(t, filepath.Join(unclear, "filed.pdf"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{root},
		Exclude:     []string{unclear},
		InitialScan: true,
		Debounce:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no watcher event")
			return ""
		}
	}
	assert.Equal(t, filepath.Join(root, "existing.pdf"), next())

	touch(t, filepath.Join(unclear, "ignored.pdf"))
	touch(t, filepath.Join(root, "notes.docx"))
	touch(t, filepath.Join(root, "new.pdf"))
	assert.Equal(t, filepath.Join(root, "new.pdf"), next())

	cancel()
	for range events {
	}
}

func TestStartWatcher_RequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}

func TestFeed_EnqueuesIntoWorkerPool(t *testing.T) {
	rec := &recorder{}
	var (
		mu   sync.Mutex
		done []string
	)
	finished := make(chan struct{}, 3)
	q := async.NewProcessorQueue(rec, nil, async.WithWorkers(2), async.WithQueueSize(1),
		async.WithResultHook(func(j async.Job, _ pipeline.Result, err error) {
			mu.Lock()
			done = append(done, j.Path)
			mu.Unlock()
			finished <- struct{}{}
		}))

	events := make(chan string, 3)
	events <- "/in/a.pdf"
	events <- "/in/b.pdf"
	events <- "/in/c.pdf"
	close(events)
	Feed(context.Background(), events, q, nil)

	for i := 0; i < 3; i++ {
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("job not processed")
		}
	}
	q.Shutdown(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"/in/a.pdf", "/in/b.pdf", "/in/c.pdf"}, done)
	assert.ErrorIs(t, q.Enqueue(context.Background(), async.NewJob("/in/late.pdf")), async.ErrQueueClosed)
}
