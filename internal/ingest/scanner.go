package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/async"
)

// Scanner processes every intake file below a directory with bounded concurrency.
type Scanner struct {
	proc    async.FileProcessor
	workers int
	exclude []string
	logger  *slog.Logger
}

// NewScanner creates a scanner. Directories in exclude (the archive's own output areas) are skipped.
func NewScanner(proc async.FileProcessor, workers int, exclude []string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	abs := make([]string, 0, len(exclude))
	for _, e := range exclude {
		if a, err := filepath.Abs(e); err == nil {
			abs = append(abs, a)
		}
	}
	return &Scanner{proc: proc, workers: workers, exclude: abs, logger: logger}
}

// Collect lists the intake files below root in lexical order.
func (s *Scanner) Collect(root string) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("walk error", "path", path, "error", walkErr)
			return nil
		}
		if path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			for _, ex := range s.exclude {
				if path != root && within(path, ex) {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if constants.IsAllowedExt(filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Scan processes every file below root. Cancellation is checked between documents: a document
// that has started is finished and committed, documents not yet started are skipped.
// Per-file failures are recorded in the results and do not stop the scan.
func (s *Scanner) Scan(ctx context.Context, root string) ([]FileResult, ScanStats, error) {
	files, err := s.Collect(root)
	if err != nil {
		return nil, ScanStats{}, err
	}
	stats := ScanStats{Matched: len(files)}
	s.logger.Info("scan started", "root", root, "files", len(files), "workers", s.workers)

	var (
		mu      sync.Mutex
		results = make([]FileResult, 0, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := s.proc.ProcessFile(context.WithoutCancel(gctx), path)
			r := FileResult{Path: path, Result: res, Err: err}
			mu.Lock()
			results = append(results, r)
			stats.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats.Skipped = stats.Matched - len(results)
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	s.logger.Info("scan finished",
		"root", root, "processed", stats.Processed, "failed", stats.Failed, "skipped", stats.Skipped,
		"filed", stats.Filed, "unclear", stats.Unclear, "pending", stats.Pending, "duplicates", stats.Duplicates)
	if err := ctx.Err(); err != nil {
		return results, stats, err
	}
	return results, stats, nil
}
