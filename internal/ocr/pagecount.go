package ocr

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultPageCacheSize bounds the page-count cache.
const DefaultPageCacheSize = 500

type contentHashKey struct{}

// WithContentHash attaches the sha256 of the file being extracted. Page counts are cached by it.
func WithContentHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, contentHashKey{}, hash)
}

func contentHashFromCtx(ctx context.Context) (string, bool) {
	h, ok := ctx.Value(contentHashKey{}).(string)
	return h, ok && h != ""
}

// PageCounter counts PDF pages with pdfcpu. Results are cached by content hash.
type PageCounter struct {
	cache  *lru.Cache[string, int]
	count  func(path string) (int, error)
	logger *slog.Logger
}

func NewPageCounter(size int, logger *slog.Logger) (*PageCounter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = DefaultPageCacheSize
	}
	c, err := lru.New[string, int](size)
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}
	return &PageCounter{cache: c, count: api.PageCountFile, logger: logger}, nil
}

// Count returns the page count of the PDF at path.
func (p *PageCounter) Count(ctx context.Context, path string) (int, error) {
	hash, cacheable := contentHashFromCtx(ctx)
	if cacheable {
		if n, ok := p.cache.Get(hash); ok {
			return n, nil
		}
	}
	n, err := p.count(path)
	if err != nil {
		return 0, err
	}
	if cacheable {
		p.cache.Add(hash, n)
	}
	return n, nil
}

// Purge empties the cache.
func (p *PageCounter) Purge() {
	p.cache.Purge()
}
