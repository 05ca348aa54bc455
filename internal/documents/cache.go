package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultCacheTTL is how long recognized pages stay cached.
const DefaultCacheTTL = 24 * time.Hour

// CachedEngine memoizes another engine by file content, so re-verifying an
// invoice does not run OCR again.
type CachedEngine struct {
	next  Engine
	cache domain.Cache
	ttl   time.Duration
}

// NewCachedEngine wraps next with cache.
func NewCachedEngine(next Engine, cache domain.Cache, ttl time.Duration) *CachedEngine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedEngine{next: next, cache: cache, ttl: ttl}
}

// Recognize implements Engine. Cache failures fall through to the wrapped
// engine.
func (c *CachedEngine) Recognize(ctx context.Context, path string, maxPages int) ([]Page, error) {
	key, err := contentKey(path, maxPages)
	if err != nil {
		return c.next.Recognize(ctx, path, maxPages)
	}

	if data, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("ocr cache read failed", "path", path, "error", err)
	} else if data != nil {
		var pages []Page
		if err := json.Unmarshal(data, &pages); err == nil {
			return pages, nil
		}
	}

	pages, err := c.next.Recognize(ctx, path, maxPages)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(pages); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			slog.Warn("ocr cache write failed", "path", path, "error", err)
		}
	}
	return pages, nil
}

func contentKey(path string, maxPages int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("ocr:%s:%d", hex.EncodeToString(h.Sum(nil)), maxPages), nil
}
