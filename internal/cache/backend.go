package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/model"
)

// Key identifies one cached episode result.
type Key struct {
	AnimeID string
	Episode int
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.AnimeID, k.Episode)
}

// Backend stores aggregated results. Implementations must be safe for
// concurrent use and must not hand out references they keep.
type Backend interface {
	Get(ctx context.Context, key Key) (*model.AggregatedResult, bool, error)
	Set(ctx context.Context, key Key, res *model.AggregatedResult) error
	Delete(ctx context.Context, key Key) error
	Keys(ctx context.Context) ([]Key, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// CacheError wraps a backend failure. The cache treats it as a miss.
type CacheError struct {
	Op  string
	Key Key
	Err error
}

func (e *CacheError) Error() string {
	if e.Key.AnimeID == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}
