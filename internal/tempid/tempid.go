// Package tempid keeps the device's current outgoing temp-id fresh and builds
// the advertised payloads from it.
package tempid

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"
)

var ErrNoValue = errors.New("tempid: no value returned")

// TempID is one identifier issued by the identity service.
type TempID struct {
	Value     string
	ExpiresAt time.Time
}

// Fetcher is the identity service client. Either call may return ErrNoValue.
type Fetcher interface {
	FetchTempID(ctx context.Context) (TempID, error)
	FetchBatchTempIDs(ctx context.Context) ([]TempID, error)
}

// Cache holds the most recently confirmed temp-id. One goroutine writes; any
// number read. Readers may see the previous value for one refresh cycle.
type Cache struct {
	v atomic.Pointer[string]
}

// Load returns the cached value and whether it was ever populated.
func (c *Cache) Load() (string, bool) {
	p := c.v.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Swap stores v and returns the previous value.
func (c *Cache) Swap(v string) (string, bool) {
	prev := c.v.Swap(&v)
	if prev == nil {
		return "", false
	}
	return *prev, true
}

// StaticFetcher always returns the same identifier with a far-future expiry.
// It stands in for the identity service in test mode.
type StaticFetcher struct {
	Value string
}

var farFuture = time.Date(4001, time.January, 1, 0, 0, 0, 0, time.UTC)

func (f StaticFetcher) FetchTempID(context.Context) (TempID, error) {
	if f.Value == "" {
		return TempID{}, ErrNoValue
	}
	return TempID{Value: f.Value, ExpiresAt: farFuture}, nil
}

func (f StaticFetcher) FetchBatchTempIDs(ctx context.Context) ([]TempID, error) {
	id, err := f.FetchTempID(ctx)
	if err != nil {
		return nil, err
	}
	return []TempID{id}, nil
}

func clampUint16(v float64) uint16 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}

func clampInt8(v float64) int8 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= math.MinInt8:
		return math.MinInt8
	case v >= math.MaxInt8:
		return math.MaxInt8
	default:
		return int8(v)
	}
}
