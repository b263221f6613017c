package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-formrelay/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const outcomeCacheKeyPrefix = "go-formrelay::outcomes::v1"

type outcomeStore interface {
	core.OutcomeLedger
	core.OutcomeReader
}

// CachedOutcomeReader serves outcome lookups through a cache and drops the
// cached entry whenever a new report for the dispatch is recorded.
type CachedOutcomeReader struct {
	base  outcomeStore
	cache repositorycache.CacheService
}

func NewCachedOutcomeReader(base outcomeStore, cacheService repositorycache.CacheService) (*CachedOutcomeReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base outcome store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: outcome cache service is required")
	}
	return &CachedOutcomeReader{base: base, cache: cacheService}, nil
}

// OutcomeCacheKey returns go-formrelay::outcomes::v1::<dispatch_id> with the
// id URL-path escaped.
func OutcomeCacheKey(dispatchID string) (string, error) {
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return "", fmt.Errorf("sqlstore: dispatch id is required")
	}
	return outcomeCacheKeyPrefix + "::" + url.PathEscape(dispatchID), nil
}

func (s *CachedOutcomeReader) ListOutcomes(ctx context.Context, dispatchID string) ([]core.OutcomeRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached outcome reader is not configured")
	}
	key, err := OutcomeCacheKey(dispatchID)
	if err != nil {
		return nil, err
	}
	records, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) ([]core.OutcomeRecord, error) {
		return s.base.ListOutcomes(ctx, strings.TrimSpace(dispatchID))
	})
	if err != nil {
		return nil, err
	}
	return cloneOutcomeRecords(records), nil
}

func (s *CachedOutcomeReader) Record(ctx context.Context, report core.DispatchReport) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached outcome reader is not configured")
	}
	if err := s.base.Record(ctx, report); err != nil {
		return err
	}
	key, err := OutcomeCacheKey(report.DispatchID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}

func cloneOutcomeRecords(records []core.OutcomeRecord) []core.OutcomeRecord {
	out := make([]core.OutcomeRecord, 0, len(records))
	for _, record := range records {
		record.Metadata = copyAnyMap(record.Metadata)
		out = append(out, record)
	}
	return out
}
