package cache

import (
	"context"
	"time"

	"petshop/backend/internal/domain"
)

// ReportCache stores rendered sales reports under a generation. Invalidate
// starts a new generation; callers run it after any write to sales or stock.
// Readers capture the generation before loading data and write back under it,
// so a report built from pre-write data never lands in the newer generation.
type ReportCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, key string) (*domain.SalesReport, bool, error)
	Set(ctx context.Context, gen int64, key string, value *domain.SalesReport, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Get(_ context.Context, _ int64, _ string) (*domain.SalesReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ int64, _ string, _ *domain.SalesReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
