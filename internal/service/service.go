package service

import (
	"context"
	"errors"
	"time"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/cache"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/logger"
	"petshop/backend/internal/metrics"
	"petshop/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache   cache.ReportCache
	Metrics *metrics.Reconciliation
	Logger  *logger.Logger
	// Location is the shop time zone. "Today" and RFC 3339 sale dates are
	// resolved in it.
	Location *time.Location
	// FloorCheck rejects stock decrements that would leave a negative quantity.
	FloorCheck        bool
	LowStockThreshold int
	ReportCacheTTL    time.Duration
	Now               func() time.Time
}

type Service struct {
	repo              store.Repository
	cache             cache.ReportCache
	metrics           *metrics.Reconciliation
	log               *logger.Logger
	loc               *time.Location
	floorCheck        bool
	lowStockThreshold int
	reportCacheTTL    time.Duration
	now               func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopReportCache{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 5
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:              repo,
		cache:             opts.Cache,
		metrics:           opts.Metrics,
		log:               opts.Logger,
		loc:               opts.Location,
		floorCheck:        opts.FloorCheck,
		lowStockThreshold: opts.LowStockThreshold,
		reportCacheTTL:    opts.ReportCacheTTL,
		now:               opts.Now,
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, apperr.New(apperr.CodeForbidden, "admin role required")
	}
	return actor, nil
}

// storeError maps store sentinels to typed errors. Typed errors raised inside
// a transaction callback pass through unchanged.
func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := apperr.As(err); typed != nil {
		return typed
	}
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return apperr.Wrap(apperr.CodeConflict, err, "insufficient stock")
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, "resource not found")
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Wrap(apperr.CodeConflict, err, "resource already exists")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeStore, err, "request cancelled")
	}
	return apperr.Store(err, message)
}

func (s *Service) observe(operation string, started time.Time, err error) {
	code := ""
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	s.metrics.Observe(operation, code, time.Since(started))
}

// invalidateReports runs after every committed write to sales or stock.
func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "report cache invalidation failed")
	}
}

// today is the current calendar day in the shop time zone, as midnight UTC.
func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// parseDay accepts "YYYY-MM-DD" or an RFC 3339 timestamp. Timestamps are
// placed on the shop's calendar before truncation.
func (s *Service) parseDay(raw string) (time.Time, error) {
	if day, err := time.Parse(domain.DayLayout, raw); err == nil {
		return day, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	local := ts.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
