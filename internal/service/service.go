package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/logger"
	"fifoshop/backend/internal/store"
)

const (
	DefaultLowStockThreshold = 5
	defaultReportDays        = 30
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	lowStockThreshold int
	now               func() time.Time
	log               zerolog.Logger
}

func New(repo store.Repository, lowStockThreshold int) *Service {
	if lowStockThreshold < 1 {
		lowStockThreshold = DefaultLowStockThreshold
	}

	return &Service{
		repo:              repo,
		lowStockThreshold: lowStockThreshold,
		now:               time.Now,
		log:               logger.WithComponent("service"),
	}
}

func (s *Service) LowStockThreshold() int {
	return s.lowStockThreshold
}

// authorize checks that the caller acts within shopID and, when roles are
// given, holds one of them.
func (s *Service) authorize(ctx context.Context, shopID int64, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || shopID < 1 || actor.ShopID != shopID {
		return domain.Actor{}, domain.ErrForbidden
	}
	if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, domain.ErrForbidden
	}
	return actor, nil
}

func (s *Service) today() time.Time {
	return domain.DateUTC(s.now())
}

// parseDay reads a YYYY-MM-DD value, defaulting to today when empty.
func (s *Service) parseDay(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return s.today(), nil
	}
	day, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, value)
	}
	return day, nil
}

// parseRange resolves an inclusive date range. A missing end defaults to
// today and a missing start to the thirty days before the end.
func (s *Service) parseRange(from string, to string) (time.Time, time.Time, error) {
	end, err := s.parseDay(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := end.AddDate(0, 0, -(defaultReportDays - 1))
	if strings.TrimSpace(from) != "" {
		start, err = s.parseDay(from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from must not be after to", domain.ErrInvalidInput)
	}
	return start, end, nil
}

func (s *Service) event(actor domain.Actor, shopID int64) *zerolog.Event {
	return s.log.Info().Str("actor", actor.Username).Int64("shop_id", shopID)
}
