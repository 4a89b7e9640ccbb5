package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"accessgate/internal/store"
)

type GrantQueue interface {
	PushGrant(ctx context.Context, ent store.Entitlement) error
	PopGrant(ctx context.Context) (store.Entitlement, bool, error)
}

// Service replays grants that failed to persist during webhook handling.
type Service struct {
	Store  store.Store
	Queue  GrantQueue
	Logger zerolog.Logger
}

type Report struct {
	Applied int
	Skipped int
}

func NewService(st store.Store, q GrantQueue, logger zerolog.Logger) *Service {
	return &Service{
		Store:  st,
		Queue:  q,
		Logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// Run drains the queue once. A pending grant is skipped when the store already
// holds a record for the key written at or after the pending grant. On a store
// error the grant is pushed back and Run stops.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report
	if s == nil || s.Queue == nil {
		return report, nil
	}

	for {
		pending, ok, err := s.Queue.PopGrant(ctx)
		if err != nil {
			return report, err
		}
		if !ok {
			return report, nil
		}

		current, found, err := s.Store.Get(ctx, pending.Key())
		if err != nil {
			return report, s.requeue(ctx, pending, err)
		}
		if found && current.UpdatedAt >= pending.UpdatedAt {
			s.Logger.Info().
				Str("email", pending.Email).
				Str("device_id", pending.DeviceID).
				Int64("pending_updated_at", pending.UpdatedAt).
				Int64("current_updated_at", current.UpdatedAt).
				Msg("pending grant superseded")
			report.Skipped++
			continue
		}
		if err := s.Store.Put(ctx, pending); err != nil {
			return report, s.requeue(ctx, pending, err)
		}
		s.Logger.Info().
			Str("email", pending.Email).
			Str("device_id", pending.DeviceID).
			Str("plan_id", pending.PlanID).
			Int64("expires_at", pending.ExpiresAt).
			Msg("pending grant applied")
		report.Applied++
	}
}

func (s *Service) requeue(ctx context.Context, pending store.Entitlement, cause error) error {
	if err := s.Queue.PushGrant(ctx, pending); err != nil {
		return fmt.Errorf("store: %v; requeue failed: %w", cause, err)
	}
	return fmt.Errorf("store: %w", cause)
}
