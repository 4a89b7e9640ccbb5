package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"accessgate/internal/observability"
	"accessgate/internal/store"
)

var (
	ErrMissingIdentity  = errors.New("missing email or device_id")
	ErrStoreUnavailable = errors.New("entitlement store unavailable")
)

// Verifier answers access checks from the entitlement store. It never writes.
type Verifier struct {
	Store    store.Store
	Observer *observability.Observer
	Logger   zerolog.Logger
	Now      func() time.Time
}

func NewVerifier(st store.Store, observer *observability.Observer, logger zerolog.Logger) *Verifier {
	return &Verifier{
		Store:    st,
		Observer: observer,
		Logger:   logger.With().Str("component", "verifier").Logger(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (v *Verifier) Check(ctx context.Context, email, deviceID string) (Access, error) {
	if email == "" || deviceID == "" {
		return Access{}, ErrMissingIdentity
	}
	key := store.Key{Email: email, DeviceID: deviceID}

	ent, found, err := v.Store.Get(ctx, key)
	if err != nil {
		v.Logger.Error().Err(err).Str("email", email).Str("device_id", deviceID).Msg("access check failed")
		v.Observer.RecordAccess(observability.AccessError)
		return Access{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !found {
		v.Observer.RecordAccess(observability.AccessNotFound)
		return Access{}, nil
	}

	access := Evaluate(v.Now(), ent)
	switch {
	case access.Access:
		v.Observer.RecordAccess(observability.AccessGranted)
	case access.Disabled:
		v.Observer.RecordAccess(observability.AccessDisabled)
	default:
		v.Observer.RecordAccess(observability.AccessExpired)
	}
	return access, nil
}
