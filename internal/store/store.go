package store

import (
	"context"
	"net/url"
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Key identifies one entitlement subject. Both parts compare exactly.
type Key struct {
	Email    string
	DeviceID string
}

// Legacy is the historical document id, email + "_" + device_id. It is
// ambiguous when either part contains "_" and is not used for addressing.
func (k Key) Legacy() string {
	return k.Email + "_" + k.DeviceID
}

// Encode returns an unambiguous single-string address for k. Each part is
// path-escaped with "_" escaped as well, so the separator never appears
// inside a part. For parts made of letters, digits, "@", "." and "-" the
// result equals Legacy().
func (k Key) Encode() string {
	return escapePart(k.Email) + "_" + escapePart(k.DeviceID)
}

func escapePart(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "_", "%5F")
}

// Entitlement is the record stored per Key. Times are epoch milliseconds.
type Entitlement struct {
	Email     string `json:"email" firestore:"email"`
	DeviceID  string `json:"device_id" firestore:"device_id"`
	PlanID    string `json:"plan_id" firestore:"plan_id"`
	UpdatedAt int64  `json:"updatedAt" firestore:"updatedAt"`
	ExpiresAt int64  `json:"expiresAt" firestore:"expiresAt"`
	Status    Status `json:"status,omitempty" firestore:"status,omitempty"`
}

func (e Entitlement) Key() Key {
	return Key{Email: e.Email, DeviceID: e.DeviceID}
}

// Disabled reports whether an operator revoked the entitlement. An unset
// status counts as active.
func (e Entitlement) Disabled() bool {
	return e.Status == StatusDisabled
}

// Store is the durable key-value contract the service needs. Put always
// replaces the whole record at e.Key(). Get returns found=false with a nil
// error when no record exists and never creates one.
type Store interface {
	Get(ctx context.Context, key Key) (Entitlement, bool, error)
	Put(ctx context.Context, ent Entitlement) error
	Ping(ctx context.Context) error
	Close() error
}

type timeoutStore struct {
	Store
	timeout time.Duration
}

// WithTimeout bounds every call to s by d.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{Store: s, timeout: d}
}

func (t *timeoutStore) Get(ctx context.Context, key Key) (Entitlement, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Get(ctx, key)
}

func (t *timeoutStore) Put(ctx context.Context, ent Entitlement) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Put(ctx, ent)
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Ping(ctx)
}
