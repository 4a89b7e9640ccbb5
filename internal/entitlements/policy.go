package entitlements

import (
	"time"

	"accessgate/internal/store"
)

// Access is the answer to "is this identity entitled right now?". PlanID and
// ExpiresAt are zero when no record exists, so callers can tell "never paid"
// from "expired" from "disabled".
type Access struct {
	Access    bool   `json:"access"`
	PlanID    string `json:"plan_id,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Disabled  bool   `json:"disabled"`
	Found     bool   `json:"-"`
}

// Evaluate reports access for ent at now. Access holds strictly before
// ExpiresAt and only while the record is not disabled.
func Evaluate(now time.Time, ent store.Entitlement) Access {
	disabled := ent.Disabled()
	return Access{
		Access:    now.UnixMilli() < ent.ExpiresAt && !disabled,
		PlanID:    ent.PlanID,
		ExpiresAt: ent.ExpiresAt,
		Disabled:  disabled,
		Found:     true,
	}
}
