package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"accessgate/internal/store"
)

const eventChargeSuccess = "charge.success"

type WebhookOutcome string

const (
	OutcomeGranted     WebhookOutcome = "granted"
	OutcomeIgnored     WebhookOutcome = "ignored"
	OutcomeGrantFailed WebhookOutcome = "grant_failed"
)

// WebhookResult describes an acknowledged delivery. Err is set only for
// OutcomeGrantFailed and is for logging; the delivery is still acknowledged.
type WebhookResult struct {
	Event       string
	Reference   string
	Outcome     WebhookOutcome
	Entitlement store.Entitlement
	Err         error
}

type chargeData struct {
	Reference string          `json:"reference"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Sign returns the hex HMAC-SHA512 of payload, as sent by Paystack in the
// x-paystack-signature header.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ProcessWebhook authenticates payload against signature and, for
// charge.success, overwrites the entitlement for the identity in the event
// metadata. A non-nil error means the delivery must be rejected. Store write
// failures are not errors: they are logged, counted and queued.
func (s *PaystackService) ProcessWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if err := s.verifySignature(payload, signature); err != nil {
		s.Logger.Warn().Msg("webhook signature mismatch")
		s.Observer.RecordWebhook("", "signature_invalid")
		return WebhookResult{}, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope == nil {
		s.Logger.Warn().Msg("invalid webhook json")
		s.Observer.RecordWebhook("", "malformed")
		return WebhookResult{}, fmt.Errorf("%w: not a json object", ErrMalformedPayload)
	}
	var event string
	if raw, ok := envelope["event"]; ok {
		if err := json.Unmarshal(raw, &event); err != nil {
			s.Observer.RecordWebhook("", "malformed")
			return WebhookResult{}, fmt.Errorf("%w: event is not a string", ErrMalformedPayload)
		}
	}

	if event != eventChargeSuccess {
		s.Logger.Debug().Str("event", event).Msg("webhook ignored")
		s.Observer.RecordWebhook(event, string(OutcomeIgnored))
		return WebhookResult{Event: event, Outcome: OutcomeIgnored}, nil
	}

	var data chargeData
	if raw, ok := envelope["data"]; ok {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = chargeData{}
		}
	}
	meta := decodeMetadata(data.Metadata)
	log := s.Logger.With().Str("event", event).Str("reference", data.Reference).Logger()

	if meta.Email == "" || meta.DeviceID == "" || meta.PlanID == "" {
		log.Error().Str("email", meta.Email).Str("device_id", meta.DeviceID).Str("plan_id", meta.PlanID).Msg("missing or incomplete metadata")
		s.Observer.RecordWebhook(event, "incomplete_metadata")
		return WebhookResult{}, ErrIncompleteMetadata
	}

	plan, err := s.Catalog.Lookup(meta.PlanID)
	if err != nil {
		log.Error().Str("plan_id", meta.PlanID).Msg("invalid plan in webhook")
		s.Observer.RecordWebhook(event, "invalid_plan")
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	now := s.now().UnixMilli()
	ent := store.Entitlement{
		Email:     meta.Email,
		DeviceID:  meta.DeviceID,
		PlanID:    plan.ID,
		UpdatedAt: now,
		ExpiresAt: now + plan.Duration.Milliseconds(),
	}
	result := WebhookResult{Event: event, Reference: data.Reference, Entitlement: ent}

	if err := s.Store.Put(ctx, ent); err != nil {
		log.Error().Err(err).
			Str("email", ent.Email).
			Str("device_id", ent.DeviceID).
			Str("plan_id", ent.PlanID).
			Msg("entitlement store write failed; acknowledging webhook")
		s.Observer.RecordStoreWriteFailure(ent.Email, ent.DeviceID, ent.PlanID, err)
		s.Observer.RecordWebhook(event, string(OutcomeGrantFailed))
		if s.Queue != nil {
			if qerr := s.Queue.PushGrant(ctx, ent); qerr != nil {
				log.Error().Err(qerr).Msg("grant retry enqueue failed")
			}
		}
		result.Outcome = OutcomeGrantFailed
		result.Err = fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
		return result, nil
	}

	log.Info().
		Str("email", ent.Email).
		Str("device_id", ent.DeviceID).
		Str("plan_id", ent.PlanID).
		Int64("expires_at", ent.ExpiresAt).
		Msg("access granted")
	s.Observer.RecordGrant(ent.PlanID)
	s.Observer.RecordWebhook(event, string(OutcomeGranted))
	result.Outcome = OutcomeGranted
	return result, nil
}

func (s *PaystackService) verifySignature(payload []byte, signature string) error {
	secret := s.Config.WebhookSecret()
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrSignatureInvalid)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

// decodeMetadata accepts metadata as an object or as a JSON-encoded string
// holding an object. Anything else yields empty metadata.
func decodeMetadata(raw json.RawMessage) checkoutMetadata {
	var meta checkoutMetadata
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return meta
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return meta
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return checkoutMetadata{}
	}
	return meta
}
