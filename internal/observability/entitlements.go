package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Access check results.
const (
	AccessGranted  = "granted"
	AccessExpired  = "expired"
	AccessDisabled = "disabled"
	AccessNotFound = "not_found"
	AccessError    = "error"
)

// Observer records entitlement activity as Prometheus metrics and log lines.
// All methods are safe on a nil receiver.
type Observer struct {
	logger zerolog.Logger

	webhookEvents      *prometheus.CounterVec
	grants             *prometheus.CounterVec
	storeWriteFailures prometheus.Counter
	accessChecks       *prometheus.CounterVec
	checkouts          *prometheus.CounterVec

	consecutiveFailures atomic.Int64
}

func NewObserver(reg prometheus.Registerer, logger zerolog.Logger) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		logger: logger.With().Str("component", "observer").Logger(),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accessgate",
			Name:      "webhook_events_total",
			Help:      "Paystack webhook deliveries by event type and outcome.",
		}, []string{"event", "outcome"}),
		grants: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accessgate",
			Name:      "grants_total",
			Help:      "Entitlement grants persisted, by plan.",
		}, []string{"plan_id"}),
		storeWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "accessgate",
			Name:      "grant_store_failures_total",
			Help:      "Grants acknowledged to the processor but not persisted.",
		}),
		accessChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accessgate",
			Name:      "access_checks_total",
			Help:      "Access verifications by result.",
		}, []string{"result"}),
		checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accessgate",
			Name:      "checkouts_total",
			Help:      "Checkout initiations by outcome.",
		}, []string{"outcome"}),
	}
}

func (o *Observer) RecordWebhook(event, outcome string) {
	if o == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	o.webhookEvents.WithLabelValues(event, outcome).Inc()
}

func (o *Observer) RecordGrant(planID string) {
	if o == nil {
		return
	}
	o.consecutiveFailures.Store(0)
	o.grants.WithLabelValues(planID).Inc()
}

// RecordStoreWriteFailure marks a grant that was acknowledged but lost. Every
// tenth consecutive failure also logs an alert line.
func (o *Observer) RecordStoreWriteFailure(email, deviceID, planID string, err error) {
	if o == nil {
		return
	}
	o.storeWriteFailures.Inc()
	count := o.consecutiveFailures.Add(1)
	if count%10 == 0 {
		o.logger.Error().Err(err).
			Int64("consecutive_failures", count).
			Str("email", email).
			Str("device_id", deviceID).
			Str("plan_id", planID).
			Msg("entitlement store rejecting grants; payments are being acknowledged without access")
	}
}

func (o *Observer) RecordAccess(result string) {
	if o == nil {
		return
	}
	o.accessChecks.WithLabelValues(result).Inc()
}

func (o *Observer) RecordCheckout(outcome string) {
	if o == nil {
		return
	}
	o.checkouts.WithLabelValues(outcome).Inc()
}
