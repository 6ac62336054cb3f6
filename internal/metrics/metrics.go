package metrics

import (
	"sync"

	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
)

var (
	// Seat lock counters
	SeatLocksAcquired *telemetry.Counter
	SeatLockConflicts *telemetry.Counter
	SeatLocksReleased *telemetry.Counter

	// Saga counters
	SagaTransitions *telemetry.Counter
	SagaIgnored     *telemetry.Counter

	// Payment ledger
	LedgerOutcomes *telemetry.Counter

	// Gateways
	BreakerStateChanges *telemetry.Counter
	GatewayFallbacks    *telemetry.Counter

	// Consumers and workers
	EventsProcessed    *telemetry.Counter
	EventsDeadLettered *telemetry.Counter
	BookingsReconciled *telemetry.Counter

	// Histograms
	LockDuration     *telemetry.Histogram
	FinalizeDuration *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init registers every instrument once. Instruments stay nil (no-op) until Init succeeds.
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		target **telemetry.Counter
		opts   telemetry.MetricOpts
	}{
		{&SeatLocksAcquired, telemetry.MetricOpts{Name: "seatlock_acquired_total", Description: "Multi-seat lock requests that succeeded", Unit: "1"}},
		{&SeatLockConflicts, telemetry.MetricOpts{Name: "seatlock_conflicts_total", Description: "Multi-seat lock requests rejected by a held seat", Unit: "1"}},
		{&SeatLocksReleased, telemetry.MetricOpts{Name: "seatlock_released_total", Description: "Seat locks deleted by release", Unit: "1"}},
		{&SagaTransitions, telemetry.MetricOpts{Name: "booking_saga_transitions_total", Description: "Applied booking status transitions", Unit: "1"}},
		{&SagaIgnored, telemetry.MetricOpts{Name: "booking_saga_ignored_total", Description: "Triggers ignored as duplicate or illegal", Unit: "1"}},
		{&LedgerOutcomes, telemetry.MetricOpts{Name: "payment_ledger_outcomes_total", Description: "Payment transaction outcomes", Unit: "1"}},
		{&BreakerStateChanges, telemetry.MetricOpts{Name: "gateway_breaker_state_changes_total", Description: "Circuit breaker state changes", Unit: "1"}},
		{&GatewayFallbacks, telemetry.MetricOpts{Name: "gateway_fallbacks_total", Description: "Gateway calls answered by a fallback value", Unit: "1"}},
		{&EventsProcessed, telemetry.MetricOpts{Name: "consumer_events_processed_total", Description: "Events handled by the saga worker", Unit: "1"}},
		{&EventsDeadLettered, telemetry.MetricOpts{Name: "consumer_events_dead_lettered_total", Description: "Events moved to a dead letter topic", Unit: "1"}},
		{&BookingsReconciled, telemetry.MetricOpts{Name: "reconciler_bookings_expired_total", Description: "Stale bookings expired by the reconciliation sweep", Unit: "1"}},
	}
	for _, c := range counters {
		counter, err := telemetry.NewCounter(c.opts)
		if err != nil {
			return err
		}
		*c.target = counter
	}

	var err error
	LockDuration, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "seatlock_lock_duration_ms",
		Description: "Latency of multi-seat lock requests",
		Unit:        "ms",
	})
	if err != nil {
		return err
	}

	FinalizeDuration, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "booking_finalize_duration_ms",
		Description: "Latency of booking finalization",
		Unit:        "ms",
	})
	return err
}
