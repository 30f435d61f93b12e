package metrics

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	FailureReasonDeadlineExceeded     = "deadline_exceeded"
	FailureReasonCanceled             = "canceled"
	FailureReasonLockTimeout          = "lock_timeout"
	FailureReasonUniqueViolation      = "unique_violation"
	FailureReasonSerializationFailure = "serialization_failure"
	FailureReasonUnknown              = "unknown"
)

const (
	LockOutcomeAcquired = "acquired"
	LockOutcomeTimeout  = "timeout"
	LockOutcomeError    = "error"
)

// TenancyMetrics tracks contention and failures on the provisioning path.
type TenancyMetrics struct {
	lockWait            *prometheus.HistogramVec
	provisioningFailure *prometheus.CounterVec
}

func NewTenancyMetrics(cfg Config) (*TenancyMetrics, error) {
	return newTenancyMetrics(prometheus.DefaultRegisterer, cfg)
}

func newTenancyMetrics(registerer prometheus.Registerer, cfg Config) (*TenancyMetrics, error) {
	constLabels := serviceLabels(cfg)
	m := &TenancyMetrics{
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fieldops_lock_wait_seconds",
			Help:        "Time spent waiting for a keyed lock.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"lock", "outcome"}),
		provisioningFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldops_provisioning_failures_total",
			Help:        "EnsureOrganization failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
	}
	if err := registerCollector(registerer, m.lockWait, func(existing prometheus.Collector) {
		m.lockWait = existing.(*prometheus.HistogramVec)
	}); err != nil {
		return nil, err
	}
	if err := registerCollector(registerer, m.provisioningFailure, func(existing prometheus.Collector) {
		m.provisioningFailure = existing.(*prometheus.CounterVec)
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TenancyMetrics) ObserveLockWait(lock, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(lock, outcome).Observe(seconds)
}

func (m *TenancyMetrics) IncProvisioningFailure(err error) {
	if m == nil || err == nil {
		return
	}
	m.provisioningFailure.WithLabelValues(ClassifyFailureReason(err)).Inc()
}

// ClassifyFailureReason maps storage and context errors to a fixed label set.
func ClassifyFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return FailureReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return FailureReasonCanceled
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return FailureReasonUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return FailureReasonLockTimeout
		case "40001", "40P01":
			return FailureReasonSerializationFailure
		case "23505":
			return FailureReasonUniqueViolation
		}
	}
	return FailureReasonUnknown
}
