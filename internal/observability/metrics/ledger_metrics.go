package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/payables/pkg/apperr"
	"gorm.io/gorm"
)

const (
	LedgerReasonDeadlineExceeded     = "deadline_exceeded"
	LedgerReasonDBLockTimeout        = "db_lock_timeout"
	LedgerReasonSerializationFailure = "serialization_failure"
	LedgerReasonDeadlock             = "deadlock"
	LedgerReasonUniqueViolation      = "unique_violation"
	LedgerReasonVersionConflict      = "version_conflict"
	LedgerReasonLockNotObtained      = "lock_not_obtained"
	LedgerReasonValidation           = "validation"
	LedgerReasonState                = "state"
	LedgerReasonNotFound             = "not_found"
	LedgerReasonForbidden            = "forbidden"
	LedgerReasonUnknown              = "unknown"
)

const (
	OperationCreateDocument     = "create_document"
	OperationUpdateDocument     = "update_document"
	OperationCancelDocument     = "cancel_document"
	OperationApplyCredit        = "apply_credit"
	OperationCreatePaymentOrder = "create_payment_order"
	OperationConfirmOrder       = "confirm_payment_order"
	OperationCancelOrder        = "cancel_payment_order"
)

const (
	LockResourceDocuments     = "supplier_documents"
	LockResourceOrder         = "payment_order"
	LockResourceOrderSequence = "order_sequence"
)

// LedgerMetrics captures contention and failure signals of balance mutations.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	operationTime  *prometheus.HistogramVec
	failures       *prometheus.CounterVec
	dbLockWait     *prometheus.HistogramVec
	movedAmount    *prometheus.CounterVec
	lockWaitByName map[string]prometheus.Observer
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics registry.
func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

// LedgerWithConfig returns the process-wide ledger metrics registry using config labels.
func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// NewLedgerMetricsForTest builds an unshared registry-backed instance.
func NewLedgerMetricsForTest(registerer prometheus.Registerer) *LedgerMetrics {
	return newLedgerMetrics(registerer, Config{ServiceName: "payables", Environment: "test"})
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "payables"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payables_ledger_operations_total",
		Help:        "Ledger operations committed, by operation and channel.",
		ConstLabels: constLabels,
	}, []string{"operation", "channel"})
	operationTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payables_ledger_operation_duration_seconds",
		Help:        "Ledger operation latency including the database transaction.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"operation"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payables_ledger_failures_total",
		Help:        "Rejected or failed ledger operations by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payables_db_lock_wait_seconds",
		Help:        "Time spent acquiring row locks for balance mutations.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})
	movedAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payables_ledger_moved_amount_total",
		Help:        "Sum of amounts moved against document balances, by movement kind.",
		ConstLabels: constLabels,
	}, []string{"kind", "channel"})

	registerer.MustRegister(
		operations,
		operationTime,
		failures,
		dbLockWait,
		movedAmount,
	)

	lockWaitByName := map[string]prometheus.Observer{
		LockResourceDocuments:     dbLockWait.WithLabelValues(LockResourceDocuments),
		LockResourceOrder:         dbLockWait.WithLabelValues(LockResourceOrder),
		LockResourceOrderSequence: dbLockWait.WithLabelValues(LockResourceOrderSequence),
	}

	return &LedgerMetrics{
		operations:     operations,
		operationTime:  operationTime,
		failures:       failures,
		dbLockWait:     dbLockWait,
		movedAmount:    movedAmount,
		lockWaitByName: lockWaitByName,
	}
}

// ObserveOperation records the outcome of one ledger operation.
func (m *LedgerMetrics) ObserveOperation(operation, channel string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operationTime.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.failures.WithLabelValues(operation, ClassifyLedgerError(err)).Inc()
		return
	}
	m.operations.WithLabelValues(operation, channel).Inc()
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *LedgerMetrics) ObserveDBLockWait(resource string, wait time.Duration) {
	if m == nil {
		return
	}
	observer, ok := m.lockWaitByName[resource]
	if !ok {
		observer = m.dbLockWait.WithLabelValues(resource)
	}
	observer.Observe(wait.Seconds())
}

// AddMovedAmount accumulates the absolute amount moved by kind.
func (m *LedgerMetrics) AddMovedAmount(kind, channel string, amount float64) {
	if m == nil || amount == 0 {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.movedAmount.WithLabelValues(kind, channel).Add(amount)
}

// ClassifyLedgerError maps an error to a metric reason label.
func ClassifyLedgerError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return LedgerReasonDeadlineExceeded
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return LedgerReasonDBLockTimeout
		case "40001":
			return LedgerReasonSerializationFailure
		case "40P01":
			return LedgerReasonDeadlock
		case "23505":
			return LedgerReasonUniqueViolation
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return LedgerReasonUniqueViolation
	}

	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		if apperr.CodeOf(err) == "lock_not_obtained" {
			return LedgerReasonLockNotObtained
		}
		return LedgerReasonVersionConflict
	case apperr.KindValidation:
		return LedgerReasonValidation
	case apperr.KindState:
		return LedgerReasonState
	case apperr.KindNotFound:
		return LedgerReasonNotFound
	case apperr.KindForbidden:
		return LedgerReasonForbidden
	}
	return LedgerReasonUnknown
}
