package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/payables/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("channel", "FISCAL"),
		attribute.String("supplier_id", "456"),
		attribute.String("event_type", "create"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "channel" && attrs[1].Key != "channel" {
		t.Fatalf("expected channel to be retained")
	}
	if attrs[0].Key != "event_type" && attrs[1].Key != "event_type" {
		t.Fatalf("expected event_type to be retained")
	}
}

func TestClassifyLedgerError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: LedgerReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: LedgerReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: LedgerReasonSerializationFailure},
		{name: "deadlock", err: fmt.Errorf("apply: %w", &pgconn.PgError{Code: "40P01"}), want: LedgerReasonDeadlock},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: LedgerReasonUniqueViolation},
		{name: "version_conflict", err: apperr.Conflict("document_version_conflict", "stale"), want: LedgerReasonVersionConflict},
		{name: "lock_not_obtained", err: apperr.Conflict("lock_not_obtained", "busy"), want: LedgerReasonLockNotObtained},
		{name: "validation", err: apperr.Validation("amount_exceeds_balance", "too much"), want: LedgerReasonValidation},
		{name: "forbidden", err: apperr.Forbidden("channel_not_granted", "no"), want: LedgerReasonForbidden},
		{name: "unknown", err: errors.New("boom"), want: LedgerReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyLedgerError(tc.err))
		})
	}
}

func TestObserveOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewLedgerMetricsForTest(registry)

	m.ObserveOperation(OperationApplyCredit, "FISCAL", time.Now(), nil)
	m.ObserveOperation(OperationApplyCredit, "FISCAL", time.Now(), nil)
	m.ObserveOperation(OperationApplyCredit, "FISCAL", time.Now(), apperr.Conflict("document_version_conflict", "stale"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.operations.WithLabelValues(OperationApplyCredit, "FISCAL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues(OperationApplyCredit, LedgerReasonVersionConflict)))
}

func TestAddMovedAmountUsesAbsoluteValue(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewLedgerMetricsForTest(registry)

	m.AddMovedAmount("payment", "FISCAL", 300)
	m.AddMovedAmount("payment", "FISCAL", -100)

	assert.Equal(t, float64(400), testutil.ToFloat64(m.movedAmount.WithLabelValues("payment", "FISCAL")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordDocumentEvent(context.Background(), "FISCAL", "INVOICE_A", "create")

	var lm *LedgerMetrics
	lm.ObserveOperation(OperationCreateDocument, "FISCAL", time.Now(), nil)

	built, err := New(Config{ServiceName: "payables"}, noop.NewMeterProvider())
	assert.NoError(t, err)
	built.RecordPaymentOrderEvent(context.Background(), "FISCAL", "confirm")
}
