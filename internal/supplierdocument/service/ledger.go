package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/observability/metrics"
	"github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LedgerParams struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Repo          domain.Repository
	Metrics       *metrics.Metrics       `optional:"true"`
	LedgerMetrics *metrics.LedgerMetrics `optional:"true"`
}

type ledger struct {
	log           *zap.Logger
	clock         clock.Clock
	repo          domain.Repository
	metrics       *metrics.Metrics
	ledgerMetrics *metrics.LedgerMetrics
}

func NewLedger(p LedgerParams) domain.Ledger {
	return &ledger{
		log:           p.Log.Named("supplierdocument.ledger"),
		clock:         p.Clock,
		repo:          p.Repo,
		metrics:       p.Metrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

func (l *ledger) Lock(ctx context.Context, tx *gorm.DB, scope domain.Scope, ids ...snowflake.ID) (map[snowflake.ID]*domain.SupplierDocument, error) {
	unique := make([]snowflake.ID, 0, len(ids))
	seen := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	if len(unique) == 0 {
		return map[snowflake.ID]*domain.SupplierDocument{}, nil
	}

	started := time.Now()
	rows, err := l.repo.FindByIDs(ctx, tx, scope.Channel, unique, true)
	l.ledgerMetrics.ObserveDBLockWait(metrics.LockResourceDocuments, time.Since(started))
	if err != nil {
		return nil, err
	}

	docs := make(map[snowflake.ID]*domain.SupplierDocument, len(rows))
	for _, row := range rows {
		if !scope.Contains(row) {
			continue
		}
		docs[row.ID] = row
	}
	for _, id := range unique {
		if _, ok := docs[id]; !ok {
			return nil, domain.ErrNotFound
		}
	}
	return docs, nil
}

func (l *ledger) Apply(ctx context.Context, tx *gorm.DB, docs map[snowflake.ID]*domain.SupplierDocument, movements []domain.Movement) error {
	versions := make(map[snowflake.ID]int64, len(docs))
	for id, doc := range docs {
		versions[id] = doc.Version
	}

	touched := make([]snowflake.ID, 0, len(movements))
	for _, m := range movements {
		doc, ok := docs[m.DocumentID]
		if !ok {
			return domain.ErrNotFound
		}
		if err := doc.ApplyMovement(m); err != nil {
			return err
		}
		if _, ok := versions[m.DocumentID]; ok {
			touched = append(touched, m.DocumentID)
		}
	}

	now := l.clock.Now().UTC()
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })
	var last snowflake.ID
	for i, id := range touched {
		if i > 0 && id == last {
			continue
		}
		last = id

		doc := docs[id]
		if err := doc.CheckInvariant(); err != nil {
			l.log.Error("balance invariant violated", zap.String("document_id", id.String()), zap.Error(err))
			return err
		}
		doc.UpdatedAt = now
		if err := l.repo.UpdateBalances(ctx, tx, doc, versions[id]); err != nil {
			if errors.Is(err, domain.ErrStaleVersion) {
				l.metrics.RecordVersionConflict(ctx, string(doc.Channel), "supplier_document")
			}
			return err
		}
	}

	for _, m := range movements {
		doc := docs[m.DocumentID]
		amount, _ := m.Amount.Abs().Float64()
		l.ledgerMetrics.AddMovedAmount(string(m.Kind), string(doc.Channel), amount)
	}
	return nil
}
