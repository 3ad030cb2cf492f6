// Package sequence hands out gap-free, monotonic numbers per key inside the
// caller's transaction.
package sequence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/payables/internal/clock"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("sequence",
	fx.Provide(New),
)

var ErrInvalidKey = errors.New("invalid_sequence_key")

// OrderSequence stores the last value handed out for one key.
type OrderSequence struct {
	Name      string    `gorm:"primaryKey;type:varchar(64)"`
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (OrderSequence) TableName() string { return "order_sequences" }

type Generator interface {
	// Next increments key and returns the new value. The increment commits or
	// rolls back with tx, so a failed caller never burns a number.
	Next(ctx context.Context, tx *gorm.DB, key string) (int64, error)
}

type generator struct {
	clock clock.Clock
}

func New(c clock.Clock) Generator {
	return &generator{clock: c}
}

func (g *generator) Next(ctx context.Context, tx *gorm.DB, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, ErrInvalidKey
	}
	now := g.clock.Now().UTC()

	insert := `INSERT INTO order_sequences (name, last_value, updated_at) VALUES (?, 0, ?) ON CONFLICT (name) DO NOTHING`
	if tx.Dialector.Name() == "mysql" {
		insert = `INSERT IGNORE INTO order_sequences (name, last_value, updated_at) VALUES (?, 0, ?)`
	}
	if err := tx.WithContext(ctx).Exec(insert, key, now).Error; err != nil {
		return 0, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE order_sequences SET last_value = last_value + 1, updated_at = ? WHERE name = ?`,
		now,
		key,
	).Error; err != nil {
		return 0, err
	}

	var value int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT last_value FROM order_sequences WHERE name = ?`,
		key,
	).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value, nil
}
