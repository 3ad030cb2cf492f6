package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	creditdomain "github.com/smallbiznis/payables/internal/creditapplication/domain"
	orderdomain "github.com/smallbiznis/payables/internal/paymentorder/domain"
	"github.com/smallbiznis/payables/internal/sequence"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the ledger owns, in dependency order.
func Models() []any {
	return []any{
		&docdomain.SupplierDocument{},
		&creditdomain.CreditApplication{},
		&orderdomain.PaymentOrder{},
		&orderdomain.PaymentOrderDocument{},
		&orderdomain.PaymentOrderCreditNote{},
		&orderdomain.PaymentOrderPayment{},
		&sequence.OrderSequence{},
		&auditdomain.AuditLog{},
	}
}

// RunMigrations brings the schema up to date. Postgres runs the embedded SQL
// migrations; other dialects are created from the models.
func RunMigrations(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return conn.AutoMigrate(Models()...)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
