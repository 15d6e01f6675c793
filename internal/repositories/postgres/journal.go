// Package postgres mirrors committed ledger entries into a relational journal so
// finance tooling can query them with SQL and the reconciler can cross-check Firestore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const recordBatchSize = 100

// JournalEntry is the relational row for one ledger movement. The primary key is the
// ledger entry id, so replaying a batch is a no-op.
type JournalEntry struct {
	ID            string `gorm:"primaryKey;size:32"`
	ProfileID     string `gorm:"size:128;index;not null"`
	Kind          string `gorm:"size:32;not null"`
	BalanceDelta  int64  `gorm:"not null"`
	EarningsDelta int64  `gorm:"not null"`
	OrderID       string `gorm:"size:32;index"`
	WithdrawalID  string `gorm:"size:32;index"`
	CommissionID  string `gorm:"size:32"`
	ActorID       string `gorm:"size:128"`
	CreatedAt     time.Time
}

// TableName pins the journal table name.
func (JournalEntry) TableName() string { return "ledger_journal" }

// Journal records ledger entries through gorm.
type Journal struct {
	db *gorm.DB
}

// Open connects to Postgres using dsn and migrates the journal table.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, errors.New("postgres journal: dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("postgres journal: open: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&JournalEntry{}); err != nil {
		return nil, fmt.Errorf("postgres journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// NewJournal wraps an existing gorm handle.
func NewJournal(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("postgres journal: db is required")
	}
	return &Journal{db: db}, nil
}

// Record inserts entries, skipping ids that are already journaled.
func (j *Journal) Record(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]JournalEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, JournalEntry{
			ID:            e.ID,
			ProfileID:     e.ProfileID,
			Kind:          string(e.Kind),
			BalanceDelta:  e.BalanceDelta,
			EarningsDelta: e.EarningsDelta,
			OrderID:       e.OrderID,
			WithdrawalID:  e.WithdrawalID,
			CommissionID:  e.CommissionID,
			ActorID:       e.ActorID,
			CreatedAt:     e.CreatedAt.UTC(),
		})
	}
	err := j.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(&rows, recordBatchSize).Error
	if err != nil {
		return repositories.NewUnavailableError("postgres.journal.record", err)
	}
	return nil
}

type totalsRow struct {
	ProfileID     string
	Balance       int64
	TotalEarnings int64
	Entries       int
}

// TotalsByProfile sums the journal per profile.
func (j *Journal) TotalsByProfile(ctx context.Context) (map[string]domain.LedgerTotals, error) {
	var rows []totalsRow
	err := j.db.WithContext(ctx).
		Model(&JournalEntry{}).
		Select("profile_id, COALESCE(SUM(balance_delta), 0) AS balance, COALESCE(SUM(earnings_delta), 0) AS total_earnings, COUNT(*) AS entries").
		Group("profile_id").
		Scan(&rows).Error
	if err != nil {
		return nil, repositories.NewUnavailableError("postgres.journal.totals", err)
	}
	totals := make(map[string]domain.LedgerTotals, len(rows))
	for _, row := range rows {
		totals[row.ProfileID] = domain.LedgerTotals{
			Balance:       row.Balance,
			TotalEarnings: row.TotalEarnings,
			Entries:       row.Entries,
		}
	}
	return totals, nil
}

// Ping verifies the connection for readiness probes.
func (j *Journal) Ping(ctx context.Context) error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
