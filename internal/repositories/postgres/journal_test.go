package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	domain "github.com/rede-afiliados/api/internal/domain"
)

func newDryRunJournal(t *testing.T) (*Journal, *[]string) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=test dbname=test sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("open dry run db: %v", err)
	}
	var statements []string
	if err := db.Callback().Create().After("gorm:create").Register("test:capture", func(tx *gorm.DB) {
		statements = append(statements, tx.Statement.SQL.String())
	}); err != nil {
		t.Fatalf("register callback: %v", err)
	}
	journal, err := NewJournal(db)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return journal, &statements
}

func TestJournalRecordSkipsDuplicates(t *testing.T) {
	journal, statements := newDryRunJournal(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := journal.Record(context.Background(), []domain.LedgerEntry{
		{ID: "ent-1", ProfileID: "aff-1", Kind: domain.LedgerEntryCommissionGrant, BalanceDelta: 15_00, EarningsDelta: 15_00, OrderID: "ord-1", CreatedAt: now},
		{ID: "ent-2", ProfileID: "aff-1", Kind: domain.LedgerEntryPayoutHold, BalanceDelta: -100_00, WithdrawalID: "wd-1", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(*statements) != 1 {
		t.Fatalf("expected one batched insert, got %d", len(*statements))
	}
	sql := (*statements)[0]
	for _, want := range []string{`INSERT INTO "ledger_journal"`, `ON CONFLICT ("id") DO NOTHING`} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected %q in %s", want, sql)
		}
	}
}

func TestJournalRecordEmptyIsNoop(t *testing.T) {
	journal, statements := newDryRunJournal(t)
	if err := journal.Record(context.Background(), nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(*statements) != 0 {
		t.Fatalf("expected no statements, got %v", *statements)
	}
}

func TestNewJournalRequiresDB(t *testing.T) {
	if _, err := NewJournal(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
