package webhookdb

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newLedgerMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func TestEventLedger_Record_FirstDelivery(t *testing.T) {
	db, mock, cleanup := newLedgerMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt_1", "PAYMENT_CONFIRMED", "pay_000001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	ledger := NewEventLedger(db)
	first, err := ledger.Record(context.Background(), "evt_1", "PAYMENT_CONFIRMED", "pay_000001")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !first {
		t.Fatalf("expected first delivery")
	}
}

func TestEventLedger_Record_ProcessedRedelivery(t *testing.T) {
	db, mock, cleanup := newLedgerMockDB(t)
	t.Cleanup(cleanup)

	// The upsert's WHERE processed = FALSE touches no row once the event's
	// side effects committed.
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt_1", "PAYMENT_CONFIRMED", "pay_000001").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	ledger := NewEventLedger(db)
	claimed, err := ledger.Record(context.Background(), "evt_1", "PAYMENT_CONFIRMED", "pay_000001")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if claimed {
		t.Fatalf("expected redelivery of a processed event to be refused")
	}
}

func TestEventLedger_Record_UnprocessedRowIsReclaimable(t *testing.T) {
	db, mock, cleanup := newLedgerMockDB(t)
	t.Cleanup(cleanup)

	// An existing unprocessed row hits the DO UPDATE branch, so the
	// redelivery claims the event again.
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt_1", "PAYMENT_CONFIRMED", "pay_000001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	ledger := NewEventLedger(db)
	claimed, err := ledger.Record(context.Background(), "evt_1", "PAYMENT_CONFIRMED", "pay_000001")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !claimed {
		t.Fatalf("expected an unprocessed event to stay claimable")
	}
}

func TestEventLedger_MarkProcessed(t *testing.T) {
	db, mock, cleanup := newLedgerMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE webhook_events").
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	ledger := NewEventLedger(db)
	if err := ledger.MarkProcessed(context.Background(), "evt_1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
}
