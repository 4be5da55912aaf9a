package flowsdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"memberflow/internal/flow"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newFlowMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
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

func TestFlowStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS flow_attempts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS flow_steps").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewFlowStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestFlowStore_Begin_New(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO flow_attempts").
		WithArgs("flow-1", "idem-1", "maria@example.com", 8.0, "running").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT flow_id, email, amount, status").
		WithArgs("idem-1").
		WillReturnRows(sqlmock.NewRows([]string{"flow_id", "email", "amount", "status", "charge_id"}).
			AddRow("flow-1", "maria@example.com", 8.0, "running", ""))
	mock.ExpectClose()

	store := NewFlowStore(db)
	attempt, created, err := store.Begin(context.Background(), "idem-1", "flow-1", "maria@example.com", 8.0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !created {
		t.Fatalf("expected created attempt")
	}
	if attempt.FlowID != "flow-1" {
		t.Fatalf("unexpected flow id: %s", attempt.FlowID)
	}
	if attempt.Status != flow.OutcomeRunning {
		t.Fatalf("unexpected status: %s", attempt.Status)
	}
}

func TestFlowStore_Begin_ReusesExisting(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO flow_attempts").
		WithArgs("flow-2", "idem-1", "maria@example.com", 8.0, "running").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT flow_id, email, amount, status").
		WithArgs("idem-1").
		WillReturnRows(sqlmock.NewRows([]string{"flow_id", "email", "amount", "status", "charge_id"}).
			AddRow("flow-1", "maria@example.com", 8.0, "pending", "pay_000001"))
	mock.ExpectClose()

	store := NewFlowStore(db)
	attempt, created, err := store.Begin(context.Background(), "idem-1", "flow-2", "maria@example.com", 8.0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if created {
		t.Fatalf("expected existing attempt")
	}
	if attempt.FlowID != "flow-1" {
		t.Fatalf("expected original flow id, got %s", attempt.FlowID)
	}
	if attempt.ChargeID != "pay_000001" {
		t.Fatalf("expected live charge, got %q", attempt.ChargeID)
	}
}

func TestFlowStore_Begin_IdempotencyConflict(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO flow_attempts").
		WithArgs("flow-2", "idem-1", "other@example.com", 8.0, "running").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT flow_id, email, amount, status").
		WithArgs("idem-1").
		WillReturnRows(sqlmock.NewRows([]string{"flow_id", "email", "amount", "status", "charge_id"}).
			AddRow("flow-1", "maria@example.com", 8.0, "running", ""))
	mock.ExpectClose()

	store := NewFlowStore(db)
	_, _, err := store.Begin(context.Background(), "idem-1", "flow-2", "other@example.com", 8.0)
	if !errors.Is(err, flow.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestFlowStore_AttachChargeAndStatus(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE flow_attempts").
		WithArgs("flow-1", "pay_000001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE flow_attempts").
		WithArgs("flow-1", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewFlowStore(db)
	if err := store.AttachCharge(context.Background(), "flow-1", "pay_000001"); err != nil {
		t.Fatalf("AttachCharge: %v", err)
	}
	if err := store.SetStatus(context.Background(), "flow-1", flow.OutcomeCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
}

func TestFlowStore_AddStep(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO flow_steps").
		WithArgs("flow-1", "create_charge", "success", "charge created", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	store := NewFlowStore(db)
	step := flow.ProcessingStep{Name: flow.StepCreateCharge, Status: flow.StepSuccess, Message: "charge created"}
	if err := store.AddStep(context.Background(), "flow-1", step); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
}

func TestFlowStore_FindByCharge(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT flow_id, idempotency_key, email, amount, status").
		WithArgs("pay_000001").
		WillReturnRows(sqlmock.NewRows([]string{"flow_id", "idempotency_key", "email", "amount", "status", "charge_id"}).
			AddRow("flow-1", "key-1", "maria@example.com", 25.00, "pending", "pay_000001"))
	mock.ExpectClose()

	store := NewFlowStore(db)
	attempt, found, err := store.FindByCharge(context.Background(), "pay_000001")
	if err != nil {
		t.Fatalf("FindByCharge: %v", err)
	}
	if !found {
		t.Fatalf("expected an attempt for the charge")
	}
	if attempt.FlowID != "flow-1" || attempt.Status != flow.OutcomePending {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
}

func TestFlowStore_FindByCharge_Miss(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT flow_id, idempotency_key, email, amount, status").
		WithArgs("pay_missing").
		WillReturnRows(sqlmock.NewRows([]string{"flow_id", "idempotency_key", "email", "amount", "status", "charge_id"}))
	mock.ExpectClose()

	store := NewFlowStore(db)
	_, found, err := store.FindByCharge(context.Background(), "pay_missing")
	if err != nil {
		t.Fatalf("FindByCharge: %v", err)
	}
	if found {
		t.Fatalf("expected no attempt")
	}
}
