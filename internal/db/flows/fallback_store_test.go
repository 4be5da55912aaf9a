package flowsdb

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"

	"memberflow/internal/flow"
	"memberflow/internal/membership"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

// redactedRegistrant matches a registrant JSONB argument only when it holds
// neither card details nor a password.
type redactedRegistrant struct{}

func (redactedRegistrant) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return false
	}
	if _, has := m["card_data"]; has {
		return false
	}
	pw, has := m["password"]
	return !has || pw == ""
}

func TestFallbackStore_Store(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO pending_completions").
		WithArgs("pay_000001", "flow-1", "cus_000001", "completion", sqlmock.AnyArg(), 0, "activate membership: boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewFallbackStore(db)
	rec := flow.FallbackRecord{
		ChargeID:   "pay_000001",
		FlowID:     "flow-1",
		CustomerID: "cus_000001",
		Kind:       flow.FallbackCompletion,
		Request:    membership.RegistrationRequest{Email: "maria@example.com"},
		LastError:  "activate membership: boom",
	}
	if err := store.Store(context.Background(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
}

func TestFallbackStore_Store_NeverPersistsCredentials(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO pending_completions").
		WithArgs("pay_000002", "flow-2", "cus_000002", "completion", redactedRegistrant{}, 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewFallbackStore(db)
	rec := flow.FallbackRecord{
		ChargeID:   "pay_000002",
		FlowID:     "flow-2",
		CustomerID: "cus_000002",
		Kind:       flow.FallbackCompletion,
		Request: membership.RegistrationRequest{
			Email:    "joao@example.com",
			Password: "s3gr3d0",
			Card: &membership.CardData{
				HolderName:  "Joao Silva",
				Number:      "4532015112830366",
				ExpiryMonth: "12",
				ExpiryYear:  "2030",
				CCV:         "123",
			},
		},
	}
	if err := store.Store(context.Background(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
}

func TestFallbackStore_PendingRoundTrip(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	registrant := []byte(`{"email":"maria@example.com","tipo_membro":"pastor"}`)
	mock.ExpectQuery("SELECT charge_id, flow_id, customer_id, kind, registrant").
		WithArgs("pay_000001").
		WillReturnRows(sqlmock.NewRows([]string{"charge_id", "flow_id", "customer_id", "kind", "registrant", "attempts", "last_error"}).
			AddRow("pay_000001", "flow-1", "cus_000001", "subscription", registrant, 2, "poll timeout"))
	mock.ExpectClose()

	store := NewFallbackStore(db)
	rec, found, err := store.Pending(context.Background(), "pay_000001")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if !found {
		t.Fatalf("expected pending record")
	}
	if rec.Kind != flow.FallbackSubscription {
		t.Fatalf("unexpected kind: %s", rec.Kind)
	}
	if rec.Request.Email != "maria@example.com" {
		t.Fatalf("registrant not decoded: %+v", rec.Request)
	}
	if rec.Request.Tier != membership.TierPastor {
		t.Fatalf("unexpected tier: %s", rec.Request.Tier)
	}
}

func TestFallbackStore_PendingMiss(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT charge_id, flow_id, customer_id, kind, registrant").
		WithArgs("pay_missing").
		WillReturnRows(sqlmock.NewRows([]string{"charge_id", "flow_id", "customer_id", "kind", "registrant", "attempts", "last_error"}))
	mock.ExpectClose()

	store := NewFallbackStore(db)
	_, found, err := store.Pending(context.Background(), "pay_missing")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if found {
		t.Fatalf("expected no record")
	}
}

func TestFallbackStore_Resolve(t *testing.T) {
	db, mock, cleanup := newFlowMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE pending_completions").
		WithArgs("pay_000001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewFallbackStore(db)
	if err := store.Resolve(context.Background(), "pay_000001"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}
