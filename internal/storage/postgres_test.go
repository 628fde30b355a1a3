package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*postgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to initialize db mock: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newPostgresStore(db, nopLogger()), mock
}

func TestPostgresAppendAudit(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(pgInsertAudit)).
		WithArgs(sqlmock.AnyArg(), "http:127.0.0.1", "tracking.start", "NZ123", "01J0", nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.AppendAudit(context.Background(), AuditEntry{
		Actor: "http:127.0.0.1", Action: "tracking.start", Flight: "NZ123", SessionID: "01J0",
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresAppendRecreatesMissingTable(t *testing.T) {
	st, mock := newMockStore(t)

	missing := &pq.Error{Code: pgUndefinedTable, Message: `relation "flightwatch_deliveries" does not exist`}
	mock.ExpectExec(regexp.QuoteMeta(pgInsertDelivery)).WillReturnError(missing)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS flightwatch_audit").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(pgInsertDelivery)).
		WithArgs(sqlmock.AnyArg(), "discord", true, 1, nil, "hello").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.AppendDelivery(context.Background(), DeliveryEntry{Sink: "discord", OK: true, Attempts: 1, Text: "hello"})
	if err != nil {
		t.Fatalf("append delivery: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresAppendOtherErrorNotRetried(t *testing.T) {
	st, mock := newMockStore(t)

	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta(pgInsertAudit)).WillReturnError(boom)

	err := st.AppendAudit(context.Background(), AuditEntry{Actor: "tracker", Action: "tracking.landed"})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresRecentAudit(t *testing.T) {
	st, mock := newMockStore(t)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"at", "actor", "action", "flight", "session_id", "detail", "err"}).
		AddRow(at, "tracker", "tracking.aborted", "NZ1", "01J1", nil, "timeout").
		AddRow(at.Add(-time.Hour), "telegram:42", "tracking.start", "NZ1", "01J1", nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta(pgRecentAudit)).WithArgs(5).WillReturnRows(rows)

	got, err := st.RecentAudit(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent audit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Action != "tracking.aborted" || got[0].Error != "timeout" || !got[0].At.Equal(at) {
		t.Fatalf("unexpected first entry %+v", got[0])
	}
	if got[1].Actor != "telegram:42" || got[1].Detail != "" {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
}

func TestPostgresPrune(t *testing.T) {
	st, mock := newMockStore(t)

	before := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta(pgPruneAudit)).WithArgs(before.UTC()).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(pgPruneDelivery)).WithArgs(before.UTC()).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := st.Prune(context.Background(), before)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 7 {
		t.Fatalf("removed %d, want 7", n)
	}
}
