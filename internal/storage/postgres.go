package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	logx "flightwatch/pkg/logx"
)

const (
	pgInsertAudit    = `INSERT INTO flightwatch_audit(at, actor, action, flight, session_id, detail, err) VALUES($1,$2,$3,$4,$5,$6,$7)`
	pgInsertDelivery = `INSERT INTO flightwatch_deliveries(at, sink, ok, attempts, err, text) VALUES($1,$2,$3,$4,$5,$6)`
	pgRecentAudit    = `SELECT at, actor, action, flight, session_id, detail, err FROM flightwatch_audit ORDER BY at DESC, id DESC LIMIT $1`
	pgPruneAudit     = `DELETE FROM flightwatch_audit WHERE at < $1`
	pgPruneDelivery  = `DELETE FROM flightwatch_deliveries WHERE at < $1`

	// pgUndefinedTable is returned when the schema was dropped under us.
	pgUndefinedTable = "42P01"
)

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db, "migrations/postgres.sql"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newPostgresStore(db, log), nil
}

func newPostgresStore(db *sql.DB, log logx.Logger) *postgresStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &postgresStore{db: db, log: log}
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// exec runs an insert, recreating the schema once if the table is missing.
func (s *postgresStore) exec(ctx context.Context, q string, args ...any) error {
	_, err := s.db.ExecContext(ctx, q, args...)
	if err == nil || !isUndefinedTable(err) {
		return err
	}
	s.log.Warn("postgres table missing; re-running migrations", logx.Err(err))
	if merr := migrate(ctx, s.db, "migrations/postgres.sql"); merr != nil {
		return errors.Join(err, merr)
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUndefinedTable
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.exec(ctx, pgInsertAudit,
		e.At.UTC(), e.Actor, e.Action, nullStr(e.Flight), nullStr(e.SessionID), nullStr(e.Detail), nullStr(e.Error))
}

func (s *postgresStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.exec(ctx, pgInsertDelivery,
		e.At.UTC(), e.Sink, e.OK, e.Attempts, nullStr(e.Error), clipText(e.Text))
}

func (s *postgresStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, pgRecentAudit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                                AuditEntry
			flight, session, detail, errText sql.NullString
		)
		if err := rows.Scan(&e.At, &e.Actor, &e.Action, &flight, &session, &detail, &errText); err != nil {
			return nil, err
		}
		e.Flight, e.SessionID, e.Detail, e.Error = flight.String, session.String, detail.String, errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *postgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var total int64
	for _, q := range []string{pgPruneAudit, pgPruneDelivery} {
		res, err := s.db.ExecContext(ctx, q, before.UTC())
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}
