package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rentledger/rentledger/internal/eventlog"
	"github.com/rentledger/rentledger/internal/lease/model"
	"go.uber.org/zap"
)

// advisoryLockKey serialises Update across every ledgerd instance sharing
// the database. The value is arbitrary but must be the same everywhere.
const advisoryLockKey = int64(2_026_101_401)

const agreementColumns = `id, landlord, tenant, monthly_rent, security_deposit,
	start_time, end_time, active, last_payment_time, deposit_returned`

const eventColumns = `seq, time, type, agreement_id, payload, prev_hash, hash`

// PostgresStore persists agreements and the event chain in PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Update implements Store.
// It acquires a transaction-scoped advisory lock so that mutations from all
// instances are applied one at a time, then runs fn and commits.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uint64) (*model.Agreement, error) {
	return getAgreement(ctx, s.pool, id)
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM agreements").Scan(&n); err != nil {
		return 0, fmt.Errorf("count agreements: %w", err)
	}
	return uint64(n), nil
}

// ByLandlord implements Store.
func (s *PostgresStore) ByLandlord(ctx context.Context, addr model.Address) ([]uint64, error) {
	return s.idsWhere(ctx, "SELECT id FROM agreements WHERE landlord = $1 ORDER BY id", addr)
}

// ByTenant implements Store.
func (s *PostgresStore) ByTenant(ctx context.Context, addr model.Address) ([]uint64, error) {
	return s.idsWhere(ctx, "SELECT id FROM agreements WHERE tenant = $1 ORDER BY id", addr)
}

func (s *PostgresStore) idsWhere(ctx context.Context, query string, addr model.Address) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, query, string(addr))
	if err != nil {
		return nil, fmt.Errorf("query party index: %w", err)
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan party index: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// Events implements Store.
func (s *PostgresStore) Events(ctx context.Context, from uint64, limit int) ([]*eventlog.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE seq >= $1 ORDER BY seq ASC LIMIT $2`,
		int64(from), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []*eventlog.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyEvents implements Store. It streams all rows ordered by seq; O(n)
// in chain length.
func (s *PostgresStore) VerifyEvents(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM ledger_events ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var v eventlog.Verifier
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := v.Next(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EventsRoot implements Store.
func (s *PostgresStore) EventsRoot(ctx context.Context) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, "SELECT hash FROM ledger_events ORDER BY seq DESC LIMIT 1").Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return eventlog.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("get events root: %w", err)
	}
	return hash, nil
}

// pgTx is the Tx handed to Update callbacks. The advisory lock is held for
// its whole lifetime, so plain reads see a stable tail.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, id uint64) (*model.Agreement, error) {
	return getAgreement(ctx, t.tx, id)
}

func (t *pgTx) Create(ctx context.Context, a *model.Agreement) (uint64, error) {
	var next int64
	if err := t.tx.QueryRow(ctx, "SELECT COALESCE(MAX(id) + 1, 0) FROM agreements").Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate agreement id: %w", err)
	}
	a.ID = uint64(next)

	if _, err := t.tx.Exec(ctx,
		`INSERT INTO agreements (`+agreementColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		next, string(a.Landlord), string(a.Tenant), a.MonthlyRent, a.SecurityDeposit,
		a.StartTime, a.EndTime, a.Active, a.LastPaymentTime, a.DepositReturned,
	); err != nil {
		return 0, fmt.Errorf("insert agreement: %w", err)
	}
	return a.ID, nil
}

func (t *pgTx) Save(ctx context.Context, a *model.Agreement) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE agreements SET active = $2, last_payment_time = $3, deposit_returned = $4
		 WHERE id = $1`,
		int64(a.ID), a.Active, a.LastPaymentTime, a.DepositReturned,
	)
	if err != nil {
		return fmt.Errorf("update agreement %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(a.ID)
	}
	return nil
}

func (t *pgTx) Append(ctx context.Context, ts int64, ev model.Event) (*eventlog.Entry, error) {
	prev, err := scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM ledger_events ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		prev, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event tail: %w", err)
	}

	e, err := eventlog.Seal(prev, ts, string(ev.EventType()), ev.Agreement(), ev)
	if err != nil {
		return nil, err
	}

	if _, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		int64(e.Seq), e.Time, e.Type, int64(e.AgreementID), []byte(e.Payload), e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAgreement(ctx context.Context, q querier, id uint64) (*model.Agreement, error) {
	var (
		rawID            int64
		landlord, tenant string
		a                model.Agreement
	)
	err := q.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, int64(id)).Scan(
		&rawID, &landlord, &tenant, &a.MonthlyRent, &a.SecurityDeposit,
		&a.StartTime, &a.EndTime, &a.Active, &a.LastPaymentTime, &a.DepositReturned,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agreement %d: %w", id, err)
	}
	a.ID = uint64(rawID)
	a.Landlord = model.Address(landlord)
	a.Tenant = model.Address(tenant)
	return &a, nil
}

func scanEntry(row pgx.Row) (*eventlog.Entry, error) {
	var (
		seq, agreementID int64
		payload          []byte
		e                eventlog.Entry
	)
	if err := row.Scan(&seq, &e.Time, &e.Type, &agreementID, &payload, &e.PrevHash, &e.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Seq = uint64(seq)
	e.AgreementID = uint64(agreementID)
	e.Payload = payload
	return &e, nil
}
