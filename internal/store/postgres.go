package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/shopspring/decimal"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

// Store is the Postgres-backed implementation of Queries.
type Store struct {
	*queries
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{queries: &queries{db: pool}, Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a single transaction; any error rolls back every
// statement fn issued.
func (s *Store) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapError(err))
	}
	return nil
}

const userColumns = `id, email, full_name, role, wallet_balance, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var role string
	var balance pgtype.Numeric
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &role, &balance, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	u.Role = domain.Role(role)
	u.WalletBalance = fromNumeric(balance)
	return &u, nil
}

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return scanUser(q.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (q *queries) LockUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return scanUser(q.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id))
}

func (q *queries) ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	rows, err := q.db.Query(ctx, "SELECT "+userColumns+" FROM users WHERE role = $1 ORDER BY created_at", string(role))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (q *queries) AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance pgtype.Numeric
	err := q.db.QueryRow(ctx,
		"UPDATE users SET wallet_balance = wallet_balance + $1 WHERE id = $2 RETURNING wallet_balance",
		toNumeric(delta), userID,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return fromNumeric(balance), nil
}

func (q *queries) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO wallet_transactions (id, user_id, amount, type, reference_id, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, toNumeric(e.Amount), string(e.Type), toNullableUUID(e.ReferenceID), toNullableText(e.Notes), e.CreatedAt,
	)
	return mapError(err)
}

func (q *queries) ListLedgerEntries(ctx context.Context, userID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, amount, type, reference_id, notes, created_at
		 FROM wallet_transactions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var amount pgtype.Numeric
		var typ string
		var refID pgtype.UUID
		var notes pgtype.Text
		if err := rows.Scan(&e.ID, &e.UserID, &amount, &typ, &refID, &notes, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		e.Amount = fromNumeric(amount)
		e.Type = domain.LedgerEntryType(typ)
		e.ReferenceID = fromNullableUUID(refID)
		e.Notes = notes.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *queries) ReferenceCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM refund_requests WHERE reference_code = $1)", code).Scan(&exists)
	return exists, mapError(err)
}

func (q *queries) HasOpenRefundRequest(ctx context.Context, taskerID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM refund_requests WHERE tasker_id = $1 AND status = ANY($2))",
		taskerID, statusStrings(domain.OpenStatuses),
	).Scan(&exists)
	return exists, mapError(err)
}

func (q *queries) InsertRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO refund_requests (id, tasker_id, amount, reference_code, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.TaskerID, toNumeric(r.Amount), r.ReferenceCode, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	return mapError(err)
}

const refundColumns = `id, tasker_id, amount, reference_code, status, receipt_url, admin_id, admin_notes,
	confirmed_at, approved_at, created_at, updated_at`

func scanRefund(row pgx.Row) (*domain.RefundRequest, error) {
	var r domain.RefundRequest
	var amount pgtype.Numeric
	var status string
	var receipt, notes pgtype.Text
	var adminID pgtype.UUID
	var confirmedAt, approvedAt pgtype.Timestamptz
	err := row.Scan(&r.ID, &r.TaskerID, &amount, &r.ReferenceCode, &status, &receipt, &adminID, &notes,
		&confirmedAt, &approvedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	r.Amount = fromNumeric(amount)
	r.Status = domain.RefundStatus(status)
	r.ReceiptURL = receipt.String
	r.AdminID = fromNullableUUID(adminID)
	r.AdminNotes = notes.String
	r.ConfirmedAt = fromTimestamptz(confirmedAt)
	r.ApprovedAt = fromTimestamptz(approvedAt)
	return &r, nil
}

func (q *queries) GetRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	return scanRefund(q.db.QueryRow(ctx, "SELECT "+refundColumns+" FROM refund_requests WHERE id = $1", id))
}

func (q *queries) LockRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	return scanRefund(q.db.QueryRow(ctx, "SELECT "+refundColumns+" FROM refund_requests WHERE id = $1 FOR UPDATE", id))
}

// UpdateRefundRequest writes the mutable columns. Amount, tasker and
// reference code are never updated.
func (q *queries) UpdateRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE refund_requests
		 SET status = $1, receipt_url = $2, admin_id = $3, admin_notes = $4,
		     confirmed_at = $5, approved_at = $6, updated_at = $7
		 WHERE id = $8`,
		string(r.Status), toNullableText(r.ReceiptURL), toNullableUUID(r.AdminID), toNullableText(r.AdminNotes),
		toTimestamptz(r.ConfirmedAt), toTimestamptz(r.ApprovedAt), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) ListRefundRequests(ctx context.Context, f domain.RefundFilter) ([]domain.RefundRequest, error) {
	var where []string
	var args []any
	if f.TaskerID != nil {
		args = append(args, *f.TaskerID)
		where = append(where, fmt.Sprintf("tasker_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	sql := "SELECT " + refundColumns + " FROM refund_requests"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.RefundRequest
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (q *queries) CountRefundRequestsByStatus(ctx context.Context) (map[domain.RefundStatus]int64, error) {
	rows, err := q.db.Query(ctx, "SELECT status, COUNT(*) FROM refund_requests GROUP BY status")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make(map[domain.RefundStatus]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, mapError(err)
		}
		counts[domain.RefundStatus(status)] = n
	}
	return counts, rows.Err()
}

func (q *queries) InsertNotification(ctx context.Context, n *domain.Notification) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, link, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, toNullableText(n.Link), n.CreatedAt,
	)
	return mapError(err)
}

func (q *queries) ListNotifications(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, type, title, body, link, created_at, read_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var link pgtype.Text
		var readAt pgtype.Timestamptz
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &link, &n.CreatedAt, &readAt); err != nil {
			return nil, mapError(err)
		}
		n.Link = link.String
		n.ReadAt = fromTimestamptz(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// mapError translates pgx errors into the package sentinels. Unknown errors
// pass through untouched so callers can surface their text.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == "refund_requests_one_open_per_tasker":
			return ErrOpenRequestExists
		case pgErr.Code == "23505" && pgErr.ConstraintName == "refund_requests_reference_code_key":
			return ErrDuplicateCode
		case pgErr.Code == "23514" && pgErr.ConstraintName == "users_wallet_balance_non_negative":
			return ErrNegativeBalance
		}
	}
	return err
}

func statusStrings(statuses []domain.RefundStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   d.Coefficient(),
		Exp:   d.Exponent(),
		Valid: true,
	}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func toNullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toNullableUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func fromNullableUUID(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := uuid.UUID(id.Bytes)
	return &u
}

func toTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromTimestamptz(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}
