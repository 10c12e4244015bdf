// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/domain/activity"
	"github.com/baldgiev-collab/serpifai/internal/app/domain/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.ActivityStore = (*Store)(nil)
var _ storage.CacheStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type accountRow struct {
	ID               string         `db:"id"`
	Email            string         `db:"email"`
	LicenseKey       string         `db:"license_key"`
	Status           string         `db:"status"`
	CreditBalance    int64          `db:"credit_balance"`
	TotalCreditsUsed int64          `db:"total_credits_used"`
	ActiveSessionID  sql.NullString `db:"active_session_id"`
	SessionStartedAt sql.NullTime   `db:"session_started_at"`
	BoundIdentity    sql.NullString `db:"bound_identity"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	LastLoginAt      sql.NullTime   `db:"last_login_at"`
}

func (r accountRow) toDomain() account.Account {
	acct := account.Account{
		ID:               r.ID,
		Email:            r.Email,
		LicenseKey:       r.LicenseKey,
		Status:           account.Status(r.Status),
		CreditBalance:    r.CreditBalance,
		TotalCreditsUsed: r.TotalCreditsUsed,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ActiveSessionID.Valid {
		acct.ActiveSessionID = r.ActiveSessionID.String
	}
	if r.SessionStartedAt.Valid {
		acct.SessionStartedAt = r.SessionStartedAt.Time
	}
	if r.BoundIdentity.Valid {
		acct.BoundIdentity = r.BoundIdentity.String
	}
	if r.LastLoginAt.Valid {
		acct.LastLoginAt = r.LastLoginAt.Time
	}
	return acct
}

const accountColumns = `id, email, license_key, status, credit_balance, total_credits_used,
	active_session_id, session_started_at, bound_identity, created_at, updated_at, last_login_at`

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Status == "" {
		acct.Status = account.StatusActive
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, license_key, status, credit_balance, total_credits_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, acct.ID, acct.Email, acct.LicenseKey, acct.Status, acct.CreditBalance, acct.TotalCreditsUsed, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return account.Account{}, storage.ErrDuplicateLicense
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetAccountByLicense(ctx context.Context, licenseKey string) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE license_key = $1
	`, licenseKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateSession(ctx context.Context, id, sessionID string, startedAt time.Time) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts
		SET active_session_id = $2, session_started_at = $3, last_login_at = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, sessionID, startedAt.UTC(), time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) BindIdentity(ctx context.Context, id, identity string) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts
		SET bound_identity = $2, updated_at = $3
		WHERE id = $1 AND (bound_identity IS NULL OR bound_identity = '' OR bound_identity = $2)
		RETURNING `+accountColumns+`
	`, id, identity, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, s.accountConflict(ctx, id, storage.ErrIdentityBound)
		}
		return account.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) DebitCredits(ctx context.Context, id string, amount int64) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts
		SET credit_balance = credit_balance - $2,
		    total_credits_used = total_credits_used + $2,
		    updated_at = $3
		WHERE id = $1 AND credit_balance >= $2
		RETURNING `+accountColumns+`
	`, id, amount, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, s.accountConflict(ctx, id, storage.ErrInsufficientCredits)
		}
		return account.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) RefundCredits(ctx context.Context, id string, amount int64) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts
		SET credit_balance = credit_balance + $2,
		    total_credits_used = GREATEST(total_credits_used - $2, 0),
		    updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, amount, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) AddCredits(ctx context.Context, id string, delta int64) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts
		SET credit_balance = credit_balance + $2, updated_at = $3
		WHERE id = $1 AND credit_balance + $2 >= 0
		RETURNING `+accountColumns+`
	`, id, delta, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, s.accountConflict(ctx, id, storage.ErrInsufficientCredits)
		}
		return account.Account{}, err
	}
	return row.toDomain(), nil
}

// accountConflict distinguishes a missing account from a guarded update that
// matched no row.
func (s *Store) accountConflict(ctx context.Context, id string, conflict error) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id); err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return conflict
}

// --- TransactionStore -------------------------------------------------------

type transactionRow struct {
	ID          string          `db:"id"`
	AccountID   string          `db:"account_id"`
	Action      string          `db:"action"`
	CreditCost  int64           `db:"credit_cost"`
	Status      string          `db:"status"`
	Request     json.RawMessage `db:"request_snapshot"`
	Response    json.RawMessage `db:"response_snapshot"`
	ErrorMsg    sql.NullString  `db:"error_message"`
	CreatedAt   time.Time       `db:"created_at"`
	CompletedAt sql.NullTime    `db:"completed_at"`
}

func (r transactionRow) toDomain() ledger.Transaction {
	tx := ledger.Transaction{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Action:     r.Action,
		CreditCost: r.CreditCost,
		Status:     ledger.Status(r.Status),
		Request:    r.Request,
		Response:   r.Response,
		CreatedAt:  r.CreatedAt,
	}
	if r.ErrorMsg.Valid {
		tx.Error = r.ErrorMsg.String
	}
	if r.CompletedAt.Valid {
		tx.CompletedAt = r.CompletedAt.Time
	}
	return tx
}

const transactionColumns = `id, account_id, action, credit_cost, status,
	request_snapshot, response_snapshot, error_message, created_at, completed_at`

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = ledger.StatusReserved
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, action, credit_cost, status, request_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.AccountID, tx.Action, tx.CreditCost, tx.Status, nullableJSON(tx.Request), tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return ledger.Transaction{}, storage.ErrNotFound
		}
		return ledger.Transaction{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) FinalizeTransaction(ctx context.Context, id string, status ledger.Status, response json.RawMessage, errMsg string) (ledger.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE transactions
		SET status = $2, response_snapshot = $3, error_message = $4, completed_at = $5
		WHERE id = $1 AND status = 'reserved'
		RETURNING `+transactionColumns+`
	`, id, status, nullableJSON(response), errMsg, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			existing, gerr := s.GetTransaction(ctx, id)
			if gerr != nil {
				return ledger.Transaction{}, gerr
			}
			return existing, storage.ErrAlreadyFinalized
		}
		return ledger.Transaction{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- ActivityStore ----------------------------------------------------------

func (s *Store) RecordActivity(ctx context.Context, entry activity.Entry) (activity.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, account_id, action, outcome, caller_identity, signed, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.AccountID, entry.Action, entry.Outcome, entry.CallerIdentity, entry.Signed, entry.Details, entry.CreatedAt)
	if err != nil {
		return activity.Entry{}, err
	}
	return entry, nil
}

// --- CacheStore -------------------------------------------------------------

func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `
		SELECT value FROM fetch_cache
		WHERE cache_key = $1 AND expires_at > $2
	`, key, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_cache (cache_key, value, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, now.Add(ttl), now)
	return err
}

func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM fetch_cache WHERE expires_at <= $1
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
