package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covault/vaultrfq/internal/domain"
)

// WithdrawalStore implements domain.WithdrawalStore using PostgreSQL.
type WithdrawalStore struct {
	pool *pgxpool.Pool
}

// NewWithdrawalStore creates a new WithdrawalStore backed by the given pool.
func NewWithdrawalStore(pool *pgxpool.Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

// Create files a new withdrawal request. A second request by the same user
// against the same vault and epoch fails with ErrAlreadyExists.
func (s *WithdrawalStore) Create(ctx context.Context, req domain.WithdrawalRequest) error {
	const query = `
		INSERT INTO withdrawal_requests (id, user_id, vault, shares, request_epoch, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.User, req.Vault, req.Shares, int64(req.RequestEpoch), req.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: withdrawal for %s/%s in epoch %d",
				domain.ErrAlreadyExists, req.Vault, req.User, req.RequestEpoch)
		}
		return fmt.Errorf("postgres: create withdrawal %s: %w", req.ID, err)
	}
	return nil
}

// MarkProcessed flips processed false to true exactly once. A second call for
// the same id fails with ErrAlreadyProcessed.
func (s *WithdrawalStore) MarkProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE withdrawal_requests SET processed = TRUE, processed_at = NOW()
		 WHERE id = $1 AND NOT processed`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark withdrawal %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already handled.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM withdrawal_requests WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check withdrawal %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyProcessed
	}
	return nil
}

const withdrawalSelectCols = `id, user_id, vault, shares, request_epoch, processed, created_at, processed_at`

func scanWithdrawalFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var requestEpoch int64
	var processedAt *time.Time

	err := scanner.Scan(&w.ID, &w.User, &w.Vault, &w.Shares,
		&requestEpoch, &w.Processed, &w.CreatedAt, &processedAt)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	w.RequestEpoch = uint64(requestEpoch)
	w.ProcessedAt = processedAt
	return w, nil
}

// GetByID retrieves a single request.
func (s *WithdrawalStore) GetByID(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+withdrawalSelectCols+` FROM withdrawal_requests WHERE id = $1`, id)

	w, err := scanWithdrawalFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.WithdrawalRequest{}, domain.ErrNotFound
		}
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: get withdrawal %s: %w", id, err)
	}
	return w, nil
}

// ListEligible returns unprocessed requests whose filing epoch has settled at
// the given vault epoch, oldest first.
func (s *WithdrawalStore) ListEligible(ctx context.Context, vault string, epoch uint64) ([]domain.WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+withdrawalSelectCols+` FROM withdrawal_requests
		 WHERE vault = $1 AND NOT processed AND request_epoch < $2
		 ORDER BY created_at`, vault, int64(epoch))
	if err != nil {
		return nil, fmt.Errorf("postgres: list eligible withdrawals: %w", err)
	}
	defer rows.Close()

	return scanWithdrawalRows(rows)
}

// ListByUser returns a user's requests with pagination, newest first.
func (s *WithdrawalStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalSelectCols + ` FROM withdrawal_requests WHERE user_id = $1`
	args := []any{user}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals by user: %w", err)
	}
	defer rows.Close()

	return scanWithdrawalRows(rows)
}

func scanWithdrawalRows(rows pgx.Rows) ([]domain.WithdrawalRequest, error) {
	var reqs []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawalFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		reqs = append(reqs, w)
	}
	return reqs, rows.Err()
}
