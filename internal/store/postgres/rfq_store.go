package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covault/vaultrfq/internal/domain"
)

// RFQStore implements domain.RFQStore using PostgreSQL. Quotes live in their
// own table keyed by RFQ id and are loaded alongside their auction.
type RFQStore struct {
	pool *pgxpool.Pool
}

// NewRFQStore creates a new RFQStore backed by the given connection pool.
func NewRFQStore(pool *pgxpool.Pool) *RFQStore {
	return &RFQStore{pool: pool}
}

// Create inserts a new auction.
func (s *RFQStore) Create(ctx context.Context, r domain.RFQ) error {
	const query = `
		INSERT INTO rfqs (
			id, asset, side, option_type, strike_ticks, expiry,
			size_units, vault_address, premium_floor_ticks, anonymous,
			min_quotes, quote_timeout_ms, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Params.Asset, string(r.Params.Side), string(r.Params.OptionType),
		r.Params.StrikeTicks, r.Params.Expiry,
		r.Params.SizeUnits, r.Params.VaultAddress,
		r.Params.PremiumFloorTicks, r.Params.Anonymous,
		r.Params.MinQuotes, r.Params.QuoteTimeout.Milliseconds(),
		string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create rfq %s: %w", r.ID, err)
	}
	return nil
}

// AppendQuote stores one received quote against its auction.
func (s *RFQStore) AppendQuote(ctx context.Context, rfqID string, q domain.Quote) error {
	const query = `
		INSERT INTO quotes (id, rfq_id, maker, settlement_account, premium_ticks, received_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var expiresAt *time.Time
	if !q.ExpiresAt.IsZero() {
		expiresAt = &q.ExpiresAt
	}

	_, err := s.pool.Exec(ctx, query,
		q.ID, rfqID, q.Maker, q.SettlementAccount, q.PremiumTicks, q.ReceivedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres: append quote %s to rfq %s: %w", q.ID, rfqID, err)
	}
	return nil
}

// UpdateStatus moves an auction to a new lifecycle state.
func (s *RFQStore) UpdateStatus(ctx context.Context, id string, status domain.RFQStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rfqs SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update rfq status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetFill records the winning quote and marks the auction filled.
func (s *RFQStore) SetFill(ctx context.Context, id string, f domain.Fill) error {
	const query = `
		UPDATE rfqs SET
			status = 'filled',
			fill_quote_id = $1, fill_counterparty = $2,
			fill_premium_ticks = $3, fill_tx_ref = $4, filled_at = $5,
			updated_at = NOW()
		WHERE id = $6`

	tag, err := s.pool.Exec(ctx, query,
		f.QuoteID, f.Counterparty, f.PremiumTicks, f.TxRef, f.FilledAt, id)
	if err != nil {
		return fmt.Errorf("postgres: set fill on rfq %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const rfqSelectCols = `id, asset, side, option_type, strike_ticks, expiry,
	size_units, vault_address, premium_floor_ticks, anonymous,
	min_quotes, quote_timeout_ms, status, created_at,
	fill_quote_id, fill_counterparty, fill_premium_ticks, fill_tx_ref, filled_at`

func scanRFQFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.RFQ, error) {
	var r domain.RFQ
	var side, optionType, status string
	var quoteTimeoutMs int64
	var fillQuoteID, fillCounterparty, fillTxRef *string
	var fillPremiumTicks *int64
	var filledAt *time.Time

	err := scanner.Scan(
		&r.ID, &r.Params.Asset, &side, &optionType,
		&r.Params.StrikeTicks, &r.Params.Expiry,
		&r.Params.SizeUnits, &r.Params.VaultAddress,
		&r.Params.PremiumFloorTicks, &r.Params.Anonymous,
		&r.Params.MinQuotes, &quoteTimeoutMs,
		&status, &r.CreatedAt,
		&fillQuoteID, &fillCounterparty, &fillPremiumTicks, &fillTxRef, &filledAt,
	)
	if err != nil {
		return domain.RFQ{}, err
	}

	r.Params.Side = domain.Side(side)
	r.Params.OptionType = domain.OptionType(optionType)
	r.Params.QuoteTimeout = time.Duration(quoteTimeoutMs) * time.Millisecond
	r.Status = domain.RFQStatus(status)

	if fillQuoteID != nil {
		r.Fill = &domain.Fill{
			QuoteID:      *fillQuoteID,
			PremiumTicks: *fillPremiumTicks,
		}
		if fillCounterparty != nil {
			r.Fill.Counterparty = *fillCounterparty
		}
		if fillTxRef != nil {
			r.Fill.TxRef = *fillTxRef
		}
		if filledAt != nil {
			r.Fill.FilledAt = *filledAt
		}
	}

	return r, nil
}

// loadQuotes attaches an auction's quotes in arrival order.
func (s *RFQStore) loadQuotes(ctx context.Context, r *domain.RFQ) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rfq_id, maker, settlement_account, premium_ticks, received_at, expires_at
		 FROM quotes WHERE rfq_id = $1 ORDER BY received_at`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var q domain.Quote
		var expiresAt *time.Time
		if err := rows.Scan(&q.ID, &q.RFQID, &q.Maker, &q.SettlementAccount,
			&q.PremiumTicks, &q.ReceivedAt, &expiresAt); err != nil {
			return err
		}
		if expiresAt != nil {
			q.ExpiresAt = *expiresAt
		}
		r.Quotes = append(r.Quotes, q)
	}
	return rows.Err()
}

// GetByID retrieves a single auction with its quotes.
func (s *RFQStore) GetByID(ctx context.Context, id string) (domain.RFQ, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rfqSelectCols+` FROM rfqs WHERE id = $1`, id)

	r, err := scanRFQFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RFQ{}, domain.ErrNotFound
		}
		return domain.RFQ{}, fmt.Errorf("postgres: get rfq %s: %w", id, err)
	}

	if err := s.loadQuotes(ctx, &r); err != nil {
		return domain.RFQ{}, fmt.Errorf("postgres: load quotes for rfq %s: %w", id, err)
	}
	return r, nil
}

// ListOpen returns all auctions still accepting quotes, oldest first.
func (s *RFQStore) ListOpen(ctx context.Context) ([]domain.RFQ, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rfqSelectCols+` FROM rfqs WHERE status = 'open' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open rfqs: %w", err)
	}
	defer rows.Close()

	rfqs, err := scanRFQRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open rfqs: %w", err)
	}

	for i := range rfqs {
		if err := s.loadQuotes(ctx, &rfqs[i]); err != nil {
			return nil, fmt.Errorf("postgres: load quotes for rfq %s: %w", rfqs[i].ID, err)
		}
	}
	return rfqs, nil
}

// ListByVault returns auctions for one vault with pagination. Quotes are not
// attached; callers that need them fetch individual auctions.
func (s *RFQStore) ListByVault(ctx context.Context, vaultAddress string, opts domain.ListOpts) ([]domain.RFQ, error) {
	query := `SELECT ` + rfqSelectCols + ` FROM rfqs WHERE vault_address = $1`
	args := []any{vaultAddress}
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
		return nil, fmt.Errorf("postgres: list rfqs by vault: %w", err)
	}
	defer rows.Close()

	rfqs, err := scanRFQRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rfqs by vault: %w", err)
	}
	return rfqs, nil
}

func scanRFQRows(rows pgx.Rows) ([]domain.RFQ, error) {
	var rfqs []domain.RFQ
	for rows.Next() {
		r, err := scanRFQFromRow(rows)
		if err != nil {
			return nil, err
		}
		rfqs = append(rfqs, r)
	}
	return rfqs, rows.Err()
}
