package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covault/vaultrfq/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore backed by the given connection pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// Upsert writes the full accounting snapshot for a vault, inserting on first
// sight of the asset.
func (s *VaultStore) Upsert(ctx context.Context, v domain.Vault) error {
	const query = `
		INSERT INTO vaults (
			asset_id, vault_address, authority,
			total_assets, total_shares, virtual_offset,
			epoch, utilization_cap_bps, last_roll_at,
			epoch_notional_exposed, epoch_premium_earned, epoch_premium_per_token_bps,
			pending_withdrawals, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, NOW()
		)
		ON CONFLICT (asset_id) DO UPDATE SET
			vault_address = EXCLUDED.vault_address,
			authority = EXCLUDED.authority,
			total_assets = EXCLUDED.total_assets,
			total_shares = EXCLUDED.total_shares,
			virtual_offset = EXCLUDED.virtual_offset,
			epoch = EXCLUDED.epoch,
			utilization_cap_bps = EXCLUDED.utilization_cap_bps,
			last_roll_at = EXCLUDED.last_roll_at,
			epoch_notional_exposed = EXCLUDED.epoch_notional_exposed,
			epoch_premium_earned = EXCLUDED.epoch_premium_earned,
			epoch_premium_per_token_bps = EXCLUDED.epoch_premium_per_token_bps,
			pending_withdrawals = EXCLUDED.pending_withdrawals,
			updated_at = NOW()`

	var lastRollAt *time.Time
	if !v.LastRollAt.IsZero() {
		lastRollAt = &v.LastRollAt
	}

	_, err := s.pool.Exec(ctx, query,
		v.AssetID, v.VaultAddress, v.Authority,
		v.TotalAssets, v.TotalShares, v.VirtualOffset,
		int64(v.Epoch), v.UtilizationCapBps, lastRollAt,
		v.EpochNotionalExposed, v.EpochPremiumEarned, v.EpochPremiumPerTokenBps,
		v.PendingWithdrawals,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert vault %s: %w", v.AssetID, err)
	}
	return nil
}

const vaultSelectCols = `asset_id, vault_address, authority,
	total_assets, total_shares, virtual_offset,
	epoch, utilization_cap_bps, last_roll_at,
	epoch_notional_exposed, epoch_premium_earned, epoch_premium_per_token_bps,
	pending_withdrawals, created_at, updated_at`

func scanVaultFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Vault, error) {
	var v domain.Vault
	var epoch int64
	var lastRollAt *time.Time

	err := scanner.Scan(
		&v.AssetID, &v.VaultAddress, &v.Authority,
		&v.TotalAssets, &v.TotalShares, &v.VirtualOffset,
		&epoch, &v.UtilizationCapBps, &lastRollAt,
		&v.EpochNotionalExposed, &v.EpochPremiumEarned, &v.EpochPremiumPerTokenBps,
		&v.PendingWithdrawals, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return domain.Vault{}, err
	}

	v.Epoch = uint64(epoch)
	if lastRollAt != nil {
		v.LastRollAt = *lastRollAt
	}
	return v, nil
}

// GetByAsset retrieves one vault by its asset id.
func (s *VaultStore) GetByAsset(ctx context.Context, assetID string) (domain.Vault, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+vaultSelectCols+` FROM vaults WHERE asset_id = $1`, assetID)

	v, err := scanVaultFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Vault{}, domain.ErrNotFound
		}
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", assetID, err)
	}
	return v, nil
}

// List returns all vaults ordered by asset id.
func (s *VaultStore) List(ctx context.Context) ([]domain.Vault, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vaultSelectCols+` FROM vaults ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vaults: %w", err)
	}
	defer rows.Close()

	var vaults []domain.Vault
	for rows.Next() {
		v, err := scanVaultFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vault: %w", err)
		}
		vaults = append(vaults, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list vaults rows: %w", err)
	}
	return vaults, nil
}
