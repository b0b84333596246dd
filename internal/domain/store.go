package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RFQStore persists auctions, their quotes, and fill records.
type RFQStore interface {
	Create(ctx context.Context, rfq RFQ) error
	AppendQuote(ctx context.Context, rfqID string, q Quote) error
	UpdateStatus(ctx context.Context, id string, status RFQStatus) error
	SetFill(ctx context.Context, id string, f Fill) error
	GetByID(ctx context.Context, id string) (RFQ, error)
	ListOpen(ctx context.Context) ([]RFQ, error)
	ListByVault(ctx context.Context, vaultAddress string, opts ListOpts) ([]RFQ, error)
}

// VaultStore persists vault accounting snapshots mirrored from the ledger.
type VaultStore interface {
	Upsert(ctx context.Context, v Vault) error
	GetByAsset(ctx context.Context, assetID string) (Vault, error)
	List(ctx context.Context) ([]Vault, error)
}

// WithdrawalStore persists depositor redemption requests.
type WithdrawalStore interface {
	Create(ctx context.Context, req WithdrawalRequest) error
	MarkProcessed(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (WithdrawalRequest, error)
	ListEligible(ctx context.Context, vault string, epoch uint64) ([]WithdrawalRequest, error)
	ListByUser(ctx context.Context, user string, opts ListOpts) ([]WithdrawalRequest, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
