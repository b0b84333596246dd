package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/covault/vaultrfq/internal/domain"
)

// EpochReport is the archived record of one settlement cycle: the vault's
// accounting before and after the roll, the auctions filled during the
// epoch, and the withdrawals paid out after it settled.
type EpochReport struct {
	AssetID     string                     `json:"asset_id"`
	Epoch       uint64                     `json:"epoch"` // the epoch being settled
	RolledAt    time.Time                  `json:"rolled_at"`
	Before      domain.Vault               `json:"before"`
	After       domain.Vault               `json:"after"`
	Fills       []domain.RFQ               `json:"fills,omitempty"`
	Withdrawals []domain.WithdrawalRequest `json:"withdrawals,omitempty"`
}

// Reporter serializes epoch reports and uploads them to blob storage,
// recording each upload in the audit log.
//
// Deletion of settled rows from the primary store is intentionally NOT
// performed here; the database remains the system of record.
type Reporter struct {
	writer domain.ReportWriter
	audit  domain.AuditStore
}

// NewReporter creates a Reporter. audit may be nil, in which case uploads
// are not audit-logged.
func NewReporter(writer domain.ReportWriter, audit domain.AuditStore) *Reporter {
	return &Reporter{writer: writer, audit: audit}
}

// PublishEpochReport uploads one epoch's settlement report to
// reports/{asset}/epoch-{N}.json.
func (r *Reporter) PublishEpochReport(ctx context.Context, report EpochReport) error {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal epoch report: %w", err)
	}

	key := reportKey(report.AssetID, report.Epoch)
	if err := r.writer.Write(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload epoch report: %w", err)
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, "report.epoch", map[string]any{
			"path":  key,
			"asset": report.AssetID,
			"epoch": report.Epoch,
			"fills": len(report.Fills),
		}); err != nil {
			return fmt.Errorf("s3blob: epoch report audit log: %w", err)
		}
	}

	return nil
}

// reportKey builds the S3 key for an epoch report:
//
//	reports/SOL/epoch-42.json
func reportKey(asset string, epoch uint64) string {
	return fmt.Sprintf("reports/%s/epoch-%d.json", asset, epoch)
}
