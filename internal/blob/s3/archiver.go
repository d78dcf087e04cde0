package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openpredict/predictd/internal/domain"
)

// Archiver exports resolved markets to cold storage. Each market becomes one
// JSONL bundle: a market line, a pool line, then one line per trade, share
// account, and redemption. The primary store keeps the rows; the archived
// flag only marks that a verified export exists.
type Archiver struct {
	writer domain.BlobWriter
	ledger domain.LedgerStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, ledger domain.LedgerStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		ledger: ledger,
		audit:  audit,
		logger: logger,
	}
}

// record is one JSONL line in a market bundle.
type record struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// ArchiveResolved exports up to limit resolved, unarchived markets whose end
// time is before the cutoff. It returns the number of markets archived.
// A failed export leaves the market unarchived so the next sweep retries it.
func (a *Archiver) ArchiveResolved(ctx context.Context, before time.Time, limit int) (int64, error) {
	markets, err := a.ledger.ListArchivable(ctx, before, limit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list archivable: %w", err)
	}

	var archived int64
	for _, m := range markets {
		if err := a.archiveMarket(ctx, m); err != nil {
			a.logger.WarnContext(ctx, "archiver: market export failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		archived++
	}
	return archived, nil
}

func (a *Archiver) archiveMarket(ctx context.Context, m domain.Market) error {
	snap, err := a.ledger.GetSnapshot(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	trades, err := a.ledger.ListTrades(ctx, m.ID, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	accounts, err := a.ledger.ListShareAccounts(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("list share accounts: %w", err)
	}
	redemptions, err := a.ledger.ListRedemptions(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("list redemptions: %w", err)
	}

	records := make([]record, 0, 2+len(trades)+len(accounts)+len(redemptions))
	records = append(records,
		record{Kind: "market", Data: snap.Market},
		record{Kind: "pool", Data: snap.Pool},
	)
	for _, t := range trades {
		records = append(records, record{Kind: "trade", Data: t})
	}
	for _, acct := range accounts {
		records = append(records, record{Kind: "share_account", Data: acct})
	}
	for _, r := range redemptions {
		records = append(records, record{Kind: "redemption", Data: r})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	path := archivePath(m)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := a.ledger.MarkArchived(ctx, m.ID); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.market", map[string]any{
		"market_id":   m.ID,
		"path":        path,
		"trades":      len(trades),
		"accounts":    len(accounts),
		"redemptions": len(redemptions),
	}); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	a.logger.InfoContext(ctx, "archiver: market exported",
		slog.String("market_id", m.ID),
		slog.String("path", path),
	)
	return nil
}

// archivePath builds the S3 key for a market bundle, partitioned by the
// year-month of the market's end time.
//
//	archive/markets/2026-03/0xabc....jsonl
func archivePath(m domain.Market) string {
	return fmt.Sprintf("archive/markets/%s/%s.jsonl", m.EndTime.Format("2006-01"), m.ID)
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL(records []record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
