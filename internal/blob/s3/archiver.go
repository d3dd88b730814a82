package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// exportPageSize bounds how many markets one export pass pulls from the
// archive store per query.
const exportPageSize = 500

// settlementRecord is one JSONL line in an export dump: a resolved market
// with every bet that settled against it.
type settlementRecord struct {
	Market domain.Market `json:"market"`
	Bets   []domain.Bet  `json:"bets"`
}

// Exporter implements domain.Archiver by pulling resolved markets and their
// bets from the archive stores, serializing them to JSONL, and uploading the
// dump to blob storage.
//
// The dump never deletes from the archive stores. It is an additional,
// externally readable copy of the settlement record.
type Exporter struct {
	writer  domain.BlobWriter
	markets domain.MarketArchive
	bets    domain.BetArchive
	audit   domain.AuditStore
}

// NewExporter creates an Exporter. audit may be nil.
func NewExporter(writer domain.BlobWriter, markets domain.MarketArchive, bets domain.BetArchive, audit domain.AuditStore) *Exporter {
	return &Exporter{
		writer:  writer,
		markets: markets,
		bets:    bets,
		audit:   audit,
	}
}

// ArchiveResolved exports every market resolved before the cutoff, together
// with its settled bets, to archive/settlements/YYYY-MM.jsonl. Returns the
// number of markets exported. Re-running with the same cutoff overwrites the
// same object, so the export is safe to repeat.
func (e *Exporter) ArchiveResolved(ctx context.Context, before time.Time) (int, error) {
	var (
		records []settlementRecord
		offset  int
	)
	for {
		page, err := e.markets.ListResolvedBefore(ctx, before, domain.ListOpts{
			Limit:  exportPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: export query markets: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, m := range page {
			bets, err := e.bets.ListByMarket(ctx, m.ID)
			if err != nil {
				return 0, fmt.Errorf("s3blob: export query bets for %s: %w", m.ID, err)
			}
			records = append(records, settlementRecord{Market: m, Bets: bets})
		}
		offset += len(page)
	}

	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export marshal: %w", err)
	}

	key := exportKey(before)
	if err := e.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: export upload: %w", err)
	}

	if e.audit != nil {
		if err := e.audit.Log(ctx, "archive.settlements", map[string]any{
			"key":    key,
			"count":  len(records),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return len(records), fmt.Errorf("s3blob: export audit log: %w", err)
		}
	}

	return len(records), nil
}

// exportKey builds the object key for a settlement dump, partitioned by the
// year-month of the cutoff.
//
//	archive/settlements/2026-08.jsonl
func exportKey(before time.Time) string {
	return fmt.Sprintf("archive/settlements/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
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

// Compile-time interface check.
var _ domain.Archiver = (*Exporter)(nil)
