package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/forecasthq/marketd/internal/domain"
)

// archiveBatchSize bounds how many trades are pulled per archive batch so a
// large backlog never loads into memory at once.
const archiveBatchSize = 5000

// Archiver implements domain.Archiver: trades older than the retention
// cutoff are serialized to JSONL, uploaded to S3, and then deleted from the
// primary store. The delete only runs after the upload succeeded, so a
// failed upload leaves the rows in place for the next run.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	logger *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		logger: logger,
	}
}

// ArchiveTrades moves all trades created before the cutoff to cold storage
// in batches and returns the total number archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for {
		trades, err := a.trades.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades query: %w", err)
		}
		if len(trades) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(trades)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades marshal: %w", err)
		}

		// Key by the batch's newest trade so successive batches never
		// overwrite each other.
		last := trades[len(trades)-1].CreatedAt
		path := archivePath("trades", last)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive trades upload: %w", err)
		}

		// Safe to delete this batch now that the object landed. Deleting up
		// to the batch's last timestamp also covers earlier stragglers.
		deleted, err := a.trades.DeleteBefore(ctx, last.Add(time.Nanosecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades delete: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "s3blob: archived trade batch",
			slog.String("path", path),
			slog.Int("batch", len(trades)),
			slog.Int64("deleted", deleted),
		)

		if len(trades) < archiveBatchSize {
			return total, nil
		}
	}
}

// archivePath builds the S3 key for an archive file, partitioned by day and
// stamped to the nanosecond so batch keys are unique.
//
//	archive/trades/2025-01-07/20250107T031500.000000000.jsonl
func archivePath(kind string, ts time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, ts.Format("2006-01-02"), ts.Format("20060102T150405.000000000"))
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
