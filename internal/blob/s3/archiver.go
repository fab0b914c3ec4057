package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantfold/arbot/internal/domain"
)

// Archiver snapshots one accounting day of fills to blob storage as JSONL.
// Archival is additive: the primary store keeps its rows, the archive is the
// durable audit copy.
type Archiver struct {
	writer domain.BlobWriter
	fills  domain.FillStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, fills domain.FillStore) *Archiver {
	return &Archiver{writer: writer, fills: fills}
}

// ArchiveDay uploads every fill from the UTC day containing t to
// fills/YYYY-MM-DD.jsonl. A day with no fills uploads nothing and returns
// zero.
func (a *Archiver) ArchiveDay(ctx context.Context, t time.Time) (int, error) {
	day := t.UTC().Truncate(24 * time.Hour)
	fills, err := a.fills.ListBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day %s: %w", day.Format("2006-01-02"), err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range fills {
		if err := enc.Encode(f); err != nil {
			return 0, fmt.Errorf("s3blob: encode fill %s: %w", f.ID, err)
		}
	}

	key := "fills/" + day.Format("2006-01-02") + ".jsonl"
	if err := a.writer.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, err
	}
	return len(fills), nil
}
