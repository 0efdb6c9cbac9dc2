package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// ArchiveImpl implements domain.Archiver by exporting settled bets, together
// with their full event logs, to object storage as JSON documents.
//
// Each bet lands at settled/YYYY-MM-DD/{betID}.json, partitioned by the day
// the bet settled. Already-archived bets are skipped via an existence check,
// so the archiver is safe to re-run over the same window. Deleting archived
// rows from the primary store is intentionally NOT performed here; that is a
// separate, explicit step after the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	bets   domain.BetStore
	events domain.BetEventStore
	audit  domain.AuditStore
	batch  int
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. batchSize caps how many settled bets
// one ArchiveSettled call exports; pass 0 for the default of 500.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	bets domain.BetStore,
	events domain.BetEventStore,
	audit domain.AuditStore,
	batchSize int,
	logger *slog.Logger,
) *ArchiveImpl {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		bets:   bets,
		events: events,
		audit:  audit,
		batch:  batchSize,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// settledRecord is the archived document: the bet plus its event log.
type settledRecord struct {
	Bet        domain.Bet        `json:"bet"`
	Events     []domain.BetEvent `json:"events"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// ArchiveSettled exports settled bets last touched before the cutoff and
// returns the number of bets archived. Per-bet failures abort the run so a
// partial export is visible in the returned error.
func (a *ArchiveImpl) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	bets, err := a.bets.ListSettledBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled bets: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}

	var archived int64
	for _, bet := range bets {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}

		path := settledPath(bet)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return archived, fmt.Errorf("s3blob: check archive %s: %w", path, err)
		}
		if exists {
			continue
		}

		events, err := a.events.ListByBet(ctx, bet.ID, domain.ListOpts{})
		if err != nil {
			return archived, fmt.Errorf("s3blob: load events for %s: %w", bet.ID, err)
		}

		doc, err := marshalRecord(settledRecord{
			Bet:        bet,
			Events:     events,
			ArchivedAt: time.Now().UTC(),
		})
		if err != nil {
			return archived, fmt.Errorf("s3blob: marshal bet %s: %w", bet.ID, err)
		}

		if err := a.writer.Put(ctx, path, bytes.NewReader(doc), "application/json"); err != nil {
			return archived, fmt.Errorf("s3blob: upload %s: %w", path, err)
		}
		archived++

		a.logger.InfoContext(ctx, "settled bet archived",
			slog.String("bet_id", bet.ID),
			slog.String("path", path),
		)
	}

	if archived > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settled", map[string]any{
			"count":  archived,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return archived, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}

	return archived, nil
}

// settledPath builds the storage key for a settled bet, partitioned by the
// day it settled.
//
//	settled/2025-01-15/3f2a....json
func settledPath(bet domain.Bet) string {
	return fmt.Sprintf("settled/%s/%s.json", bet.UpdatedAt.Format("2006-01-02"), bet.ID)
}

func marshalRecord(rec settledRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
