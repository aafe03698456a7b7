package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// exportPartSize is the multipart part size used for ledger exports.
const exportPartSize int64 = 8 * 1024 * 1024

// MarketArchiver implements domain.Archiver. It writes two objects per
// settled market:
//
//	archive/markets/{id}/settlement.json
//	archive/markets/{id}/ledger.jsonl
//
// The JSONL export holds every ledger entry belonging to the market and is
// streamed through a multipart upload so large pools never sit in memory
// twice.
type MarketArchiver struct {
	writer domain.BlobWriter
	ledger domain.Ledger
}

// NewArchiver creates a MarketArchiver reading from l and writing to w.
func NewArchiver(w domain.BlobWriter, l domain.Ledger) *MarketArchiver {
	return &MarketArchiver{writer: w, ledger: l}
}

type exportLine struct {
	Key     string          `json:"key"`
	Version int64           `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// ArchiveMarket uploads the settlement record and the market's ledger
// export. It fails with domain.ErrNotFound when the market has no
// settlement yet.
func (a *MarketArchiver) ArchiveMarket(ctx context.Context, marketID string) error {
	settlement, err := a.ledger.Get(ctx, domain.SettlementKey(marketID))
	if err != nil {
		return fmt.Errorf("s3blob: archive market %s: %w", marketID, err)
	}

	path := archivePath(marketID, "settlement.json")
	if err := a.writer.Put(ctx, path, bytes.NewReader(settlement.Value), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive market %s settlement: %w", marketID, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.export(ctx, marketID, pw))
	}()

	path = archivePath(marketID, "ledger.jsonl")
	if err := a.writer.PutMultipart(ctx, path, pr, exportPartSize); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("s3blob: archive market %s export: %w", marketID, err)
	}
	return nil
}

// export writes the market's documents as JSONL in key order.
func (a *MarketArchiver) export(ctx context.Context, marketID string, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	singles := []string{domain.MarketKey(marketID), domain.PoolKey(marketID), domain.SettlementKey(marketID)}
	for _, key := range singles {
		e, err := a.ledger.Get(ctx, key)
		if err != nil {
			return err
		}
		if err := enc.Encode(exportLine{Key: e.Key, Version: e.Version, Value: e.Value}); err != nil {
			return fmt.Errorf("jsonl encode %s: %w", key, err)
		}
	}

	for _, prefix := range []string{domain.PrefixInvitation, domain.PrefixSubmission} {
		for e, err := range a.ledger.Scan(ctx, prefix+marketID+"/") {
			if err != nil {
				return err
			}
			if err := enc.Encode(exportLine{Key: e.Key, Version: e.Version, Value: e.Value}); err != nil {
				return fmt.Errorf("jsonl encode %s: %w", e.Key, err)
			}
		}
	}
	return nil
}

func archivePath(marketID, name string) string {
	return fmt.Sprintf("archive/markets/%s/%s", marketID, name)
}

var _ domain.Archiver = (*MarketArchiver)(nil)
