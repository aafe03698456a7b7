package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// EvidenceChecker confirms that a submission's evidence reference points at
// an uploaded object.
type EvidenceChecker interface {
	EvidenceExists(ctx context.Context, ref string) (bool, error)
}

// EvidenceSource opens uploaded evidence so validators can inspect it.
type EvidenceSource interface {
	OpenEvidence(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Archiver copies settled markets to cold storage.
type Archiver interface {
	ArchiveMarket(ctx context.Context, marketID string) error
}
