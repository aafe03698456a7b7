package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// EvidencePrefix is where participants upload result evidence.
const EvidencePrefix = "evidence/"

// Reader implements domain.BlobReader and domain.EvidenceChecker.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader for the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.S3(), bucket: c.Bucket()}
}

// Get returns the object body; the caller closes it. A missing object is
// domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return output.Body, nil
}

// Exists reports whether an object exists at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", path, err)
	}
	return true, nil
}

// EvidenceExists resolves a submission's evidence reference to an object
// key and checks it. Storage errors are reported as domain.ErrUnavailable.
func (r *Reader) EvidenceExists(ctx context.Context, ref string) (bool, error) {
	key, ok := EvidenceKey(r.bucket, ref)
	if !ok {
		return false, nil
	}
	found, err := r.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return found, nil
}

// OpenEvidence returns the body of the object a reference points at.
func (r *Reader) OpenEvidence(ctx context.Context, ref string) (io.ReadCloser, error) {
	key, ok := EvidenceKey(r.bucket, ref)
	if !ok {
		return nil, fmt.Errorf("%w: evidence reference %q", domain.ErrInvalidInput, ref)
	}
	body, err := r.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return body, err
}

// EvidenceKey maps a reference to an object key in bucket. It accepts
// "s3://{bucket}/{key}", "evidence/{key}" and bare "{key}". References to
// other buckets or other URL schemes are rejected.
func EvidenceKey(bucket, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		b, key, found := strings.Cut(rest, "/")
		if !found || b != bucket || key == "" {
			return "", false
		}
		ref = key
	} else if strings.Contains(ref, "://") {
		return "", false
	}

	ref = strings.TrimPrefix(ref, "/")
	if ref == "" || strings.Contains(ref, "..") {
		return "", false
	}
	if !strings.HasPrefix(ref, EvidencePrefix) {
		ref = EvidencePrefix + ref
	}
	return ref, true
}

// isNotFound matches NoSuchKey, NotFound (HeadObject) and bare 404s from
// compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

var (
	_ domain.BlobReader      = (*Reader)(nil)
	_ domain.EvidenceChecker = (*Reader)(nil)
	_ domain.EvidenceSource  = (*Reader)(nil)
)
