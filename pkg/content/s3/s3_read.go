package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/h5fs/pkg/content"
)

// ReadAt reads data from the specified offset without downloading the entire object.
//
// This uses S3 byte-range requests ("bytes=offset-end", inclusive end) to
// fetch exactly the requested window.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - id: Content identifier to read
//   - p: Buffer to read into
//   - offset: Byte offset to start reading from
//
// Returns:
//   - n: Number of bytes read
//   - error: ErrContentNotFound if the object is missing; io.EOF when the
//     object ends before p is filled (n may be > 0) or offset is past the end
func (s *S3ContentStore) ReadAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (n int, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("ReadAt", time.Since(start), ignoreEOF(err))
		if n > 0 {
			s.metrics.RecordBytes("read", int64(n))
		}
	}()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.CheckOffset(offset); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := offset + int64(len(p)) - 1
	if end < offset {
		return 0, content.ErrInvalidOffset
	}

	if err := s.throttle(ctx); err != nil {
		return 0, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, end)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		// InvalidRange (416) means offset is at or beyond the object size
		if isInvalidRange(err) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to read from S3: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	n, err = io.ReadFull(result.Body, p)
	if err == io.ErrUnexpectedEOF || (err == io.EOF && n == 0) {
		// Object is smaller than the requested range
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("failed to read S3 body: %w", err)
	}
	return n, nil
}

// GetContentSize returns the size of the content in bytes.
//
// This performs a HEAD request to S3 to retrieve object metadata without
// downloading the content.
func (s *S3ContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := s.throttle(ctx); err != nil {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to head object: %w", err)
	}

	if result.ContentLength == nil {
		return 0, fmt.Errorf("content length not available for %s", id)
	}

	return uint64(*result.ContentLength), nil
}

// ContentExists checks if content with the given ID exists in S3.
func (s *S3ContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if _, err := s.GetContentSize(ctx, id); err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// isNotFound matches both GetObject's NoSuchKey and HeadObject's NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}

func ignoreEOF(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}
