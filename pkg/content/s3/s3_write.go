package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/h5fs/pkg/content"
)

// WriteContent uploads r as a single object.
//
// PutObject needs the body length up front. Seekable readers (files,
// section readers) are measured and streamed; anything else is buffered.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - id: Content identifier
//   - r: Object body
//
// Returns:
//   - int64: Number of bytes uploaded
//   - error: Read or upload errors
func (s *S3ContentStore) WriteContent(ctx context.Context, id content.ContentID, r io.Reader) (n int64, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("PutObject", time.Since(start), err)
		if err == nil && n > 0 {
			s.metrics.RecordBytes("write", n)
		}
	}()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	body, size, err := sizedBody(r)
	if err != nil {
		return 0, err
	}

	if err := s.throttle(ctx); err != nil {
		return 0, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.getObjectKey(id)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put object: %w", err)
	}
	return size, nil
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (s *S3ContentStore) Delete(ctx context.Context, id content.ContentID) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
	}()

	if err := s.throttle(ctx); err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// sizedBody returns a seekable body positioned at its start and the number
// of bytes remaining in it.
func sizedBody(r io.Reader) (io.ReadSeeker, int64, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		cur, err := rs.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := rs.Seek(0, io.SeekEnd)
			if err == nil {
				if _, err := rs.Seek(cur, io.SeekStart); err != nil {
					return nil, 0, fmt.Errorf("failed to rewind body: %w", err)
				}
				return io.NewSectionReader(readerAtOf(rs, cur), 0, end-cur), end - cur, nil
			}
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to buffer body: %w", err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// readerAtOf adapts a seeker positioned at base into an io.ReaderAt
// relative to base.
func readerAtOf(rs io.ReadSeeker, base int64) io.ReaderAt {
	if ra, ok := rs.(io.ReaderAt); ok {
		return offsetReaderAt{ra, base}
	}
	return &seekingReaderAt{rs: rs, base: base}
}

type offsetReaderAt struct {
	ra   io.ReaderAt
	base int64
}

func (o offsetReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return o.ra.ReadAt(p, o.base+off)
}

type seekingReaderAt struct {
	rs   io.ReadSeeker
	base int64
}

func (s *seekingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.rs.Seek(s.base+off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rs, p)
}
