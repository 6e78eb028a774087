package s3

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/h5fs/pkg/content"
)

// maxDeleteBatch is the DeleteObjects limit per request.
const maxDeleteBatch = 1000

// ============================================================================
// GarbageCollectableStore Interface Implementation
// ============================================================================

// ListAllContent lists every object under the key prefix and returns their
// content IDs.
//
// Parameters:
//   - ctx: Context for cancellation, checked between pages
//
// Returns:
//   - []content.ContentID: All stored IDs
//   - error: Context cancellation or S3 errors
func (s *S3ContentStore) ListAllContent(ctx context.Context) (ids []content.ContentID, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := s.listPrefix()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if key == "" {
				continue
			}
			ids = append(ids, content.ContentID(key))
		}
	}

	return ids, nil
}

// DeleteBatch removes objects with DeleteObjects, at most 1000 keys per
// request.
//
// A request that fails as a whole marks its keys as failed and the next
// chunk is still attempted.
//
// Returns:
//   - map[content.ContentID]error: Per-object failures (empty = all deleted)
//   - error: Context cancellation; remaining IDs are reported as failed
func (s *S3ContentStore) DeleteBatch(ctx context.Context, ids []content.ContentID) (map[content.ContentID]error, error) {
	failures := make(map[content.ContentID]error)

	for i := 0; i < len(ids); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			for _, id := range ids[i:] {
				failures[id] = err
			}
			return failures, err
		}

		batch := ids[i:min(i+maxDeleteBatch, len(ids))]
		if err := s.deleteChunk(ctx, batch, failures); err != nil {
			for _, id := range batch {
				failures[id] = err
			}
		}
	}

	return failures, nil
}

func (s *S3ContentStore) deleteChunk(ctx context.Context, batch []content.ContentID, failures map[content.ContentID]error) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("DeleteObjects", time.Since(start), err)
	}()

	if err := s.throttle(ctx); err != nil {
		return err
	}

	objects := make([]types.ObjectIdentifier, len(batch))
	for j, id := range batch {
		objects[j] = types.ObjectIdentifier{Key: aws.String(s.getObjectKey(id))}
	}

	result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}

	prefix := s.listPrefix()
	for _, e := range result.Errors {
		id := content.ContentID(strings.TrimPrefix(aws.ToString(e.Key), prefix))
		failures[id] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
	}
	return nil
}
