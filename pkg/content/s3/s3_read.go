// Package s3 implements S3-based content storage for DittoSync.
//
// This file contains read operations: stat through HeadObject, streaming
// reads through GetObject and the paginated listing used by the registry
// scanner.
package s3

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittosync/pkg/content"
)

// Stat returns size and modification time of an object.
func (s *S3ContentStore) Stat(ctx context.Context, path string) (content.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return content.FileInfo{}, err
	}

	cleaned, err := content.CleanPath(path)
	if err != nil {
		return content.FileInfo{}, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(cleaned)),
	})
	if err != nil {
		if isNotFound(err) {
			return content.FileInfo{}, fmt.Errorf("content %s: %w", cleaned, content.ErrContentNotFound)
		}
		return content.FileInfo{}, fmt.Errorf("failed to head object: %w", err)
	}

	return content.FileInfo{
		Path:    cleaned,
		Size:    aws.ToInt64(result.ContentLength),
		ModTime: aws.ToTime(result.LastModified),
	}, nil
}

// Open streams an object. The caller must close the returned body.
//
// Context Cancellation:
// The GetObject body is bound to ctx; cancelling it fails further reads.
func (s *S3ContentStore) Open(ctx context.Context, path string) (io.ReadCloser, content.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, content.FileInfo{}, err
	}

	cleaned, err := content.CleanPath(path)
	if err != nil {
		return nil, content.FileInfo{}, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(cleaned)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, content.FileInfo{}, fmt.Errorf("content %s: %w", cleaned, content.ErrContentNotFound)
		}
		return nil, content.FileInfo{}, fmt.Errorf("failed to get object from S3: %w", err)
	}

	info := content.FileInfo{
		Path:    cleaned,
		Size:    aws.ToInt64(result.ContentLength),
		ModTime: aws.ToTime(result.LastModified),
	}
	return result.Body, info, nil
}

// List returns every object under the key prefix, sorted by path.
func (s *S3ContentStore) List(ctx context.Context) ([]content.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var files []content.FileInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			p, ok := s.pathFromKey(*obj.Key)
			if !ok {
				continue
			}

			var modTime time.Time
			if obj.LastModified != nil {
				modTime = *obj.LastModified
			}
			files = append(files, content.FileInfo{
				Path:    p,
				Size:    aws.ToInt64(obj.Size),
				ModTime: modTime,
			})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
