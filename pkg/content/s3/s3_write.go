// Package s3 implements S3-based content storage for DittoSync.
//
// This file contains write operations: Create returns a writer that switches
// from a single PutObject to a multipart upload once content outgrows one part.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/content"
)

// Create returns a writer that stores its content at path on Close.
func (s *S3ContentStore) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleaned, err := content.CleanPath(path)
	if err != nil {
		return nil, err
	}

	if s.readOnly {
		return nil, fmt.Errorf("content %s: %w", cleaned, content.ErrReadOnly)
	}

	return &objectWriter{
		ctx:   ctx,
		store: s,
		path:  cleaned,
		key:   s.objectKey(cleaned),
	}, nil
}

// IsWritable reports whether the store accepts writes. S3 has no per-object
// write protection the store could check cheaply.
func (s *S3ContentStore) IsWritable(ctx context.Context, path string) bool {
	if s.readOnly || ctx.Err() != nil {
		return false
	}
	_, err := content.CleanPath(path)
	return err == nil
}

// objectWriter buffers one part at a time.
type objectWriter struct {
	ctx   context.Context
	store *S3ContentStore
	path  string
	key   string

	buf      bytes.Buffer
	uploadID string
	parts    []types.CompletedPart
	closed   bool
	err      error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write %s: writer closed", w.path)
	}
	if w.err != nil {
		return 0, w.err
	}

	n, _ := w.buf.Write(p)
	for int64(w.buf.Len()) >= w.store.partSize {
		if err := w.flushPart(w.buf.Next(int(w.store.partSize))); err != nil {
			w.err = err
			return n, err
		}
	}
	return n, nil
}

// flushPart uploads one full part, starting the multipart upload on first use.
func (w *objectWriter) flushPart(data []byte) error {
	if w.uploadID == "" {
		result, err := w.store.client.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
		})
		if err != nil {
			return fmt.Errorf("failed to create multipart upload: %w", err)
		}
		w.uploadID = aws.ToString(result.UploadId)
	}

	partNumber := int32(len(w.parts) + 1)
	result, err := w.store.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.store.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       result.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	return nil
}

func (w *objectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.err != nil {
		w.abort()
		return w.err
	}

	// ========================================================================
	// Small object: one PutObject
	// ========================================================================

	if w.uploadID == "" {
		_, err := w.store.client.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
			Body:   bytes.NewReader(w.buf.Bytes()),
		})
		if err != nil {
			return fmt.Errorf("failed to write content to S3: %w", err)
		}
		return nil
	}

	// ========================================================================
	// Large object: last part (may be short) and completion
	// ========================================================================

	if w.buf.Len() > 0 {
		if err := w.flushPart(w.buf.Bytes()); err != nil {
			w.abort()
			return err
		}
	}

	_, err := w.store.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: w.parts,
		},
	})
	if err != nil {
		w.abort()
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// abort releases an unfinished multipart upload so S3 does not keep its parts.
func (w *objectWriter) abort() {
	if w.uploadID == "" {
		return
	}

	_, err := w.store.client.AbortMultipartUpload(context.WithoutCancel(w.ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	if err != nil {
		logger.Warn("S3: failed to abort multipart upload %s for %s: %v", w.uploadID, w.path, err)
	}
}
