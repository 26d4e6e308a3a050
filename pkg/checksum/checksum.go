// Package checksum computes and caches the CRC-32 content checksums used to
// skip transfers of files both peers already hold.
package checksum

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"time"

	"github.com/marmos91/dittosync/pkg/content"
)

// Compute returns the CRC-32 (IEEE) of everything read from r.
func Compute(r io.Reader) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("checksum: %w", err)
	}
	return h.Sum32(), nil
}

// Sum returns the CRC-32 (IEEE) of data.
func Sum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Record is a cached checksum together with the file state it was computed for.
type Record struct {
	Sum     uint32    `json:"sum"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Matches reports whether the record still describes info.
func (r Record) Matches(info content.FileInfo) bool {
	return r.Size == info.Size && r.ModTime.Equal(info.ModTime)
}

// ErrCacheClosed is returned by caches used after Close.
var ErrCacheClosed = errors.New("checksum cache closed")

// Cache stores checksum records keyed by path.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the record for path. ok is false when nothing is cached.
	Get(ctx context.Context, path string) (rec Record, ok bool, err error)

	// Put stores rec for path, replacing any previous record.
	Put(ctx context.Context, path string, rec Record) error

	// Delete removes the record for path. Deleting a missing record succeeds.
	Delete(ctx context.Context, path string) error

	// Close releases resources held by the cache.
	Close() error
}

// Writer wraps a payload sink and hashes everything written through it, so a
// received file's checksum is known without reading it back.
type Writer struct {
	w io.WriteCloser
	h hash.Hash32
	n int64
}

// NewWriter returns a Writer forwarding to w.
func NewWriter(w io.WriteCloser) *Writer {
	return &Writer{w: w, h: crc32.NewIEEE()}
}

func (cw *Writer) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.h.Write(p[:n])
	cw.n += int64(n)
	return n, err
}

// Close closes the underlying sink.
func (cw *Writer) Close() error {
	return cw.w.Close()
}

// Sum32 returns the checksum of the bytes written so far.
func (cw *Writer) Sum32() uint32 {
	return cw.h.Sum32()
}

// Written returns the number of bytes written so far.
func (cw *Writer) Written() int64 {
	return cw.n
}
