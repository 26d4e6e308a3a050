package content

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ============================================================================
// Store Interface
// ============================================================================

// FileInfo describes a stored file.
type FileInfo struct {
	// Path is the slash-separated path relative to the store root.
	Path string

	// Size is the content length in bytes.
	Size int64

	// ModTime is the last modification time reported by the backend.
	// Checksum caches use (Size, ModTime) to decide whether a cached
	// checksum is still valid.
	ModTime time.Time
}

// Store provides path-addressed file content for replication.
//
// A Store is the local side of every transfer: the provider reads offered
// files from it and writes accepted uploads into it; the requester writes
// downloads into it and reads the files it pushes.
//
// Paths:
// All paths are slash-separated and relative to the store root. Callers should
// pass them through CleanPath; implementations reject paths escaping the root
// with ErrInvalidPath.
//
// Partial writes:
// Create truncates the destination. If the writer is closed before all bytes
// arrive (aborted transfer, lost connection) the partial content remains.
// Atomic replacement is not guaranteed.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Concurrent writers to the same path are prevented one level up by the
// provider's admission set, not by the store.
type Store interface {
	// Stat returns information about path.
	//
	// Returns ErrContentNotFound if path does not exist or is not a regular file.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// Open returns a reader for path together with its FileInfo.
	// The caller must close the reader.
	//
	// Returns ErrContentNotFound if path does not exist.
	Open(ctx context.Context, path string) (io.ReadCloser, FileInfo, error)

	// Create opens path for writing, creating parent directories as needed
	// and truncating any existing content.
	//
	// Returns ErrReadOnly if the destination cannot be written.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// IsWritable reports whether Create would be allowed for path.
	// It is checked before a payload sink is opened.
	IsWritable(ctx context.Context, path string) bool

	// List returns every regular file in the store, sorted by path.
	List(ctx context.Context) ([]FileInfo, error)
}

// ============================================================================
// Path Helpers
// ============================================================================

// CleanPath normalizes a relative, slash-separated path.
//
// Backslashes are treated as separators, leading slashes are dropped and the
// result is cleaned. Paths that are empty or escape the root are rejected.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the store root", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// ReadAll reads the whole content of path. Intended for small files and tests.
func ReadAll(ctx context.Context, store Store, path string) ([]byte, error) {
	r, _, err := store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// WriteAll replaces the content of path with data.
func WriteAll(ctx context.Context, store Store, path string, data []byte) error {
	w, err := store.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}
