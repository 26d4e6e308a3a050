// Package fs implements filesystem-based content storage for DittoSync.
//
// This file contains write operations: the writability check consulted before
// a payload sink is opened, and Create which returns that sink.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/dittosync/pkg/content"
)

// Create opens path for writing, truncating existing content.
//
// Parent directories are created with permissions 0755 and new files with
// 0644. Closing the writer early leaves a partial file.
func (s *FSContentStore) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	// ========================================================================
	// Step 1: Check context and writability
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleaned, full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	if !s.IsWritable(ctx, cleaned) {
		return nil, fmt.Errorf("content %s: %w", cleaned, content.ErrReadOnly)
	}

	// ========================================================================
	// Step 2: Create parents and open the file
	// ========================================================================

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("content %s: %w", cleaned, content.ErrReadOnly)
		}
		return nil, fmt.Errorf("failed to create content: %w", err)
	}

	return file, nil
}

// IsWritable reports whether path may be created or replaced.
//
// An existing file is writable when its owner write bit is set. A new file is
// writable when its nearest existing ancestor is a directory with the owner
// write bit set. Permission bits are checked rather than attempting an open,
// so the answer does not depend on running as root.
func (s *FSContentStore) IsWritable(ctx context.Context, path string) bool {
	if s.readOnly || ctx.Err() != nil {
		return false
	}

	_, full, err := s.resolve(path)
	if err != nil {
		return false
	}

	info, err := os.Stat(full)
	switch {
	case err == nil:
		return info.Mode().IsRegular() && info.Mode().Perm()&0200 != 0
	case !os.IsNotExist(err):
		return false
	}

	for dir := filepath.Dir(full); ; dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		if err == nil {
			return info.IsDir() && info.Mode().Perm()&0200 != 0
		}
		if !os.IsNotExist(err) {
			return false
		}
		if dir == s.root || dir == filepath.Dir(dir) {
			return false
		}
	}
}
