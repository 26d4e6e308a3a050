// Package fs implements filesystem-based content storage for DittoSync.
//
// This file contains read operations: stat, open and the recursive listing the
// registry scanner consumes.
package fs

import (
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/dittosync/pkg/content"
)

// Stat returns information about a regular file.
func (s *FSContentStore) Stat(ctx context.Context, path string) (content.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return content.FileInfo{}, err
	}

	cleaned, full, err := s.resolve(path)
	if err != nil {
		return content.FileInfo{}, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return content.FileInfo{}, fmt.Errorf("content %s: %w", cleaned, content.ErrContentNotFound)
		}
		return content.FileInfo{}, fmt.Errorf("failed to stat content: %w", err)
	}
	if !info.Mode().IsRegular() {
		return content.FileInfo{}, fmt.Errorf("content %s is not a regular file: %w", cleaned, content.ErrContentNotFound)
	}

	return fileInfo(cleaned, info), nil
}

// Open returns a reader for a regular file.
//
// The returned reader does not observe ctx; callers streaming large files
// close it when their context ends.
func (s *FSContentStore) Open(ctx context.Context, path string) (io.ReadCloser, content.FileInfo, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, content.FileInfo{}, err
	}

	cleaned, full, err := s.resolve(path)
	if err != nil {
		return nil, content.FileInfo{}, err
	}

	// ========================================================================
	// Step 2: Open and stat through the same descriptor
	// ========================================================================

	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, content.FileInfo{}, fmt.Errorf("content %s: %w", cleaned, content.ErrContentNotFound)
		}
		return nil, content.FileInfo{}, fmt.Errorf("failed to open content: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, content.FileInfo{}, fmt.Errorf("failed to stat content: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, content.FileInfo{}, fmt.Errorf("content %s is not a regular file: %w", cleaned, content.ErrContentNotFound)
	}

	return file, fileInfo(cleaned, info), nil
}

// List walks the root and returns every regular file, sorted by path.
func (s *FSContentStore) List(ctx context.Context) ([]content.FileInfo, error) {
	var files []content.FileInfo

	err := filepath.WalkDir(s.root, func(full string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed between readdir and stat.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}
		files = append(files, fileInfo(filepath.ToSlash(rel), info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
