package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittosync/pkg/content"
)

// Config holds filesystem store options, decoded from the content.filesystem
// config section.
type Config struct {
	// Path is the root directory served or mirrored.
	Path string `mapstructure:"path" validate:"required"`

	// ReadOnly refuses every Create and reports every path as not writable.
	ReadOnly bool `mapstructure:"read_only"`
}

// FSContentStore implements content.Store on a local directory tree.
//
// Files are stored under their replication path, so the root directory mirrors
// the layout a requester sees.
//
// Thread Safety:
// The underlying filesystem operations are thread-safe at the OS level.
// Concurrent writes to the same path are prevented by the admission set.
type FSContentStore struct {
	root     string
	readOnly bool
}

var _ content.Store = (*FSContentStore)(nil)

// NewFSContentStore creates a filesystem store rooted at cfg.Path.
//
// The root directory is created with permissions 0755 unless the store is
// read-only, in which case it must already exist.
func NewFSContentStore(ctx context.Context, cfg Config) (*FSContentStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem store: path is required")
	}

	root, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("filesystem store: resolve %q: %w", cfg.Path, err)
	}

	// ========================================================================
	// Step 2: Ensure the root directory exists
	// ========================================================================

	if cfg.ReadOnly {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("filesystem store: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("filesystem store: %s is not a directory", root)
		}
	} else if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &FSContentStore{
		root:     root,
		readOnly: cfg.ReadOnly,
	}, nil
}

// Root returns the absolute root directory.
func (s *FSContentStore) Root() string {
	return s.root
}

// resolve maps a replication path to an absolute file path inside the root.
func (s *FSContentStore) resolve(p string) (string, string, error) {
	cleaned, err := content.CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func fileInfo(path string, info os.FileInfo) content.FileInfo {
	return content.FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
