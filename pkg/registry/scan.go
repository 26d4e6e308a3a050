package registry

import (
	"context"
	"fmt"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/internal/protocol/arp"
	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
)

// Scan adds every file of store to reg with its checksum and returns the
// number of entries added.
//
// Paths that cannot travel on the wire (containing ':' for instance) are
// skipped with a warning. Files already registered are left untouched.
func Scan(ctx context.Context, store content.Store, resolver *checksum.Resolver, reg *Registry) (int, error) {
	files, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}

	added := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return added, err
		}

		if err := arp.ValidatePath(f.Path); err != nil {
			logger.Warn("Registry scan: skipping %q: %v", f.Path, err)
			continue
		}

		sum, exists, err := resolver.Checksum(ctx, f.Path)
		if err != nil {
			return added, fmt.Errorf("scan %s: %w", f.Path, err)
		}
		if !exists {
			// Removed between List and Checksum.
			continue
		}

		if reg.Add(Entry{Path: f.Path, Size: f.Size, Checksum: sum}) {
			added++
		}
	}

	logger.Debug("Registry scan: %d file(s) listed, %d added, %d registered", len(files), added, reg.Len())
	return added, nil
}
