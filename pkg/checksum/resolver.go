package checksum

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/content"
)

// Resolver answers "what is the local checksum of path" for sessions and the
// registry scanner. Cached records are reused while the file's size and
// modification time are unchanged; otherwise the file is read and hashed.
type Resolver struct {
	store content.Store
	cache Cache
}

// NewResolver creates a Resolver over store. cache may be nil to always hash.
func NewResolver(store content.Store, cache Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Store returns the content store the resolver reads from.
func (r *Resolver) Store() content.Store {
	return r.store
}

// Checksum returns the checksum of path. exists is false (with a nil error)
// when path is not present in the store.
func (r *Resolver) Checksum(ctx context.Context, path string) (sum uint32, exists bool, err error) {
	info, err := r.store.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	if r.cache != nil {
		rec, ok, err := r.cache.Get(ctx, info.Path)
		if err != nil {
			logger.Warn("Checksum cache lookup failed for %s: %v", info.Path, err)
		} else if ok && rec.Matches(info) {
			return rec.Sum, true, nil
		}
	}

	return r.compute(ctx, info.Path)
}

func (r *Resolver) compute(ctx context.Context, path string) (uint32, bool, error) {
	rc, info, err := r.store.Open(ctx, path)
	if err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer rc.Close()

	sum, err := Compute(rc)
	if err != nil {
		return 0, false, fmt.Errorf("checksum %s: %w", path, err)
	}

	r.put(ctx, path, Record{Sum: sum, Size: info.Size, ModTime: info.ModTime})
	return sum, true, nil
}

// Remember records a checksum computed elsewhere (while receiving a payload)
// against the file's current state.
func (r *Resolver) Remember(ctx context.Context, path string, sum uint32) error {
	if r.cache == nil {
		return nil
	}

	info, err := r.store.Stat(ctx, path)
	if err != nil {
		return err
	}
	r.put(ctx, info.Path, Record{Sum: sum, Size: info.Size, ModTime: info.ModTime})
	return nil
}

// Invalidate drops any cached record for path.
func (r *Resolver) Invalidate(ctx context.Context, path string) {
	if r.cache == nil {
		return
	}
	cleaned, err := content.CleanPath(path)
	if err != nil {
		return
	}
	if err := r.cache.Delete(ctx, cleaned); err != nil {
		logger.Warn("Checksum cache delete failed for %s: %v", cleaned, err)
	}
}

func (r *Resolver) put(ctx context.Context, path string, rec Record) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, path, rec); err != nil {
		logger.Warn("Checksum cache store failed for %s: %v", path, err)
	}
}
