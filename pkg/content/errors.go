package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all store implementations. Sessions check for them and map them to
// protocol behavior.
//
// Usage Pattern:
//
//	r, info, err := store.Open(ctx, path)
//	if err != nil {
//	    if errors.Is(err, content.ErrContentNotFound) {
//	        // get: stay silent, or reply notFound
//	    }
//	    return err
//	}
//
// Implementations wrap these errors with the path:
//
//	return fmt.Errorf("content %s: %w", path, content.ErrContentNotFound)

var (
	// ErrContentNotFound indicates the requested path does not exist.
	//
	// Returned by Stat and Open for missing paths and for paths that name a
	// directory rather than a file.
	ErrContentNotFound = errors.New("content not found")

	// ErrReadOnly indicates the destination cannot be written.
	//
	// Returned by Create when the store is read-only or the file itself is
	// write-protected. A writefile for such a path aborts the session.
	ErrReadOnly = errors.New("content is read-only")

	// ErrInvalidPath indicates a path that is empty or escapes the store root.
	ErrInvalidPath = errors.New("invalid content path")

	// ErrUnavailable indicates the storage backend is temporarily unavailable.
	//
	// This is a transient error - retrying may succeed.
	ErrUnavailable = errors.New("storage unavailable")
)
