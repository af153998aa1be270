// Package blob stores merged entity snapshots as opaque objects addressed
// by slash-separated paths.
package blob

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = eris.New("blob: not found")

// Store reads and writes whole objects.
type Store interface {
	// Put writes data at path, replacing any existing object, and returns
	// its location.
	Put(ctx context.Context, path string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}
