package artifact

import (
	"context"
	"io"
)

// Store is the narrow interface the control plane uses to talk to the
// artifact collaborator. The control plane never interprets artifact
// contents; registration only checks that a reference resolves.
type Store interface {
	// Resolve reports whether the artifact reference exists
	Resolve(ctx context.Context, ref string) (bool, error)

	// Put stores an opaque blob under the given reference
	Put(ctx context.Context, ref string, body io.Reader) error

	// Fetch returns the blob for a reference; caller closes the reader
	Fetch(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes the blob for a reference
	Delete(ctx context.Context, ref string) error
}
