// Package storage defines the artifact sink boundary.
package storage

import "context"

// Sink writes a rendered run artifact and returns a URI for it.
type Sink interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
