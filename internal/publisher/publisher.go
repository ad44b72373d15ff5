// Package publisher defines the run-completion event boundary.
package publisher

import "context"

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}
