// Package transport delivers guarantee-checked events off the device. The
// pipeline treats delivery as opaque: a sink either accepts the payload or
// returns an error, and repeated errors feed the incident detector's
// transport breaker.
package transport

import (
	"context"

	"veil/pkg/domain"
)

// Sink delivers one anonymized event to the collection endpoint.
type Sink interface {
	Deliver(ctx context.Context, ev domain.AnonymizedEvent) error
	Close() error
}
