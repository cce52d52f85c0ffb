// Package memory keeps upload events in process for dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// Notifier stores published events for inspection.
type Notifier struct {
	mu     sync.RWMutex
	events []artwork.UploadEvent
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Publish records the event.
func (n *Notifier) Publish(ctx context.Context, event artwork.UploadEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns the recorded events in publish order.
func (n *Notifier) Events() []artwork.UploadEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]artwork.UploadEvent, len(n.events))
	copy(out, n.events)
	return out
}
