// Package events defines the fire-and-forget event emitter port.
package events

import (
	"context"

	"github.com/Wandeon/meta-chat-platform/internal/domain/event"
)

// Emitter publishes pipeline notification events. Implementations must not
// return delivery failures to the caller; they log and drop instead.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event)
}
