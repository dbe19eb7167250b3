package ports

import (
	"context"

	"houseBroker/internal/domain"
)

// Publisher is the publish-only broadcast sink. Publish must not block on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}
