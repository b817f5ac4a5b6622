// Package fanout routes published events to channels.
package fanout

import (
	"context"

	"github.com/omochice/socket-feed/internal/chat"
)

// Bus carries deliveries to the hubs that hold the subscribed connections.
type Bus interface {
	Deliver(ctx context.Context, d chat.Delivery) error
}

// LocalBus delivers straight into a single in-process hub.
type LocalBus struct {
	Hub *chat.Hub
}

var _ Bus = LocalBus{}

func (b LocalBus) Deliver(_ context.Context, d chat.Delivery) error {
	b.Hub.Deliver(d)
	return nil
}
