package channels

import (
	"context"

	"github.com/minibot-ai/minibot/pkg/bus"
)

// PublishFunc feeds an inbound message into the orchestrator.
type PublishFunc func(msg bus.InboundMessage)

// Channel is a chat surface (telegram, cli, ...). Start begins receiving and
// publishes inbound messages; Send delivers an outbound message to the
// surface.
type Channel interface {
	Name() string
	Start(ctx context.Context, publish PublishFunc) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}
