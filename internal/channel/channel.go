// Package channel abstracts outbound message delivery and inbound webhook
// normalization for the supported channels.
package channel

import (
	"context"

	"github.com/convohub/messaging-platform/internal/model"
)

// Sender delivers a message to an external user on a channel. Errors are
// opaque to callers; delivery failure semantics are handled upstream.
type Sender interface {
	// Send delivers text to the recipient and returns the provider's
	// message id.
	Send(ctx context.Context, tenantID, to, text string) (providerMessageID string, err error)
}

// InboundMessage is a normalized inbound channel message.
type InboundMessage struct {
	ExternalUserID    string
	Text              string
	ProviderMessageID string
	TimestampUnix     int64
}

// Registry selects the sender for a channel.
type Registry struct {
	senders map[model.Channel]Sender
}

// NewRegistry builds a sender registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.Channel]Sender)}
}

// Register binds a sender to a channel.
func (r *Registry) Register(ch model.Channel, s Sender) {
	r.senders[ch] = s
}

// For returns the sender for a channel, or nil if none is registered.
func (r *Registry) For(ch model.Channel) Sender {
	return r.senders[ch]
}

// WidgetSender is the delivery path for the web widget. Widget clients
// receive messages by polling the persisted stream, so delivery is a no-op
// acknowledged with the empty provider id.
type WidgetSender struct{}

// Send implements Sender.
func (WidgetSender) Send(ctx context.Context, tenantID, to, text string) (string, error) {
	return "", nil
}
