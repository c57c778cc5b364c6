// Package bus routes messages between transports and the agent runtime.
package bus

import "context"

// InboundMessage represents a message received from a transport.
type InboundMessage struct {
	Transport string            `json:"transport"`          // "telegram" or "linked"
	JID       string            `json:"jid"`                // chat identifier (numeric for bot-API chats)
	SenderID  string            `json:"sender_id"`
	Content   string            `json:"content"`
	Media     []string          `json:"media,omitempty"`    // local paths of saved attachments
	IsGroup   bool              `json:"is_group,omitempty"`
	GroupID   string            `json:"group_id,omitempty"` // set when IsGroup
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be delivered by a transport.
type OutboundMessage struct {
	Transport string            `json:"transport"`
	JID       string            `json:"jid"`
	Content   string            `json:"content"`
	Media     []MediaAttachment `json:"media,omitempty"`
}

// MediaAttachment is a media file sent alongside a message.
type MediaAttachment struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
	Voice       bool   `json:"voice,omitempty"` // deliver as a voice note
}

// MessageBus carries inbound messages from transports to the consumer and
// outbound messages back. Buffered so a slow model never blocks a transport's
// receive loop.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewMessageBus creates a bus with the given buffer depth per direction.
func NewMessageBus(depth int) *MessageBus {
	if depth <= 0 {
		depth = 64
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, depth),
		outbound: make(chan OutboundMessage, depth),
	}
}

// PublishInbound enqueues a received message. Non-blocking: returns false
// when the bus is full, so the transport can surface "busy" to the user.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		return false
	}
}

// ConsumeInbound blocks until a message arrives or ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues a message for delivery. Blocks if the outbound
// buffer is full; delivery is the cheap side.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks until a message is ready or ctx is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
