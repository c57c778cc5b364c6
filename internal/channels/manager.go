package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidewaterlabs/moobot/internal/bus"
)

// Manager owns the running transports and routes outbound traffic. Chat
// identifiers pick the transport: an all-digit jid belongs to the bot-API
// transport, everything else to the linked-device bridge.
type Manager struct {
	mu         sync.RWMutex
	transports map[string]Transport
	bus        *bus.MessageBus
}

func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		transports: make(map[string]Transport),
		bus:        b,
	}
}

// Register adds a transport before Start.
func (m *Manager) Register(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Name()] = t
}

// Start launches every registered transport and the outbound dispatch loop.
// A transport that fails to start is logged and skipped; one broken token
// must not take the other transport down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.transports) == 0 {
		return fmt.Errorf("no transports configured")
	}
	started := 0
	for name, t := range m.transports {
		if err := t.Start(ctx); err != nil {
			slog.Error("transport failed to start", "transport", name, "error", err)
			continue
		}
		slog.Info("transport started", "transport", name)
		started++
	}
	if started == 0 {
		return fmt.Errorf("all transports failed to start")
	}
	go m.dispatchOutbound(ctx)
	return nil
}

// Stop shuts every transport down.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, t := range m.transports {
		if err := t.Stop(ctx); err != nil {
			slog.Warn("transport stop failed", "transport", name, "error", err)
		}
	}
}

// TransportNameForJID maps a chat identifier to its transport.
func TransportNameForJID(jid string) string {
	if isNumeric(jid) {
		return "telegram"
	}
	return "linked"
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 {
			continue // telegram group chat ids are negative
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ForJID returns the transport that owns a chat identifier.
func (m *Manager) ForJID(jid string) (Transport, error) {
	name := TransportNameForJID(jid)
	m.mu.RLock()
	t, ok := m.transports[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s transport wired for chat %s", name, jid)
	}
	if !t.IsRunning() {
		return nil, fmt.Errorf("transport %s is not running", name)
	}
	return t, nil
}

// SendText delivers plain text to a chat, picking the transport by jid.
func (m *Manager) SendText(jid, text string) error {
	t, err := m.ForJID(jid)
	if err != nil {
		return err
	}
	return t.Send(context.Background(), bus.OutboundMessage{
		Transport: t.Name(),
		JID:       jid,
		Content:   text,
	})
}

// SendMedia delivers a media attachment with optional caption.
func (m *Manager) SendMedia(jid string, media bus.MediaAttachment) error {
	t, err := m.ForJID(jid)
	if err != nil {
		return err
	}
	return t.Send(context.Background(), bus.OutboundMessage{
		Transport: t.Name(),
		JID:       jid,
		Media:     []bus.MediaAttachment{media},
	})
}

// dispatchOutbound drains the bus and hands messages to their transport.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		name := msg.Transport
		if name == "" {
			name = TransportNameForJID(msg.JID)
		}
		m.mu.RLock()
		t, found := m.transports[name]
		m.mu.RUnlock()
		if !found {
			slog.Error("outbound message for unknown transport", "transport", name, "jid", msg.JID)
			continue
		}
		if err := t.Send(ctx, msg); err != nil {
			slog.Error("outbound send failed",
				"transport", name, "jid", msg.JID,
				"preview", Truncate(strings.ReplaceAll(msg.Content, "\n", " "), 80),
				"error", err)
		}
	}
}
