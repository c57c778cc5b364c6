// Package linked connects to a linked-device bridge over WebSocket. The
// bridge is an external companion process speaking the actual device
// protocol; this transport exchanges JSON frames with it.
package linked

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidewaterlabs/moobot/internal/bus"
	"github.com/tidewaterlabs/moobot/internal/config"
)

// Channel is the linked-device transport.
type Channel struct {
	cfg config.LinkedConfig
	bus *bus.MessageBus

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(cfg config.LinkedConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("linked bridge_url is required")
	}
	return &Channel{cfg: cfg, bus: msgBus}, nil
}

func (c *Channel) Name() string    { return "linked" }
func (c *Channel) IsRunning() bool { return c.running }

// Start connects to the bridge and begins the read loop. A bridge that is
// down at startup is retried; the transport stays up.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.connect(); err != nil {
		slog.Warn("linked bridge unreachable, will retry", "error", err)
	}
	go c.listenLoop()
	c.running = true
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.running = false
	return nil
}

// Send writes one outbound frame. Media files travel inline as base64;
// the bridge re-encodes them for the device protocol.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	frame := map[string]interface{}{
		"type":    "message",
		"to":      msg.JID,
		"content": msg.Content,
	}
	if len(msg.Media) > 0 {
		var media []map[string]string
		for _, m := range msg.Media {
			data, err := os.ReadFile(m.Path)
			if err != nil {
				return fmt.Errorf("read media %s: %w", m.Path, err)
			}
			kind := "image"
			if m.Voice {
				kind = "voice"
			}
			media = append(media, map[string]string{
				"kind":    kind,
				"caption": m.Caption,
				"data":    base64.StdEncoding.EncodeToString(data),
			})
		}
		frame["media"] = media
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("linked bridge not connected")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send to bridge: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.Dial(c.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial linked bridge %s: %w", c.cfg.BridgeURL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	slog.Info("linked bridge connected", "url", c.cfg.BridgeURL)
	return nil
}

// listenLoop reads bridge frames, reconnecting with backoff.
func (c *Channel) listenLoop() {
	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("linked bridge reconnect failed", "error", err)
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("linked bridge read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mu.Unlock()
			continue
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("linked bridge sent invalid JSON", "error", err)
			continue
		}
		if t, _ := frame["type"].(string); t == "message" {
			c.handleIncoming(frame)
		}
	}
}

// handleIncoming maps a bridge frame onto the inbound bus. Frame shape:
// {"type":"message","from":"...","chat":"...","content":"...","media":[paths]}
func (c *Channel) handleIncoming(frame map[string]interface{}) {
	senderID, _ := frame["from"].(string)
	if senderID == "" {
		return
	}
	chatID, _ := frame["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}
	content, _ := frame["content"].(string)

	var media []string
	if raw, ok := frame["media"].([]interface{}); ok {
		for _, m := range raw {
			if path, ok := m.(string); ok {
				media = append(media, path)
			}
		}
	}
	if content == "" && len(media) == 0 {
		return
	}

	inbound := bus.InboundMessage{
		Transport: "linked",
		JID:       chatID,
		SenderID:  senderID,
		Content:   content,
		Media:     media,
	}
	// device groups carry a marked chat identifier
	if strings.HasSuffix(chatID, "@g.us") {
		inbound.IsGroup = true
		inbound.GroupID = chatID
	}
	if !c.bus.PublishInbound(inbound) {
		slog.Warn("inbound bus full, dropping linked message", "jid", chatID)
	}
}
