package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidewaterlabs/moobot/internal/agent"
	"github.com/tidewaterlabs/moobot/internal/bus"
	"github.com/tidewaterlabs/moobot/internal/channels"
	"github.com/tidewaterlabs/moobot/internal/chatlog"
	"github.com/tidewaterlabs/moobot/internal/providers"
)

// chatQueueDepth bounds the per-chat backlog. A chat that outruns its
// worker gets a busy notice instead of unbounded buffering.
const chatQueueDepth = 8

// historyWindow is how many prior log entries seed each turn.
const historyWindow = 20

// consumeInbound drains the inbound bus. Each chat gets its own worker so
// turns within a chat are strictly serialized while separate chats proceed
// concurrently.
func (rt *runtime) consumeInbound(ctx context.Context) {
	slog.Info("inbound consumer started")
	limiter := channels.NewChatLimiter()

	var mu sync.Mutex
	queues := make(map[string]chan bus.InboundMessage)

	for {
		msg, ok := rt.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if !limiter.Allow(msg.JID) {
			slog.Warn("rate limit hit, dropping message", "jid", msg.JID)
			continue
		}

		mu.Lock()
		q, found := queues[msg.JID]
		if !found {
			q = make(chan bus.InboundMessage, chatQueueDepth)
			queues[msg.JID] = q
			go rt.chatWorker(ctx, q)
		}
		mu.Unlock()

		select {
		case q <- msg:
		default:
			slog.Warn("chat queue full", "jid", msg.JID)
			if err := rt.manager.SendText(msg.JID, "I'm still working through your earlier messages, give me a moment."); err != nil {
				slog.Warn("busy notice failed", "jid", msg.JID, "error", err)
			}
		}
	}
}

func (rt *runtime) chatWorker(ctx context.Context, q <-chan bus.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q:
			rt.handleTurn(ctx, msg)
		}
	}
}

// handleTurn runs one full inbound turn: media transcription, history load,
// agent loop, chat log append, and reply delivery.
func (rt *runtime) handleTurn(ctx context.Context, msg bus.InboundMessage) {
	rt.tide.Touch()

	userText := rt.resolveMedia(ctx, msg)
	if strings.TrimSpace(userText) == "" {
		return
	}

	history, err := rt.loadHistory(msg.JID, msg.IsGroup)
	if err != nil {
		slog.Warn("history load failed, running without", "jid", msg.JID, "error", err)
	}

	reply, err := rt.loop.Run(ctx, agent.TurnInput{
		UserText: userText,
		History:  history,
		Ctx:      rt.agentContext(msg.JID, msg.IsGroup),
	})
	if err != nil {
		slog.Error("turn failed", "jid", msg.JID, "error", err)
		reply = "Sorry, something went wrong on my end. Try again in a moment."
	}

	rt.appendLog(msg, userText, reply)

	if reply == "" {
		return
	}
	rt.bus.PublishOutbound(bus.OutboundMessage{
		Transport: msg.Transport,
		JID:       msg.JID,
		Content:   reply,
	})
	rt.tide.Touch()
}

// resolveMedia folds attachments into the turn text. Voice notes are
// transcribed; images are described through the vision provider.
func (rt *runtime) resolveMedia(ctx context.Context, msg bus.InboundMessage) string {
	text := msg.Content
	for _, path := range msg.Media {
		if isAudioFile(path) {
			transcript, err := rt.client.Transcribe(ctx, path)
			if err != nil {
				slog.Warn("transcription failed", "path", path, "error", err)
				continue
			}
			if text == "" {
				text = transcript
			} else {
				text += "\n[voice note] " + transcript
			}
			continue
		}
		desc, err := rt.client.DescribeImage(ctx, path, "Describe this image briefly.", "")
		if err != nil {
			slog.Warn("image description failed", "path", path, "error", err)
			continue
		}
		text += fmt.Sprintf("\n[attached image: %s]", desc)
	}
	return text
}

func isAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga", ".opus", ".mp3", ".wav", ".m4a":
		return true
	}
	return false
}

// loadHistory converts recent chat-log entries into model messages.
func (rt *runtime) loadHistory(jid string, isGroup bool) ([]providers.Message, error) {
	var entries []chatlog.Entry
	var err error
	if isGroup {
		entries, err = rt.log.LastGroup(jid, historyWindow)
	} else {
		entries, err = rt.log.LastPrivate(jid, historyWindow)
	}
	if err != nil {
		return nil, err
	}
	msgs := make([]providers.Message, 0, len(entries))
	for _, e := range entries {
		content := e.Content
		if isGroup && e.Role == "user" && e.Sender != "" {
			content = e.Sender + ": " + content
		}
		msgs = append(msgs, providers.Message{Role: e.Role, Content: content})
	}
	return msgs, nil
}

// appendLog writes the user message and the reply to the chat log.
func (rt *runtime) appendLog(msg bus.InboundMessage, userText, reply string) {
	now := time.Now()
	userEntry := chatlog.Entry{
		Timestamp: now,
		JID:       msg.JID,
		Sender:    msg.SenderID,
		Role:      "user",
		Content:   userText,
	}
	botEntry := chatlog.Entry{
		Timestamp: now,
		JID:       msg.JID,
		Role:      "assistant",
		Content:   reply,
	}

	if msg.IsGroup {
		if err := rt.log.AppendGroup(msg.GroupID, userEntry); err != nil {
			slog.Warn("chat log append failed", "jid", msg.JID, "error", err)
		}
		if reply != "" {
			if err := rt.log.AppendGroup(msg.GroupID, botEntry); err != nil {
				slog.Warn("chat log append failed", "jid", msg.JID, "error", err)
			}
		}
		return
	}
	if err := rt.log.AppendPrivate(userEntry); err != nil {
		slog.Warn("chat log append failed", "jid", msg.JID, "error", err)
	}
	if reply != "" {
		if err := rt.log.AppendPrivate(botEntry); err != nil {
			slog.Warn("chat log append failed", "jid", msg.JID, "error", err)
		}
	}
}
