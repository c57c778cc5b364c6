// Package telegram connects to the Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tidewaterlabs/moobot/internal/bus"
	"github.com/tidewaterlabs/moobot/internal/config"
)

// mediaMaxBytes is the Bot API download cap.
const mediaMaxBytes int64 = 20 * 1024 * 1024

// Channel is the Telegram transport.
type Channel struct {
	bot        *telego.Bot
	cfg        config.TelegramConfig
	bus        *bus.MessageBus
	uploadsDir string
	ownerID    int64

	running    bool
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds the transport. uploadsDir receives downloaded inbound media.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, uploadsDir string, ownerID int64) (*Channel, error) {
	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		bot:        bot,
		cfg:        cfg,
		bus:        msgBus,
		uploadsDir: uploadsDir,
		ownerID:    ownerID,
	}, nil
}

func (c *Channel) Name() string    { return "telegram" }
func (c *Channel) IsRunning() bool { return c.running }

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}
	c.running = true
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the receive loop.
func (c *Channel) Stop(ctx context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	c.running = false
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}
	if !c.senderAllowed(msg.From) {
		slog.Debug("telegram: sender not allowed", "sender", senderID)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	isGroup := msg.Chat.Type == telego.ChatTypeGroup || msg.Chat.Type == telego.ChatTypeSupergroup

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	media := c.downloadInbound(ctx, msg)
	if content == "" && len(media) == 0 {
		return
	}

	inbound := bus.InboundMessage{
		Transport: "telegram",
		JID:       chatID,
		SenderID:  senderID,
		Content:   content,
		Media:     media,
		IsGroup:   isGroup,
	}
	if isGroup {
		inbound.GroupID = chatID
	}
	if !c.bus.PublishInbound(inbound) {
		// bus full: tell the user instead of silently dropping
		c.sendBusy(ctx, msg.Chat.ID)
	}
}

// senderAllowed checks the allow list and the owner id. An empty allow
// list with no owner accepts everyone.
func (c *Channel) senderAllowed(from *telego.User) bool {
	if from == nil {
		return false
	}
	if c.ownerID != 0 && from.ID == c.ownerID {
		return true
	}
	if len(c.cfg.AllowFrom) == 0 {
		return c.ownerID == 0
	}
	id := strconv.FormatInt(from.ID, 10)
	for _, allowed := range c.cfg.AllowFrom {
		if allowed == id || (from.Username != "" && (allowed == from.Username || allowed == "@"+from.Username)) {
			return true
		}
	}
	return false
}

func (c *Channel) sendBusy(ctx context.Context, chatID int64) {
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), "I'm busy with earlier messages, give me a moment."))
	if err != nil {
		slog.Warn("telegram: busy notice failed", "error", err)
	}
}

// downloadInbound saves photo and voice attachments into the uploads dir
// and returns their local paths.
func (c *Channel) downloadInbound(ctx context.Context, msg *telego.Message) []string {
	var paths []string
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1] // highest resolution last
		if p, err := c.download(ctx, photo.FileID); err != nil {
			slog.Warn("telegram: photo download failed", "error", err)
		} else {
			paths = append(paths, p)
		}
	}
	if msg.Voice != nil {
		if p, err := c.download(ctx, msg.Voice.FileID); err != nil {
			slog.Warn("telegram: voice download failed", "error", err)
		} else {
			paths = append(paths, p)
		}
	}
	if msg.Document != nil {
		if p, err := c.download(ctx, msg.Document.FileID); err != nil {
			slog.Warn("telegram: document download failed", "error", err)
		} else {
			paths = append(paths, p)
		}
	}
	return paths
}

func (c *Channel) download(ctx context.Context, fileID string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for %s", fileID)
	}
	if int64(file.FileSize) > mediaMaxBytes {
		return "", fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.BotToken, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}
	if err := os.MkdirAll(c.uploadsDir, 0o755); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(c.uploadsDir, "tg-*"+ext)
	if err != nil {
		return "", err
	}
	defer out.Close()
	written, err := io.Copy(out, io.LimitReader(resp.Body, mediaMaxBytes+1))
	if err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > mediaMaxBytes {
		os.Remove(out.Name())
		return "", fmt.Errorf("file exceeds max size")
	}
	return out.Name(), nil
}

// Send delivers text and media. Voice attachments go out as voice notes.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.JID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram jid %q is not numeric: %w", msg.JID, err)
	}
	id := tu.ID(chatID)

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, m := range msg.Media {
		f, err := os.Open(m.Path)
		if err != nil {
			return fmt.Errorf("open media %s: %w", m.Path, err)
		}
		if m.Voice {
			_, err = c.bot.SendVoice(sendCtx, tu.Voice(id, tu.File(f)))
		} else {
			photo := tu.Photo(id, tu.File(f))
			photo.Caption = m.Caption
			_, err = c.bot.SendPhoto(sendCtx, photo)
		}
		f.Close()
		if err != nil {
			return fmt.Errorf("send media: %w", err)
		}
	}
	if msg.Content != "" {
		if _, err := c.bot.SendMessage(sendCtx, tu.Message(id, msg.Content)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
