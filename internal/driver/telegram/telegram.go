// Package telegram is a chip driver backed by Telegram bot accounts.
//
// Each chip directory holds a creds.json whose token field is a bot token;
// recipients are numeric chat ids. Telegram exposes no per-message delivery
// receipts to bots, so every send resolves as a soft success.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"chipsend/internal/session"
	logx "chipsend/pkg/logx"
)

// ErrNoToken means the chip directory has no bot token yet. The operator
// must edit creds.json; Telegram has no pairing-code flow.
var ErrNoToken = errors.New("telegram: no bot token in creds.json")

type client struct {
	id  string
	dir string
	log logx.Logger

	events chan session.ClientEvent
	once   sync.Once

	mu  sync.Mutex
	bot *tele.Bot
}

// Factory returns the registry factory for Telegram-backed chips.
func Factory() session.ClientFactory {
	return func(id, dir string, log logx.Logger) (session.Client, error) {
		return &client{
			id:     id,
			dir:    dir,
			log:    log.With(logx.String("driver", "telegram"), logx.String("chip", id)),
			events: make(chan session.ClientEvent, 16),
		}, nil
	}
}

func (c *client) Initialize(ctx context.Context) error {
	token, err := readToken(c.dir)
	if err != nil {
		return err
	}

	c.emit(session.StatusAuthenticating)
	// NewBot validates the token against getMe.
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("telegram: bot init: %w", err)
	}

	c.mu.Lock()
	c.bot = b
	c.mu.Unlock()

	c.emit(session.StatusSyncing)
	c.emit(session.StatusReady)
	c.log.Info("telegram bot authenticated", logx.String("bot", b.Me.Username))
	return nil
}

func (c *client) Shutdown(ctx context.Context) error {
	c.once.Do(func() { close(c.events) })
	return nil
}

func (c *client) Events() <-chan session.ClientEvent { return c.events }

func (c *client) SendMessage(ctx context.Context, phone, text string, corr session.Correlation) (session.SendResult, error) {
	c.mu.Lock()
	b := c.bot
	c.mu.Unlock()
	if b == nil {
		return session.SendResult{}, errors.New("telegram: client not initialized")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(phone), 10, 64)
	if err != nil {
		return session.SendResult{}, fmt.Errorf("telegram: recipient %q is not a chat id: %w", phone, err)
	}

	msg, err := b.Send(tele.ChatID(chatID), text)
	if err != nil {
		return session.SendResult{}, fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return session.SendResult{
		MessageID: strconv.Itoa(msg.ID),
		JID:       fmt.Sprintf("%d@telegram", chatID),
	}, nil
}

func (c *client) WaitForDelivery(ctx context.Context, messageID string, timeout time.Duration) error {
	return session.ErrDeliveryUnsupported
}

func (c *client) emit(st session.Status) {
	select {
	case c.events <- session.ClientEvent{Kind: session.EventStatus, Status: st}:
	default:
		c.log.Warn("status event dropped", logx.String("status", st.String()))
	}
}

func readToken(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, "creds.json"))
	if err != nil {
		return "", err
	}
	var creds session.Credentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return "", err
	}
	if strings.TrimSpace(creds.Token) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(creds.Token), nil
}
