package session

import (
	"context"
	"errors"
	"time"

	logx "chipsend/pkg/logx"
)

// Correlation ties a campaign, contact and message attempt together across
// logs, events and persisted status. Generated fresh per contact, never reused.
type Correlation struct {
	CampaignID string `json:"campaignId"`
	ContactID  string `json:"contactId"`
	MessageID  string `json:"messageId"`
}

// SendResult is the provider acknowledgment of a send request.
type SendResult struct {
	MessageID string // provider-assigned id; empty if the provider gives none
	JID       string // provider-side address the message was routed to
}

// ErrDeliveryUnsupported is returned by drivers that have no delivery
// receipts. The dispatcher treats it like an ack timeout (soft success).
var ErrDeliveryUnsupported = errors.New("delivery receipts unsupported")

// ClientEventKind discriminates ClientEvent payloads.
type ClientEventKind int

const (
	EventStatus ClientEventKind = iota
	EventQR
)

// ClientEvent is a notification from the underlying protocol client.
type ClientEvent struct {
	Kind   ClientEventKind
	Status Status // EventStatus
	QR     string // EventQR: fresh pairing code
}

// Client is the capability set the engine needs from a protocol client.
// Connecting, pairing and wire transport live behind this interface;
// the engine never sees protocol bytes.
//
// Events() must be closed by the client when it shuts down.
type Client interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Events() <-chan ClientEvent
	SendMessage(ctx context.Context, phone, text string, corr Correlation) (SendResult, error)
	// WaitForDelivery blocks until the provider confirms delivery of
	// messageID or timeout elapses (context.DeadlineExceeded), or returns
	// ErrDeliveryUnsupported immediately.
	WaitForDelivery(ctx context.Context, messageID string, timeout time.Duration) error
}

// ReadyWaiter is an optional client capability: block until the underlying
// connection is actually usable (post-reconnect catch-up etc).
type ReadyWaiter interface {
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
}

// CooldownEnterer is an optional client capability: mark the account busy
// provider-side for the given duration.
type CooldownEnterer interface {
	EnterCooldown(d time.Duration, reason string)
}

// ClientFactory builds a protocol client for one chip. dir is the chip's
// private credential directory.
type ClientFactory func(id, dir string, log logx.Logger) (Client, error)
