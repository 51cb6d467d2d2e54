// Package sessiontest provides an in-memory protocol client for tests.
package sessiontest

import (
	"context"
	"sync"
	"time"

	"chipsend/internal/session"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	Phone string
	Text  string
	Corr  session.Correlation
}

// FakeClient is a scriptable session.Client.
//
// By default Initialize walks the happy path to READY. Set InitErr to fail
// authentication, SendFunc/DeliveryFunc to script dispatch outcomes, or
// AutoReady=false to drive status by hand via EmitStatus/EmitQR.
type FakeClient struct {
	AutoReady    bool
	InitErr      error
	SendFunc     func(phone, text string, corr session.Correlation) (session.SendResult, error)
	DeliveryFunc func(messageID string) error

	mu        sync.Mutex
	events    chan session.ClientEvent
	closed    bool
	sent      []SentMessage
	cooldowns []time.Duration
}

func New() *FakeClient {
	return &FakeClient{
		AutoReady: true,
		events:    make(chan session.ClientEvent, 32),
	}
}

func (f *FakeClient) Events() <-chan session.ClientEvent { return f.events }

func (f *FakeClient) Initialize(ctx context.Context) error {
	if f.InitErr != nil {
		return f.InitErr
	}
	if f.AutoReady {
		f.EmitStatus(session.StatusAuthenticating)
		f.EmitStatus(session.StatusSyncing)
		f.EmitStatus(session.StatusReady)
	}
	return nil
}

func (f *FakeClient) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *FakeClient) EmitStatus(st session.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- session.ClientEvent{Kind: session.EventStatus, Status: st}
}

func (f *FakeClient) EmitQR(qr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- session.ClientEvent{Kind: session.EventQR, QR: qr}
}

func (f *FakeClient) SendMessage(ctx context.Context, phone, text string, corr session.Correlation) (session.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, SentMessage{Phone: phone, Text: text, Corr: corr})
	f.mu.Unlock()
	if f.SendFunc != nil {
		return f.SendFunc(phone, text, corr)
	}
	return session.SendResult{MessageID: "srv-" + corr.MessageID, JID: phone + "@fake"}, nil
}

func (f *FakeClient) WaitForDelivery(ctx context.Context, messageID string, timeout time.Duration) error {
	if f.DeliveryFunc != nil {
		return f.DeliveryFunc(messageID)
	}
	return nil
}

func (f *FakeClient) EnterCooldown(d time.Duration, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns = append(f.cooldowns, d)
}

// Sent returns a copy of recorded sends.
func (f *FakeClient) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// Cooldowns returns durations passed to EnterCooldown.
func (f *FakeClient) Cooldowns() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.cooldowns...)
}
