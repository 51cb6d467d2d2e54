package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"chipsend/internal/eventbus"
	"chipsend/internal/retry"
	"chipsend/internal/supervisor"
	logx "chipsend/pkg/logx"
)

// ErrNoReadySessions is returned by WaitForReady on timeout.
var ErrNoReadySessions = errors.New("no ready sessions")

// ErrSessionTimeout is returned when a per-chip bounded wait expires.
var ErrSessionTimeout = errors.New("session wait timed out")

// DefaultQRTTL is how long an unscanned pairing code stays valid before the
// session is force-removed.
const DefaultQRTTL = 60 * time.Second

type RegistryConfig struct {
	Dir     string // root of per-chip credential directories
	Driver  string // stamped into freshly created credential documents
	Factory ClientFactory
	Bus     eventbus.Bus
	Log     logx.Logger
	Sup     *supervisor.Supervisor
	QRTTL   time.Duration // 0 means DefaultQRTTL
}

// Registry owns the chip pool: creation, status tracking, QR auto-expiry,
// restoration from disk and graceful shutdown. Status callbacks arrive
// concurrently from every chip's client; the registry serializes them.
type Registry struct {
	dir     string
	driver  string
	factory ClientFactory
	bus     eventbus.Bus
	log     logx.Logger
	sup     *supervisor.Supervisor
	qrTTL   time.Duration

	mu        sync.Mutex
	chips     map[string]*Chip
	nextOrder int

	// notifyCh is closed and replaced on every status change; waiters grab
	// the current channel and block on it. This is the no-busy-poll backbone
	// of WaitForReady and Chip.WaitUntilReady.
	notifyMu sync.Mutex
	notifyCh chan struct{}
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Dir == "" {
		return nil, errors.New("session dir is required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("client factory is required")
	}
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = DefaultQRTTL
	}
	if cfg.Sup == nil {
		cfg.Sup = supervisor.New(context.Background(), supervisor.WithLogger(cfg.Log))
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Registry{
		dir:      cfg.Dir,
		driver:   cfg.Driver,
		factory:  cfg.Factory,
		bus:      cfg.Bus,
		log:      cfg.Log,
		sup:      cfg.Sup,
		qrTTL:    cfg.QRTTL,
		chips:    map[string]*Chip{},
		notifyCh: make(chan struct{}),
	}, nil
}

// Start creates the chip if absent (idempotent on an existing id), assigns
// the next display order and begins asynchronous authentication. It returns
// immediately; authentication failures are logged, not returned.
func (r *Registry) Start(id string) (*Chip, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("chip id is required")
	}

	r.mu.Lock()
	if c, ok := r.chips[id]; ok {
		r.mu.Unlock()
		return c, nil
	}
	dir := filepath.Join(r.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := r.ensureCreds(id, dir); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	client, err := r.factory(id, dir, r.log.With(logx.String("chip", id)))
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("client for chip %s: %w", id, err)
	}
	chip := &Chip{
		id:           id,
		displayOrder: r.nextOrder,
		dir:          dir,
		reg:          r,
		status:       StatusLoading,
		client:       client,
	}
	r.nextOrder++
	r.chips[id] = chip
	r.mu.Unlock()

	r.publishStatus(chip)
	r.launch(chip, client)
	return chip, nil
}

func (r *Registry) launch(chip *Chip, client Client) {
	r.sup.Go("session-pump-"+chip.id, func(ctx context.Context) {
		r.pump(ctx, chip, client)
	})
	r.sup.Go("session-init-"+chip.id, func(ctx context.Context) {
		if err := client.Initialize(ctx); err != nil {
			r.log.Warn("chip authentication failed", logx.String("chip", chip.id), logx.Err(err))
			r.applyStatus(chip, StatusError)
		}
	})
}

// pump consumes one client's event stream until it closes.
func (r *Registry) pump(ctx context.Context, chip *Chip, client Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case EventStatus:
				r.applyStatus(chip, ev.Status)
			case EventQR:
				r.handleQR(chip, ev.QR)
			}
		}
	}
}

// Get returns the chip for id, if tracked.
func (r *Registry) Get(id string) (*Chip, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chips[id]
	return c, ok
}

// List returns all tracked chips in display order.
func (r *Registry) List() []*Chip {
	r.mu.Lock()
	out := make([]*Chip, 0, len(r.chips))
	for _, c := range r.chips {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].displayOrder < out[j].displayOrder })
	return out
}

// ListReady returns chips whose status denotes a usable connection,
// in display order. Cooldown is not considered here; WaitUntilReady is.
func (r *Registry) ListReady() []*Chip {
	all := r.List()
	out := all[:0]
	for _, c := range all {
		if c.Status().Usable() {
			out = append(out, c)
		}
	}
	return out
}

// WaitForReady suspends the caller until at least minReady chips are usable
// or timeout elapses. It re-evaluates on every status change notification.
func (r *Registry) WaitForReady(ctx context.Context, minReady int, timeout time.Duration) error {
	if minReady < 1 {
		minReady = 1
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		notify := r.notifySnapshot()
		if len(r.ListReady()) >= minReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: want %d ready within %v", ErrNoReadySessions, minReady, timeout)
		case <-notify:
		}
	}
}

// Remove stops the chip's connection and durably deletes its credential
// directory. Deletion retries with backoff; if it still fails, the directory
// is renamed out of the active tree so the next RestoreAll cannot mistake a
// half-deleted session for a valid one.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	chip, ok := r.chips[id]
	if ok {
		delete(r.chips, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("chip %s not found", id)
	}

	chip.mu.Lock()
	if chip.qrTimer != nil {
		chip.qrTimer.Stop()
		chip.qrTimer = nil
	}
	client := chip.client
	dir := chip.dir
	chip.mu.Unlock()

	if err := client.Shutdown(ctx); err != nil {
		r.log.Warn("chip shutdown failed", logx.String("chip", id), logx.Err(err))
	}

	err := retry.Do(ctx, retry.Policy{
		Attempts: 3,
		Base:     300 * time.Millisecond,
		Fallback: func(last error) error {
			dst := fmt.Sprintf("%s.removed-%d", dir, time.Now().UnixMilli())
			r.log.Warn("credential delete failed; renaming out of the way",
				logx.String("chip", id), logx.String("dst", dst), logx.Err(last))
			return os.Rename(dir, dst)
		},
	}, func() error {
		return os.RemoveAll(dir)
	})
	if err != nil {
		r.log.Error("credential cleanup failed", logx.String("chip", id), logx.Err(err))
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeSessionDeleted,
			Data: eventbus.SessionDeleted{ChipID: id},
		})
	}
	r.notifyWaiters()
	return err
}

// Reconnect recovers a broken chip. If the prior state was broken, stored
// credentials are cleared first (after the old client released its lock) so
// a clean new pairing can happen.
func (r *Registry) Reconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	chip, ok := r.chips[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("chip %s not found", id)
	}

	chip.mu.Lock()
	prior := chip.status
	old := chip.client
	if chip.qrTimer != nil {
		chip.qrTimer.Stop()
		chip.qrTimer = nil
	}
	chip.qrArmed = false
	chip.mu.Unlock()

	if err := old.Shutdown(ctx); err != nil {
		r.log.Warn("chip shutdown failed", logx.String("chip", id), logx.Err(err))
	}

	if prior.Broken() {
		err := retry.Do(ctx, retry.Policy{Attempts: 3, Base: 300 * time.Millisecond}, func() error {
			if err := os.RemoveAll(chip.dir); err != nil {
				return err
			}
			return os.MkdirAll(chip.dir, 0o755)
		})
		if err != nil {
			return fmt.Errorf("clearing credentials for %s: %w", id, err)
		}
		if err := r.ensureCreds(id, chip.dir); err != nil {
			return err
		}
	}

	client, err := r.factory(id, chip.dir, r.log.With(logx.String("chip", id)))
	if err != nil {
		return fmt.Errorf("client for chip %s: %w", id, err)
	}

	chip.mu.Lock()
	chip.client = client
	chip.status = StatusLoading // explicit reset, not a normal transition
	chip.cooldownUntil = time.Time{}
	chip.mu.Unlock()

	r.publishStatus(chip)
	r.notifyWaiters()
	r.launch(chip, client)
	return nil
}

// Shutdown stops every chip's connection without touching credentials.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, c := range r.List() {
		if err := c.currentClient().Shutdown(ctx); err != nil {
			r.log.Warn("chip shutdown failed", logx.String("chip", c.id), logx.Err(err))
		}
	}
}

// ---- status plumbing ----

func (r *Registry) applyStatus(chip *Chip, to Status) {
	chip.mu.Lock()
	from := chip.status
	if !canTransition(from, to) {
		chip.mu.Unlock()
		r.log.Warn("invalid status transition rejected",
			logx.String("chip", chip.id),
			logx.String("from", from.String()),
			logx.String("to", to.String()),
		)
		return
	}
	chip.status = to
	if to.Connected() && chip.qrTimer != nil {
		chip.qrTimer.Stop()
		chip.qrTimer = nil
	}
	chip.mu.Unlock()

	if from != to {
		r.log.Info("chip status",
			logx.String("chip", chip.id),
			logx.String("from", from.String()),
			logx.String("to", to.String()),
		)
		r.publishStatus(chip)
	}
	r.notifyWaiters()
}

func (r *Registry) handleQR(chip *Chip, qr string) {
	r.applyStatus(chip, StatusQR)

	chip.mu.Lock()
	chip.qrTime = time.Now()
	qrTime := chip.qrTime
	// Only the FIRST unscanned code arms the expiry timer; rotations within
	// the window do not extend a session's grace period.
	if !chip.qrArmed && !chip.status.Connected() {
		chip.qrArmed = true
		chip.qrTimer = time.AfterFunc(r.qrTTL, func() { r.expireQR(chip.id) })
	}
	chip.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeQRCode,
			Data: eventbus.QRCode{ChipID: chip.id, QR: qr, QRTimestamp: qrTime},
		})
	}
}

func (r *Registry) expireQR(id string) {
	chip, ok := r.Get(id)
	if !ok || chip.Status().Connected() {
		return
	}
	r.log.Warn("pairing code expired; removing chip", logx.String("chip", id))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Remove(ctx, id); err != nil {
		r.log.Error("expired chip removal failed", logx.String("chip", id), logx.Err(err))
	}
}

func (r *Registry) publishStatus(chip *Chip) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypeSessionChange,
		Data: eventbus.SessionChange{ChipID: chip.id, Status: chip.Status().String()},
	})
}

func (r *Registry) notifySnapshot() <-chan struct{} {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	return r.notifyCh
}

func (r *Registry) notifyWaiters() {
	r.notifyMu.Lock()
	ch := r.notifyCh
	r.notifyCh = make(chan struct{})
	r.notifyMu.Unlock()
	close(ch)
}
