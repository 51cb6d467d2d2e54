package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chipsend/internal/eventbus"
	"chipsend/internal/session"
	"chipsend/internal/session/sessiontest"
	logx "chipsend/pkg/logx"
)

type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*sessiontest.FakeClient
	tweak   func(*sessiontest.FakeClient)
}

func newFakeFactory(tweak func(*sessiontest.FakeClient)) *fakeFactory {
	return &fakeFactory{clients: map[string]*sessiontest.FakeClient{}, tweak: tweak}
}

func (f *fakeFactory) make(id, dir string, log logx.Logger) (session.Client, error) {
	c := sessiontest.New()
	if f.tweak != nil {
		f.tweak(c)
	}
	f.mu.Lock()
	f.clients[id] = c
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) client(id string) *sessiontest.FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[id]
}

func newTestRegistry(t *testing.T, tweak func(*sessiontest.FakeClient), qrTTL time.Duration) (*session.Registry, *fakeFactory, eventbus.Bus) {
	t.Helper()
	f := newFakeFactory(tweak)
	bus := eventbus.New()
	reg, err := session.NewRegistry(session.RegistryConfig{
		Dir:     t.TempDir(),
		Driver:  "fake",
		Factory: f.make,
		Bus:     bus,
		Log:     logx.Nop(),
		QRTTL:   qrTTL,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, f, bus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartIdempotentAndOrdered(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil, 0)

	a, err := reg.Start("chip-a")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	b, err := reg.Start("chip-b")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	again, err := reg.Start("chip-a")
	if err != nil {
		t.Fatalf("Start existing: %v", err)
	}
	if again != a {
		t.Fatal("Start on existing id must return the same handle")
	}
	if a.DisplayOrder() >= b.DisplayOrder() {
		t.Fatalf("display order not increasing: %d vs %d", a.DisplayOrder(), b.DisplayOrder())
	}
	if got := len(reg.List()); got != 2 {
		t.Fatalf("expected 2 chips, got %d", got)
	}
}

func TestWaitForReady(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil, 0)
	if _, err := reg.Start("chip-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := reg.WaitForReady(context.Background(), 1, 2*time.Second); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	if got := len(reg.ListReady()); got != 1 {
		t.Fatalf("expected 1 ready chip, got %d", got)
	}
}

func TestWaitForReadyTimeout(t *testing.T) {
	reg, _, _ := newTestRegistry(t, func(c *sessiontest.FakeClient) { c.AutoReady = false }, 0)
	if _, err := reg.Start("chip-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := reg.WaitForReady(context.Background(), 1, 50*time.Millisecond)
	if !errors.Is(err, session.ErrNoReadySessions) {
		t.Fatalf("expected ErrNoReadySessions, got %v", err)
	}
}

func TestQRExpiryRemovesChipOnce(t *testing.T) {
	reg, f, bus := newTestRegistry(t, func(c *sessiontest.FakeClient) { c.AutoReady = false }, 120*time.Millisecond)
	events, unsub := bus.Subscribe(64)
	defer unsub()

	if _, err := reg.Start("chip-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.client("chip-a").EmitQR("qr-1")

	waitFor(t, 2*time.Second, func() bool {
		_, ok := reg.Get("chip-a")
		return !ok
	})

	deleted := 0
	drain := time.After(200 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeSessionDeleted {
				deleted++
			}
		case <-drain:
			done = true
		}
	}
	if deleted != 1 {
		t.Fatalf("expected exactly one session_deleted event, got %d", deleted)
	}
}

func TestQRRotationDoesNotExtendTimer(t *testing.T) {
	reg, f, _ := newTestRegistry(t, func(c *sessiontest.FakeClient) { c.AutoReady = false }, 200*time.Millisecond)
	if _, err := reg.Start("chip-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.client("chip-a").EmitQR("qr-1")
	time.Sleep(150 * time.Millisecond)
	f.client("chip-a").EmitQR("qr-2") // rotation must not re-arm

	// Original timer fires ~200ms after the FIRST code. If rotation had
	// re-armed, removal would not happen before ~350ms.
	waitFor(t, 150*time.Millisecond, func() bool {
		_, ok := reg.Get("chip-a")
		return !ok
	})
}

func TestConnectCancelsQRTimer(t *testing.T) {
	reg, f, _ := newTestRegistry(t, func(c *sessiontest.FakeClient) { c.AutoReady = false }, 80*time.Millisecond)
	if _, err := reg.Start("chip-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c := f.client("chip-a")
	c.EmitQR("qr-1")
	c.EmitStatus(session.StatusAuthenticating)
	c.EmitStatus(session.StatusSyncing)
	c.EmitStatus(session.StatusReady)

	time.Sleep(200 * time.Millisecond)
	if _, ok := reg.Get("chip-a"); !ok {
		t.Fatal("chip was removed despite reaching a connected status")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	reg, f, _ := newTestRegistry(t, nil, 0)
	if _, err := reg.Start("chip-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := reg.WaitForReady(context.Background(), 1, 2*time.Second); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	f.client("chip-a").EmitStatus(session.StatusSyncing) // READY -> SYNCING is not a thing
	time.Sleep(50 * time.Millisecond)
	chip, _ := reg.Get("chip-a")
	if got := chip.Status(); got != session.StatusReady {
		t.Fatalf("status changed on invalid transition: %v", got)
	}
}

func TestRemoveDeletesCredentials(t *testing.T) {
	reg, _, bus := newTestRegistry(t, nil, 0)
	events, unsub := bus.Subscribe(64)
	defer unsub()

	chip, err := reg.Start("chip-a")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	dir := chip.Dir()
	if err := reg.Remove(context.Background(), "chip-a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("credential dir still present: %v", err)
	}
	if _, ok := reg.Get("chip-a"); ok {
		t.Fatal("chip still tracked after Remove")
	}

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeSessionDeleted {
				return
			}
		case <-timeout:
			t.Fatal("no session_deleted event")
		}
	}
}

func TestReconnectResetsBrokenChip(t *testing.T) {
	reg, f, _ := newTestRegistry(t, func(c *sessiontest.FakeClient) { c.AutoReady = false }, 150*time.Millisecond)
	chip, err := reg.Start("chip-a")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First pairing spends the one-shot expiry; reaching READY cancels the
	// timer but the spent flag stays.
	c := f.client("chip-a")
	c.EmitQR("qr-1")
	c.EmitStatus(session.StatusAuthenticating)
	c.EmitStatus(session.StatusSyncing)
	c.EmitStatus(session.StatusReady)
	c.EmitStatus(session.StatusError)
	waitFor(t, time.Second, func() bool { return chip.Status() == session.StatusError })

	marker := filepath.Join(chip.Dir(), "session.db")
	if err := os.WriteFile(marker, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := reg.Reconnect(context.Background(), "chip-a"); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if got := chip.Status(); got != session.StatusLoading {
		t.Fatalf("status after reconnect = %v, want LOADING", got)
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale credentials survived reconnect: %v", err)
	}
	if _, err := os.Stat(filepath.Join(chip.Dir(), "creds.json")); err != nil {
		t.Fatalf("credential stub not recreated: %v", err)
	}

	// The fresh client's first unscanned code must arm a fresh expiry timer;
	// if the spent flag survived the reset, the chip would never be removed.
	f.client("chip-a").EmitQR("qr-2")
	waitFor(t, 2*time.Second, func() bool {
		_, ok := reg.Get("chip-a")
		return !ok
	})
}

func TestWaitUntilReadyOutlivesCooldownExtension(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil, 0)
	chip, err := reg.Start("chip-a")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := reg.WaitForReady(context.Background(), 1, 2*time.Second); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}

	chip.EnterCooldown(80*time.Millisecond, "pace")
	go func() {
		// Extend while the waiter sleeps, forcing a second timer iteration.
		time.Sleep(20 * time.Millisecond)
		chip.EnterCooldown(120*time.Millisecond, "pace")
	}()

	start := time.Now()
	if err := chip.WaitUntilReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 130*time.Millisecond {
		t.Fatalf("woke before the extended cooldown elapsed: %v", elapsed)
	}
	if !chip.Usable() {
		t.Fatal("chip not usable after cooldown")
	}
}

func TestRestoreAllQuarantinesInvalid(t *testing.T) {
	f := newFakeFactory(nil)
	root := t.TempDir()

	// Valid session left behind by a previous run.
	good := filepath.Join(root, "chip-good")
	if err := os.MkdirAll(good, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(good, "creds.json"), []byte(`{"id":"chip-good","driver":"fake"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	// Corrupt credential document.
	bad := filepath.Join(root, "chip-bad")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bad, "creds.json"), []byte("{oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	// No credential document at all.
	empty := filepath.Join(root, "chip-empty")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatal(err)
	}

	reg, err := session.NewRegistry(session.RegistryConfig{
		Dir: root, Driver: "fake", Factory: f.make, Log: logx.Nop(),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	restored, err := reg.RestoreAll()
	if err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}
	if len(restored) != 1 || restored[0] != "chip-good" {
		t.Fatalf("unexpected restored set: %v", restored)
	}
	if _, ok := reg.Get("chip-good"); !ok {
		t.Fatal("valid session not restored")
	}
	for _, gone := range []string{bad, empty} {
		if _, err := os.Stat(gone); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("invalid session %s not moved: %v", gone, err)
		}
	}
	qentries, err := os.ReadDir(filepath.Join(root, "quarantine"))
	if err != nil {
		t.Fatalf("quarantine dir: %v", err)
	}
	if len(qentries) != 2 {
		t.Fatalf("expected 2 quarantined sessions, got %d", len(qentries))
	}
}
