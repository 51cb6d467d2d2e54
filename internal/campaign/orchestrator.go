package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chipsend/internal/contacts"
	"chipsend/internal/dispatch"
	"chipsend/internal/eventbus"
	"chipsend/internal/pacing"
	"chipsend/internal/session"
	"chipsend/internal/storage"
	logx "chipsend/pkg/logx"
)

// ErrCampaignActive rejects a start request while another campaign still
// has unprocessed contacts.
var ErrCampaignActive = errors.New("a campaign is already active")

// Options wires the orchestrator's collaborators.
type Options struct {
	Docs       *storage.DocStore
	Messages   storage.Store // optional append-only outcome log
	Registry   *session.Registry
	Dispatcher *dispatch.Dispatcher
	Source     contacts.Source
	Bus        eventbus.Bus
	Log        logx.Logger

	// ReadyWait bounds the pre-campaign gate on at least one usable chip.
	ReadyWait time.Duration
	// BaseDelay supplies the typing model; per-campaign min/max override
	// its window.
	BaseDelay pacing.Config
	// Now is injectable for daily-stats rollover tests.
	Now func() time.Time
}

// StartOptions are the per-campaign knobs of a start request.
type StartOptions struct {
	// CampaignID resumes or supersedes an existing campaign; empty means a
	// fresh campaign with a generated id.
	CampaignID string
	DelayMin   time.Duration
	DelayMax   time.Duration
	DryRun     bool
}

// Orchestrator drives one campaign at a time through a sequential dispatch
// loop. Campaign state is mutated only by that loop; durability, not
// locking, is the correctness mechanism for crash recovery.
type Orchestrator struct {
	docs       *storage.DocStore
	msgs       storage.Store
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	source     contacts.Source
	bus        eventbus.Bus
	log        logx.Logger
	readyWait  time.Duration
	baseDelay  pacing.Config
	now        func() time.Time

	mu      sync.Mutex
	state   *State
	running atomic.Bool
	paused  atomic.Bool
}

// New loads any persisted campaign document and returns an orchestrator
// ready to Resume or Start.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Docs == nil {
		return nil, errors.New("campaign: doc store is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("campaign: dispatcher is required")
	}
	if opts.Source == nil {
		opts.Source = contacts.CSV{}
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.ReadyWait <= 0 {
		opts.ReadyWait = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		docs:       opts.Docs,
		msgs:       opts.Messages,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		source:     opts.Source,
		bus:        opts.Bus,
		log:        opts.Log.With(logx.String("component", "campaign")),
		readyWait:  opts.ReadyWait,
		baseDelay:  opts.BaseDelay,
		now:        opts.Now,
	}

	st := &State{}
	switch err := opts.Docs.Load(ctx, stateDoc, st); {
	case err == nil:
		o.state = st
	case errors.Is(err, storage.ErrNotFound):
		o.state = nil
	default:
		return nil, fmt.Errorf("campaign: loading state: %w", err)
	}
	return o, nil
}

// HasActiveCampaign reports whether a campaign with unprocessed contacts is
// on record. It is the single gate enforcing one campaign at a time.
func (o *Orchestrator) HasActiveCampaign() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.active()
}

// Snapshot returns a copy of the current campaign document, if any.
func (o *Orchestrator) Snapshot() (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return State{}, false
	}
	cp := *o.state
	cp.ProcessedRows = append([]int(nil), o.state.ProcessedRows...)
	cp.FailedRows = append([]FailedRow(nil), o.state.FailedRows...)
	cp.MessageStatus = make(map[string]MessageState, len(o.state.MessageStatus))
	for k, v := range o.state.MessageStatus {
		cp.MessageStatus[k] = v
	}
	return cp, true
}

// Pause asks the dispatch loop to stop before the next contact. In-flight
// sends run to completion; progress stays persisted and resumable.
func (o *Orchestrator) Pause() {
	o.paused.Store(true)
	o.log.Info("pause requested")
}

// Resume re-enters an interrupted campaign using the persisted config.
// It is a no-op when nothing is outstanding.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if !o.state.active() {
		o.mu.Unlock()
		return nil
	}
	id := o.state.CampaignID
	cfg := o.state.Config
	o.mu.Unlock()

	o.log.Info("resuming interrupted campaign", logx.String("campaign", id))
	p := cfg.Delay.Pacing()
	return o.Start(ctx, cfg.SourcePath, cfg.MessageTemplate, cfg.OriginalFilename, StartOptions{
		CampaignID: id,
		DelayMin:   p.Min,
		DelayMax:   p.Max,
	})
}

// Start runs the dispatch loop to completion (or pause/cancel). It blocks;
// callers wanting a background run launch it under their supervisor.
//
// Reusing the active campaign's id continues it (resume); any other id while
// a campaign is active is rejected. A differing id on an inactive record
// supersedes it and resets all progress.
func (o *Orchestrator) Start(ctx context.Context, sourcePath, template, originalName string, opts StartOptions) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrCampaignActive
	}
	defer o.running.Store(false)
	o.paused.Store(false)

	id := opts.CampaignID
	if id == "" {
		id = uuid.NewString()
	}

	o.mu.Lock()
	if o.state.active() && o.state.CampaignID != id {
		o.mu.Unlock()
		return ErrCampaignActive
	}
	fresh := o.state == nil || o.state.CampaignID != id
	if fresh {
		o.state = newState(id)
	}
	st := o.state
	st.Config = Config{
		MessageTemplate:  template,
		SourcePath:       sourcePath,
		OriginalFilename: originalName,
		Delay:            delayFromPacing(opts.DelayMin, opts.DelayMax),
	}
	delay := o.campaignDelay(st.Config.Delay)
	o.mu.Unlock()

	// A superseded record must not outlive the decision to replace it, even
	// if the contact load below fails.
	if fresh {
		o.persist(ctx)
	}

	log := o.log.With(logx.String("campaign", id))

	rows, err := o.source.Load(sourcePath)
	if err != nil {
		return fmt.Errorf("loading contacts: %w", err)
	}

	o.mu.Lock()
	st.TotalContacts = len(rows)
	pending := make([]contacts.Contact, 0, len(rows))
	for _, c := range rows {
		if !st.processed(c.Row) {
			pending = append(pending, c)
		}
	}
	o.mu.Unlock()
	o.persist(ctx)

	o.bus.Publish(eventbus.Event{Type: eventbus.TypeCampaignStarted, Data: eventbus.CampaignStarted{
		CampaignID:    id,
		TotalContacts: len(rows),
		Remaining:     len(pending),
	}})
	log.Info("campaign started", logx.Int("total", len(rows)), logx.Int("remaining", len(pending)))

	if len(pending) == 0 {
		o.finish(log, st)
		return nil
	}

	if o.registry != nil {
		if err := o.registry.WaitForReady(ctx, 1, o.readyWait); err != nil {
			log.Error("no usable session, campaign left resumable", logx.Err(err))
			return fmt.Errorf("campaign %s: %w", id, err)
		}
	}

	delayMin, delayMax := pacing.New(delay, nil).Window()

	for i, c := range pending {
		if o.paused.Load() {
			log.Info("campaign paused", logx.Int("processed", len(st.ProcessedRows)))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		corr := session.Correlation{
			CampaignID: id,
			ContactID:  fmt.Sprintf("row-%d", c.Row),
			MessageID:  uuid.NewString(),
		}
		o.publishMessage(corr, dispatch.StatusSending, c.Phone, "")

		began := o.now()
		out, err := o.dispatcher.Dispatch(ctx, dispatch.Request{
			Phone:       c.Phone,
			Template:    template,
			Variables:   c.Variables,
			Correlation: corr,
			Delay:       delay,
			DryRun:      opts.DryRun,
		})
		took := o.now().Sub(began)

		if err != nil {
			if ctx.Err() != nil {
				// Cancellation, not a contact failure; leave the row pending.
				return ctx.Err()
			}
			o.mu.Lock()
			st.markFailed(c.Row, err.Error())
			st.setMessage(corr.MessageID, MessageState{
				CampaignID: id,
				ContactID:  corr.ContactID,
				Phone:      c.Phone,
				Status:     dispatch.StatusFailed,
				UpdatedAt:  o.now(),
				Error:      err.Error(),
			})
			o.mu.Unlock()
			o.persist(ctx)
			o.appendRecord(ctx, corr, "", c.Phone, dispatch.StatusFailed, err.Error(), took)
			o.publishMessage(corr, dispatch.StatusFailed, c.Phone, err.Error())
			log.Warn("contact failed", logx.Int("row", c.Row), logx.Err(err))
			continue
		}

		o.mu.Lock()
		st.markProcessed(c.Row)
		st.setMessage(corr.MessageID, MessageState{
			CampaignID: id,
			ContactID:  corr.ContactID,
			Phone:      c.Phone,
			Status:     out.Status,
			UpdatedAt:  o.now(),
		})
		done := len(st.ProcessedRows)
		total := st.TotalContacts
		o.mu.Unlock()
		o.persist(ctx)
		o.recordSend(ctx, out.Status)
		o.appendRecord(ctx, corr, out.ChipID, c.Phone, out.Status, "", took)
		o.publishMessage(corr, out.Status, c.Phone, "")
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeQueueUpdate, Data: eventbus.QueueUpdate{
			Current: done,
			Total:   total,
		}})

		if i < len(pending)-1 {
			o.bus.Publish(eventbus.Event{Type: eventbus.TypeCooldownWait, Data: eventbus.CooldownWait{
				CampaignID: id,
				Duration:   out.PostSendDelay,
				Min:        delayMin,
				Max:        delayMax,
			}})
			if err := sleep(ctx, out.PostSendDelay); err != nil {
				return err
			}
		}
	}

	o.finish(log, st)
	return nil
}

func (o *Orchestrator) finish(log logx.Logger, st *State) {
	o.mu.Lock()
	processed := len(st.ProcessedRows)
	failed := len(st.FailedRows)
	id := st.CampaignID
	o.mu.Unlock()

	o.bus.Publish(eventbus.Event{Type: eventbus.TypeCampaignFinished, Data: eventbus.CampaignFinished{
		CampaignID: id,
		Processed:  processed,
		Failed:     failed,
	}})
	log.Info("campaign finished", logx.Int("processed", processed), logx.Int("failed", failed))
}

// campaignDelay merges the per-campaign window over the base typing model.
func (o *Orchestrator) campaignDelay(d DelayConfig) pacing.Config {
	cfg := o.baseDelay
	p := d.Pacing()
	if p.Min > 0 {
		cfg.Min = p.Min
	}
	if p.Max > 0 {
		cfg.Max = p.Max
	}
	return cfg
}

// persist writes the campaign document. A failed write is logged and the
// loop moves on; the next contact's write usually heals it.
func (o *Orchestrator) persist(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return
	}
	if err := o.docs.Save(ctx, stateDoc, o.state); err != nil {
		o.log.Error("campaign state save failed", logx.Err(err))
	}
}

func (o *Orchestrator) publishMessage(corr session.Correlation, status, phone, errMsg string) {
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeMessageStatus, Data: eventbus.MessageStatus{
		CampaignID:      corr.CampaignID,
		ContactID:       corr.ContactID,
		ClientMessageID: corr.MessageID,
		Status:          status,
		Phone:           phone,
		Error:           errMsg,
	}})
}

// appendRecord writes one outcome to the optional message log, best effort.
func (o *Orchestrator) appendRecord(ctx context.Context, corr session.Correlation, chipID, phone, status, errMsg string, took time.Duration) {
	if o.msgs == nil {
		return
	}
	rec := storage.MessageRecord{
		At:         o.now(),
		CampaignID: corr.CampaignID,
		ContactID:  corr.ContactID,
		MessageID:  corr.MessageID,
		ChipID:     chipID,
		Phone:      phone,
		Status:     status,
		Error:      errMsg,
		TookMS:     took.Milliseconds(),
	}
	if err := o.msgs.AppendMessage(ctx, rec); err != nil {
		o.log.Warn("message log append failed", logx.Err(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
