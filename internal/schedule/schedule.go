// Package schedule runs recurring engine jobs (scheduled campaign starts,
// periodic housekeeping) on cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "chipsend/pkg/logx"
)

// Job is one scheduled unit of work. The context carries the configured
// timeout, if any.
type Job func(ctx context.Context) error

type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	tz      string
	started bool
}

func New(timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("component", "schedule")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tz:     timezone,
	}
}

// Start brings up the cron runner. Jobs added before Start begin firing
// once it runs.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ensureCronLocked()
	s.c.Start()
	s.started = true
	s.log.Info("schedule started", logx.String("tz", s.location().String()))
}

// Stop halts the runner and waits for in-flight jobs.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.started = false
	s.log.Info("schedule stopped")
}

// AddCron registers a job under a standard 5-field cron spec (descriptors
// like "@every 1h" also work).
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if job == nil {
		return errors.New("schedule: nil job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCronLocked()
	_, err := s.c.AddFunc(spec, func() { s.run(name, timeout, job) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	return nil
}

// AddDaily registers a job at HH:MM in the service timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) ensureCronLocked() {
	if s.c == nil {
		s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.location()))
	}
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) run(name string, timeout time.Duration, job Job) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("scheduled job panicked", logx.String("job", name), logx.Any("panic", rec))
		}
	}()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Warn("scheduled job failed", logx.String("job", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Info("scheduled job done", logx.String("job", name), logx.Duration("took", time.Since(start)))
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
