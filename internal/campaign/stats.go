package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chipsend/internal/dispatch"
	"chipsend/internal/storage"
	logx "chipsend/pkg/logx"
)

// DailyStats aggregates successful sends for one calendar day. The document
// is overwritten on every send; a date mismatch resets it before the
// increment, so counters never leak across midnight.
type DailyStats struct {
	Date           string         `json:"date"` // YYYY-MM-DD
	TotalSent      int            `json:"totalSent"`
	TotalDelivered int            `json:"totalDelivered"`
	Hourly         map[string]int `json:"hourly"` // "HH:00" buckets
}

func dayKey(t time.Time) string  { return t.Format("2006-01-02") }
func hourKey(t time.Time) string { return fmt.Sprintf("%02d:00", t.Hour()) }

// recordSend bumps today's counters for one successful outcome.
func (o *Orchestrator) recordSend(ctx context.Context, status string) {
	now := o.now()

	var stats DailyStats
	if err := o.docs.Load(ctx, statsDoc, &stats); err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.log.Warn("daily stats load failed", logx.Err(err))
	}
	if stats.Date != dayKey(now) {
		stats = DailyStats{Date: dayKey(now)}
	}
	if stats.Hourly == nil {
		stats.Hourly = map[string]int{}
	}

	stats.TotalSent++
	if status == dispatch.StatusDelivered {
		stats.TotalDelivered++
	}
	stats.Hourly[hourKey(now)]++

	if err := o.docs.Save(ctx, statsDoc, &stats); err != nil {
		o.log.Warn("daily stats save failed", logx.Err(err))
	}
}

// DailyStats returns today's counters. A stored document from a previous
// day reads back as zeroes; the reset is written out on the next send.
func (o *Orchestrator) DailyStats(ctx context.Context) (DailyStats, error) {
	now := o.now()
	var stats DailyStats
	err := o.docs.Load(ctx, statsDoc, &stats)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && stats.Date != dayKey(now)) {
		return DailyStats{Date: dayKey(now), Hourly: map[string]int{}}, nil
	}
	if err != nil {
		return DailyStats{}, err
	}
	if stats.Hourly == nil {
		stats.Hourly = map[string]int{}
	}
	return stats, nil
}
