// Package campaign holds the dispatch state machine: durable campaign
// progress, daily counters and the sequential send loop that drives them.
package campaign

import (
	"time"

	"chipsend/internal/pacing"
)

// Document names under the engine's data directory.
const (
	stateDoc = "campaign_state"
	statsDoc = "daily_stats"
)

// DelayConfig is the persisted inter-message window, milliseconds.
type DelayConfig struct {
	MinMS int64 `json:"min"`
	MaxMS int64 `json:"max"`
}

func delayFromPacing(min, max time.Duration) DelayConfig {
	return DelayConfig{MinMS: min.Milliseconds(), MaxMS: max.Milliseconds()}
}

// Pacing translates the stored window into a pacing config. Zero values
// fall back to the pacing defaults.
func (d DelayConfig) Pacing() pacing.Config {
	return pacing.Config{
		Min: time.Duration(d.MinMS) * time.Millisecond,
		Max: time.Duration(d.MaxMS) * time.Millisecond,
	}
}

// Config is everything needed to cold-resume a campaign after a restart.
type Config struct {
	MessageTemplate  string      `json:"messageTemplate"`
	SourcePath       string      `json:"excelPath"`
	OriginalFilename string      `json:"originalFilename"`
	Delay            DelayConfig `json:"delayConfig"`
}

// FailedRow records one contact that errored during dispatch.
type FailedRow struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// MessageState is one entry of the per-message status map, keyed by the
// client-generated message id.
type MessageState struct {
	CampaignID string    `json:"campaignId"`
	ContactID  string    `json:"contactId"`
	Phone      string    `json:"phone"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Error      string    `json:"error,omitempty"`
}

// State is the durable campaign document. There is at most one active
// campaign; a new one supersedes the previous document in place.
//
// ProcessedRows is append-only and duplicate-free. A failed row is recorded
// in FailedRows AND appended to ProcessedRows so it is never retried within
// the campaign.
type State struct {
	CampaignID    string                  `json:"campaignId"`
	TotalContacts int                     `json:"totalContacts"`
	ProcessedRows []int                   `json:"processedRows"`
	FailedRows    []FailedRow             `json:"failedRows"`
	MessageStatus map[string]MessageState `json:"messageStatus"`
	Config        Config                  `json:"config"`
}

func newState(id string) *State {
	return &State{
		CampaignID:    id,
		ProcessedRows: []int{},
		FailedRows:    []FailedRow{},
		MessageStatus: map[string]MessageState{},
	}
}

func (s *State) processed(row int) bool {
	for _, r := range s.ProcessedRows {
		if r == row {
			return true
		}
	}
	return false
}

// markProcessed appends row unless already present. Reports whether the
// state changed.
func (s *State) markProcessed(row int) bool {
	if s.processed(row) {
		return false
	}
	s.ProcessedRows = append(s.ProcessedRows, row)
	return true
}

// markFailed records the failure and retires the row from the queue.
func (s *State) markFailed(row int, msg string) {
	s.FailedRows = append(s.FailedRows, FailedRow{Row: row, Error: msg})
	s.markProcessed(row)
}

func (s *State) setMessage(id string, m MessageState) {
	if s.MessageStatus == nil {
		s.MessageStatus = map[string]MessageState{}
	}
	s.MessageStatus[id] = m
}

// active reports whether this document still has work outstanding.
func (s *State) active() bool {
	if s == nil || s.CampaignID == "" {
		return false
	}
	if s.TotalContacts <= 0 {
		return false
	}
	return len(s.ProcessedRows) < s.TotalContacts
}
