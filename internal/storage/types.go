package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the message outcome log.
//
// Driver values:
//   - "file": dependency-free JSONL append log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the log is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// MessageRecord is one dispatch outcome.
// Keep it compact and schema-stable.
type MessageRecord struct {
	At         time.Time `json:"at"`
	CampaignID string    `json:"campaignId"`
	ContactID  string    `json:"contactId"`
	MessageID  string    `json:"messageId"`
	ChipID     string    `json:"chipId"`
	Phone      string    `json:"phone"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"tookMs"`
}
