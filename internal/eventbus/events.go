package eventbus

import "time"

// Engine event types. These names are part of the contract with the
// transport/UI layer and must stay stable.
const (
	TypeSessionChange    = "session_change"
	TypeQRCode           = "qr_code"
	TypeSessionDeleted   = "session_deleted"
	TypeCampaignStarted  = "campaign_started"
	TypeMessageStatus    = "message_status"
	TypeQueueUpdate      = "queue_update"
	TypeCooldownWait     = "cooldown_wait"
	TypeCampaignFinished = "campaign_finished"
)

// SessionChange reports a chip status transition.
type SessionChange struct {
	ChipID string `json:"chipId"`
	Status string `json:"status"`
}

// QRCode carries a fresh pairing code for an unauthenticated chip.
type QRCode struct {
	ChipID      string    `json:"chipId"`
	QR          string    `json:"qr"`
	QRTimestamp time.Time `json:"qrTimestamp"`
}

// SessionDeleted reports a chip removed from the pool (manual or expired QR).
type SessionDeleted struct {
	ChipID string `json:"chipId"`
}

// CampaignStarted is emitted once per (re)started dispatch run.
type CampaignStarted struct {
	CampaignID    string `json:"campaignId"`
	TotalContacts int    `json:"totalContacts"`
	Remaining     int    `json:"remaining"`
}

// MessageStatus tracks one send attempt through its lifecycle.
type MessageStatus struct {
	CampaignID      string `json:"campaignId"`
	ContactID       string `json:"contactId"`
	ClientMessageID string `json:"clientMessageId"`
	Status          string `json:"status"`
	Phone           string `json:"phone"`
	Error           string `json:"error,omitempty"`
}

// QueueUpdate reports dispatch-loop progress.
type QueueUpdate struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// CooldownWait announces the pause before the next contact.
type CooldownWait struct {
	CampaignID string        `json:"campaignId"`
	Duration   time.Duration `json:"duration"`
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
}

// CampaignFinished carries final counters for a fully processed campaign.
type CampaignFinished struct {
	CampaignID string `json:"campaignId"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
}
