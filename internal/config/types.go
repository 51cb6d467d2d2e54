package config

// Config is the engine's whole configuration document. JSON and YAML are
// both accepted; YAML is coerced to JSON before the strict decode, so
// unknown keys fail loudly in either format.
//
// All durations are Go duration strings (e.g. "500ms", "20s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Engine   EngineConfig   `json:"engine"`
	Sessions SessionsConfig `json:"sessions"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Schedule ScheduleConfig `json:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig holds paths owned by the engine itself.
type EngineConfig struct {
	// DataDir holds the campaign state and daily stats documents.
	DataDir string `json:"data_dir"`
}

// SessionsConfig controls the chip pool.
type SessionsConfig struct {
	// Dir holds one subdirectory per chip (credentials and driver state).
	Dir string `json:"dir"`
	// Driver selects the protocol client ("telegram" is built in).
	Driver string `json:"driver"`
	// QRTTL bounds how long an unscanned pairing code keeps its chip alive.
	QRTTL string `json:"qr_ttl,omitempty"`
}

// DispatchConfig tunes pacing and the per-send waits.
type DispatchConfig struct {
	DelayMin     string `json:"delay_min,omitempty"`
	DelayMax     string `json:"delay_max,omitempty"`
	ReadyWait    string `json:"ready_wait,omitempty"`
	DeliveryWait string `json:"delivery_wait,omitempty"`
	// RatePerMinute caps sends process-wide across all chips. 0 disables it.
	RatePerMinute int  `json:"rate_per_minute,omitempty"`
	DryRun        bool `json:"dry_run,omitempty"`
}

// StorageConfig controls the optional message outcome log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./chipsend.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ScheduleConfig registers campaigns that start on a timer instead of an
// operator request.
type ScheduleConfig struct {
	Enabled  bool                `json:"enabled"`
	Timezone string              `json:"timezone,omitempty"`
	Starts   []ScheduledCampaign `json:"starts,omitempty"`
}

// ScheduledCampaign is one recurring campaign start. Exactly one of Cron or
// At must be set; At is a daily HH:MM in the schedule timezone.
type ScheduledCampaign struct {
	Name       string `json:"name"`
	Cron       string `json:"cron,omitempty"`
	At         string `json:"at,omitempty"`
	SourcePath string `json:"source_path"`
	Template   string `json:"template"`
	DelayMin   string `json:"delay_min,omitempty"`
	DelayMax   string `json:"delay_max,omitempty"`
}
