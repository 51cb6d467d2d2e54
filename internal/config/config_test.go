package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "engine": {"data_dir": "./data"},
  "sessions": {"dir": "./sessions", "driver": "telegram", "qr_ttl": "60s"},
  "dispatch": {"delay_min": "20s", "delay_max": "75s", "rate_per_minute": 30},
  "storage": {"driver": "sqlite", "path": "./chipsend.db"}
}`

func TestParseJSON(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sessions.Driver != "telegram" || cfg.Dispatch.RatePerMinute != 30 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	min, max := cfg.Dispatch.Window()
	if min.Seconds() != 20 || max.Seconds() != 75 {
		t.Fatalf("window = [%v, %v]", min, max)
	}
}

func TestParseYAML(t *testing.T) {
	body := strings.Join([]string{
		"logging:",
		"  level: debug",
		"  console: true",
		"  file: {enabled: false, path: \"\"}",
		"engine: {data_dir: ./data}",
		"sessions: {dir: ./sessions, driver: telegram}",
		"dispatch: {delay_min: 1s, delay_max: 2s}",
	}, "\n")
	m := NewConfigManager(writeFile(t, "config.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Engine.DataDir != "./data" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"loging": {}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Engine:   EngineConfig{DataDir: "./data"},
			Sessions: SessionsConfig{Dir: "./sessions", Driver: "telegram"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("minimal config should validate: %v", err)
	}

	c := base()
	c.Dispatch.DelayMin = "banana"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for bad duration")
	}

	c = base()
	c.Dispatch.DelayMin = "30s"
	c.Dispatch.DelayMax = "10s"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for inverted window")
	}

	c = base()
	c.Schedule.Starts = []ScheduledCampaign{{Name: "daily", Cron: "0 9 * * *", At: "09:00", SourcePath: "x", Template: "y"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when both cron and at are set")
	}

	c = base()
	c.Schedule.Starts = []ScheduledCampaign{{Name: "daily", At: "09:00", SourcePath: "x", Template: "y"}}
	if err := c.Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Dispatch: DispatchConfig{DelayMin: "5s"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"dispatch", "logging"}
	if len(changed) != len(want) || changed[0] != want[0] || changed[1] != want[1] {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
