package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks structural requirements and parses every duration field.
// The manager's watch loop runs it before committing a reload, so a bad edit
// never replaces a working config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.DataDir) == "" {
		return errors.New("engine.data_dir is required")
	}
	if strings.TrimSpace(c.Sessions.Dir) == "" {
		return errors.New("sessions.dir is required")
	}
	if strings.TrimSpace(c.Sessions.Driver) == "" {
		return errors.New("sessions.driver is required")
	}
	if _, err := ParseDurationField("sessions.qr_ttl", c.Sessions.QRTTL); err != nil {
		return err
	}

	min, err := ParseDurationField("dispatch.delay_min", c.Dispatch.DelayMin)
	if err != nil {
		return err
	}
	max, err := ParseDurationField("dispatch.delay_max", c.Dispatch.DelayMax)
	if err != nil {
		return err
	}
	if min > 0 && max > 0 && max < min {
		return fmt.Errorf("dispatch.delay_max (%s) below dispatch.delay_min (%s)", c.Dispatch.DelayMax, c.Dispatch.DelayMin)
	}
	if _, err := ParseDurationField("dispatch.ready_wait", c.Dispatch.ReadyWait); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.delivery_wait", c.Dispatch.DeliveryWait); err != nil {
		return err
	}
	if c.Dispatch.RatePerMinute < 0 {
		return errors.New("dispatch.rate_per_minute must be >= 0")
	}

	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	for i, s := range c.Schedule.Starts {
		where := fmt.Sprintf("schedule.starts[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%s: name is required", where)
		}
		hasCron := strings.TrimSpace(s.Cron) != ""
		hasAt := strings.TrimSpace(s.At) != ""
		if hasCron == hasAt {
			return fmt.Errorf("%s: exactly one of cron or at must be set", where)
		}
		if strings.TrimSpace(s.SourcePath) == "" {
			return fmt.Errorf("%s: source_path is required", where)
		}
		if strings.TrimSpace(s.Template) == "" {
			return fmt.Errorf("%s: template is required", where)
		}
		if _, err := ParseDurationField(where+".delay_min", s.DelayMin); err != nil {
			return err
		}
		if _, err := ParseDurationField(where+".delay_max", s.DelayMax); err != nil {
			return err
		}
	}
	return nil
}

// Duration helpers for consumers that want the typed value with a default.

func (c *Config) QRTTL(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("sessions.qr_ttl", c.Sessions.QRTTL, def)
	if err != nil {
		return def
	}
	return d
}

func (d DispatchConfig) Window() (min, max time.Duration) {
	min, _ = ParseDurationField("dispatch.delay_min", d.DelayMin)
	max, _ = ParseDurationField("dispatch.delay_max", d.DelayMax)
	return min, max
}
