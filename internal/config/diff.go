package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chipsend/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets never appear in the attrs.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs, logx.String("engine.data_dir", strings.TrimSpace(newCfg.Engine.DataDir)))
	}

	if !reflect.DeepEqual(oldCfg.Sessions, newCfg.Sessions) {
		changed = append(changed, "sessions")
		attrs = append(attrs,
			logx.String("sessions.driver", strings.TrimSpace(newCfg.Sessions.Driver)),
			logx.String("sessions.qr_ttl", strings.TrimSpace(newCfg.Sessions.QRTTL)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.delay_min", strings.TrimSpace(newCfg.Dispatch.DelayMin)),
			logx.String("dispatch.delay_max", strings.TrimSpace(newCfg.Dispatch.DelayMax)),
			logx.Int("dispatch.rate_per_minute", newCfg.Dispatch.RatePerMinute),
			logx.Bool("dispatch.dry_run", newCfg.Dispatch.DryRun),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if !reflect.DeepEqual(oS, nS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
			logx.Int("schedule.starts", len(newCfg.Schedule.Starts)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
