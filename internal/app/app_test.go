package app

import (
	"testing"
	"time"

	"chipsend/internal/config"
)

func TestScheduledStartOptions(t *testing.T) {
	entry := config.ScheduledCampaign{
		Name:       "morning",
		At:         "09:00",
		SourcePath: "./contacts.csv",
		Template:   "Hi [name]",
		DelayMin:   "5s",
		DelayMax:   "10s",
	}

	opts := scheduledStartOptions(entry, config.DispatchConfig{DryRun: true})
	if !opts.DryRun {
		t.Fatal("dispatch.dry_run not forwarded to scheduled starts")
	}
	if opts.DelayMin != 5*time.Second || opts.DelayMax != 10*time.Second {
		t.Fatalf("delay window = [%v, %v], want [5s, 10s]", opts.DelayMin, opts.DelayMax)
	}

	opts = scheduledStartOptions(entry, config.DispatchConfig{})
	if opts.DryRun {
		t.Fatal("dry run set without the config flag")
	}

	// Unset delays fall back to the campaign defaults (zero values).
	opts = scheduledStartOptions(config.ScheduledCampaign{Name: "bare"}, config.DispatchConfig{})
	if opts.DelayMin != 0 || opts.DelayMax != 0 {
		t.Fatalf("expected zero window for unset delays, got [%v, %v]", opts.DelayMin, opts.DelayMax)
	}
}
