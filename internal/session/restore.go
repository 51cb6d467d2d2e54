package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "chipsend/pkg/logx"
)

// ErrCorruptSessionData marks a persisted session that failed validation on
// restore. Such sessions are quarantined, never deleted.
var ErrCorruptSessionData = errors.New("corrupt session data")

const credsFile = "creds.json"

// Credentials is the minimal per-chip credential document. Drivers may store
// more alongside it; the registry only validates this core.
type Credentials struct {
	ID     string `json:"id"`
	Driver string `json:"driver,omitempty"`
	Token  string `json:"token,omitempty"`
}

// ensureCreds writes a stub credential document for a brand-new chip so a
// later RestoreAll can tell a real session from leftover junk.
func (r *Registry) ensureCreds(id, dir string) error {
	path := filepath.Join(dir, credsFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	b, err := json.MarshalIndent(Credentials{ID: id, Driver: r.driver}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func validateCreds(dir string) (Credentials, error) {
	var c Credentials
	b, err := os.ReadFile(filepath.Join(dir, credsFile))
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrCorruptSessionData, err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrCorruptSessionData, err)
	}
	if strings.TrimSpace(c.ID) == "" {
		return c, fmt.Errorf("%w: missing id", ErrCorruptSessionData)
	}
	return c, nil
}

// RestoreAll scans persisted session directories on startup. Directories
// failing credential validation are moved to a quarantine area and skipped;
// valid ones are restored via Start. Returns the restored chip ids.
func (r *Registry) RestoreAll() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}

	var restored []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == "quarantine" || strings.Contains(name, ".removed-") {
			continue
		}
		dir := filepath.Join(r.dir, name)
		if _, err := validateCreds(dir); err != nil {
			r.log.Warn("session failed validation; quarantining",
				logx.String("chip", name), logx.Err(err))
			if qerr := r.quarantine(name); qerr != nil {
				r.log.Error("session quarantine failed", logx.String("chip", name), logx.Err(qerr))
			}
			continue
		}
		if _, err := r.Start(name); err != nil {
			r.log.Error("session restore failed", logx.String("chip", name), logx.Err(err))
			continue
		}
		restored = append(restored, name)
	}
	return restored, nil
}

// quarantine moves a session directory aside for manual recovery.
func (r *Registry) quarantine(name string) error {
	qdir := filepath.Join(r.dir, "quarantine")
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return err
	}
	src := filepath.Join(r.dir, name)
	dst := filepath.Join(qdir, fmt.Sprintf("%s-%d", name, time.Now().UnixMilli()))
	return os.Rename(src, dst)
}
