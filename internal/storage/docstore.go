package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"chipsend/internal/retry"
	logx "chipsend/pkg/logx"
)

// ErrNotFound is returned by Load when the document does not exist yet.
var ErrNotFound = errors.New("document not found")

// DocStore reads and writes small JSON documents.
//
// Writes are whole-document overwrites (tmp + rename, atomic on POSIX).
// Reads and writes retry on transient errors; some platforms hold short
// exclusive locks on files being flushed by another process.
type DocStore struct {
	dir string
	log logx.Logger

	policy retry.Policy
}

func NewDocStore(dir string, log logx.Logger) (*DocStore, error) {
	if dir == "" {
		return nil, errors.New("docstore dir is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DocStore{
		dir:    dir,
		log:    log,
		policy: retry.Policy{Attempts: 3, Base: 150 * time.Millisecond},
	}, nil
}

// Dir returns the store's root directory.
func (s *DocStore) Dir() string { return s.dir }

func (s *DocStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load decodes the named document into v.
// Returns ErrNotFound when the document has never been saved.
func (s *DocStore) Load(ctx context.Context, name string, v any) error {
	path := s.path(name)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		// Transient lock contention; retry before giving up.
		err = retry.Do(ctx, s.policy, func() error {
			b, rerr := os.ReadFile(path)
			if rerr != nil {
				return rerr
			}
			data = b
			return nil
		})
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return ErrNotFound
			}
			return fmt.Errorf("docstore read %s: %w", name, err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		// Corrupt document: move it aside so the next save starts clean and
		// the bytes stay recoverable.
		if qerr := s.Quarantine(name); qerr != nil {
			s.log.Error("quarantine failed", logx.String("doc", name), logx.Err(qerr))
		} else {
			s.log.Warn("corrupt document quarantined", logx.String("doc", name), logx.Err(err))
		}
		return ErrNotFound
	}
	return nil
}

// Save writes the named document atomically, retrying transient failures.
func (s *DocStore) Save(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore marshal %s: %w", name, err)
	}
	path := s.path(name)
	tmp := path + ".tmp"

	err = retry.Do(ctx, s.policy, func() error {
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
	if err != nil {
		return fmt.Errorf("docstore write %s: %w", name, err)
	}
	return nil
}

// Quarantine moves the named document into <dir>/quarantine, stamped with
// the current time. It never deletes data.
func (s *DocStore) Quarantine(name string) error {
	qdir := filepath.Join(s.dir, "quarantine")
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return err
	}
	src := s.path(name)
	dst := filepath.Join(qdir, fmt.Sprintf("%s-%d.json", name, time.Now().UnixMilli()))
	return os.Rename(src, dst)
}
