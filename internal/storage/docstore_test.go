package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestDocStoreRoundTrip(t *testing.T) {
	s, err := NewDocStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewDocStore: %v", err)
	}
	ctx := context.Background()

	in := doc{Name: "state", Count: 7}
	if err := s.Save(ctx, "campaign_state", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	var out doc
	if err := s.Load(ctx, "campaign_state", &out); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestDocStoreLoadMissing(t *testing.T) {
	s, err := NewDocStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewDocStore: %v", err)
	}
	var out doc
	if err := s.Load(context.Background(), "nope", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDocStoreQuarantinesCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDocStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewDocStore: %v", err)
	}
	path := filepath.Join(dir, "campaign_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	var out doc
	if err := s.Load(context.Background(), "campaign_state", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for corrupt doc, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("corrupt document still in place: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	if err != nil {
		t.Fatalf("quarantine dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
}
