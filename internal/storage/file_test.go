package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "chipsend/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

func TestFileStoreAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	recs := []MessageRecord{
		{CampaignID: "c1", ContactID: "row-1", MessageID: "m1", Phone: "5511999990001", Status: "DELIVERED", At: time.Now()},
		{CampaignID: "c1", ContactID: "row-2", MessageID: "m2", Phone: "5511999990002", Status: "FAILED", Error: "invalid number", At: time.Now()},
	}
	for _, r := range recs {
		if err := st.AppendMessage(ctx, r); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var got []MessageRecord
	for sc.Scan() {
		var r MessageRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[1].Error != "invalid number" {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store for disabled driver")
	}
}
