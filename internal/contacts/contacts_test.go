package contacts

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCSVLoad(t *testing.T) {
	path := writeCSV(t, "name,phone,city\nAna,5511999990001,SP\nBeto,5511999990002,RJ\n")
	got, err := CSV{}.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(got))
	}
	if got[0].Row != 1 || got[1].Row != 2 {
		t.Fatalf("row numbering off: %d, %d", got[0].Row, got[1].Row)
	}
	if got[0].Phone != "5511999990001" {
		t.Fatalf("phone = %q", got[0].Phone)
	}
	if got[1].Variables["name"] != "Beto" || got[1].Variables["city"] != "RJ" {
		t.Fatalf("variables = %v", got[1].Variables)
	}
}

func TestCSVSkipsBlankPhones(t *testing.T) {
	path := writeCSV(t, "phone,name\n5511999990001,Ana\n,NoPhone\n5511999990003,Caio\n")
	got, err := CSV{}.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(got))
	}
	// Row indices still reflect positions in the file.
	if got[1].Row != 3 {
		t.Fatalf("expected skipped row to keep numbering, got row %d", got[1].Row)
	}
}

func TestCSVMissingPhoneColumn(t *testing.T) {
	path := writeCSV(t, "name,city\nAna,SP\n")
	if _, err := (CSV{}).Load(path); err == nil {
		t.Fatal("expected error for missing phone column")
	}
}
