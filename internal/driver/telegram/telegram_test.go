package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chipsend/internal/session"
	logx "chipsend/pkg/logx"
)

func writeCreds(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "creds.json"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestReadToken(t *testing.T) {
	dir := writeCreds(t, `{"id":"a","driver":"telegram","token":" 123:abc "}`)
	tok, err := readToken(dir)
	if err != nil {
		t.Fatalf("readToken: %v", err)
	}
	if tok != "123:abc" {
		t.Fatalf("token = %q", tok)
	}
}

func TestReadTokenMissing(t *testing.T) {
	dir := writeCreds(t, `{"id":"a","driver":"telegram"}`)
	if _, err := readToken(dir); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if _, err := readToken(t.TempDir()); err == nil {
		t.Fatal("expected error for absent creds.json")
	}
}

func TestInitializeWithoutToken(t *testing.T) {
	dir := writeCreds(t, `{"id":"a","driver":"telegram"}`)
	c, err := Factory()("a", dir, logx.Nop())
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	if err := c.Initialize(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestSendMessageRequiresInit(t *testing.T) {
	c, err := Factory()("a", t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	if _, err := c.SendMessage(context.Background(), "12345", "hi", session.Correlation{}); err == nil {
		t.Fatal("expected error before Initialize")
	}
}
