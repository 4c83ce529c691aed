package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
	t.Setenv("TEST_PORT", "")
	p, err := Port("TEST_PORT", "8080")
	if err != nil || p != "8080" {
		t.Fatalf("expected fallback 8080, got %q (%v)", p, err)
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "x")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BOOL", "yes")
	t.Setenv("TEST_LIST", " a, ,b ")

	if got := Int("TEST_INT", 1); got != 42 {
		t.Fatalf("Int = %d", got)
	}
	if got := Int("TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("Int fallback = %d", got)
	}
	if got := Duration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("Duration = %s", got)
	}
	if !Bool("TEST_BOOL", false) {
		t.Fatal("Bool should be true")
	}
	if got := List("TEST_LIST", ""); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("List = %v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("DOTENV_FRESH=from-file\nDOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOTENV_SET", "from-env")
	t.Setenv("DOTENV_FRESH", "")
	os.Unsetenv("DOTENV_FRESH")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := String("DOTENV_FRESH", ""); got != "from-file" {
		t.Fatalf("DOTENV_FRESH = %q", got)
	}
	if got := String("DOTENV_SET", ""); got != "from-env" {
		t.Fatalf("existing variables must win, got %q", got)
	}
}
