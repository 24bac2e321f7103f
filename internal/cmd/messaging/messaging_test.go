package messaging

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("messaging", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8084" {
		t.Fatalf("expected default http addr :8084, got %q", cfg.HTTPAddr)
	}
	if cfg.DatabasePath != "messaging.db" {
		t.Fatalf("expected default db path messaging.db, got %q", cfg.DatabasePath)
	}
	if cfg.AccessTokenAudience != "messaging" {
		t.Fatalf("expected default audience messaging, got %q", cfg.AccessTokenAudience)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("HARBORCHAT_MESSAGING_HTTP_ADDR", ":9090")
	t.Setenv("HARBORCHAT_MESSAGING_DB_PATH", "/var/lib/harborchat/messaging.db")

	fs := flag.NewFlagSet("messaging", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-addr", ":9091"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":9091" {
		t.Fatalf("expected flag override :9091, got %q", cfg.HTTPAddr)
	}
	if cfg.DatabasePath != "/var/lib/harborchat/messaging.db" {
		t.Fatalf("expected env db path, got %q", cfg.DatabasePath)
	}
}
