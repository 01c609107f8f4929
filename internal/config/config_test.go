package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MEDIA_DIR", "/srv/media")

	c, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Import.TemporaryStaging || c.Import.StatisticsTarget != 250 || c.Import.DistinctTokenHack {
		t.Fatalf("unexpected import defaults %+v", c.Import)
	}
	if c.Import.ExampleQueries != "IF_MISSING" || c.Import.LockTTL != 5*time.Minute {
		t.Fatalf("unexpected import defaults %+v", c.Import)
	}
	if c.Media.Backend != MediaBackendLocal || c.Media.Dir != "/srv/media" {
		t.Fatalf("unexpected media config %+v", c.Media)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relannis.yaml")
	yaml := `database_url: postgres://file/annis
import:
  statistics_target: 500
  distinct_token_hack: true
media:
  backend: local
  dir: /data/media
mime_types:
  opus: audio/opus
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_URL", "postgres://env/annis")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DatabaseURL != "postgres://env/annis" {
		t.Fatalf("expected environment to win, got %q", c.DatabaseURL)
	}
	if c.Import.StatisticsTarget != 500 || !c.Import.DistinctTokenHack {
		t.Fatalf("expected file values, got %+v", c.Import)
	}
	if c.MimeTypes["opus"] != "audio/opus" {
		t.Fatalf("expected mime type extension, got %v", c.MimeTypes)
	}
}

func TestLoadRejectsInvalidMediaBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MEDIA_BACKEND", "ftp")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected an error for an unknown backend")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing explicit config file")
	}
}
