package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/events.db", "/tmp/readmodels.db")
	if cfg.Database.EventsPath != "/tmp/events.db" || cfg.Database.ReadModelsPath != "/tmp/readmodels.db" {
		t.Fatalf("unexpected db paths %#v", cfg.Database)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.Store.TimeoutDuration(); got != 5*time.Second {
		t.Fatalf("expected 5s store timeout, got %s", got)
	}
	if cfg.Inbox.Backend != InboxSQLite {
		t.Fatalf("unexpected inbox backend %q", cfg.Inbox.Backend)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/events.db", "/tmp/readmodels.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.EventsPath != defaults.Database.EventsPath {
		t.Fatalf("expected default events path, got %q", cfg.Database.EventsPath)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
events_path = "/custom/events.db"

[projection]
batch_size = 25
poll_interval = "2s"

[inbox]
backend = "redis"
redis_addr = "127.0.0.1:6379"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path, Default("/tmp/events.db", "/tmp/readmodels.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.EventsPath != "/custom/events.db" {
		t.Fatalf("unexpected events path %q", cfg.Database.EventsPath)
	}
	if cfg.Database.ReadModelsPath != "/tmp/readmodels.db" {
		t.Fatalf("expected read model path default kept, got %q", cfg.Database.ReadModelsPath)
	}
	if cfg.Projection.BatchSize != 25 || cfg.Projection.PollIntervalDuration() != 2*time.Second {
		t.Fatalf("unexpected projection config %#v", cfg.Projection)
	}
	if cfg.Projection.MaxAttempts != 5 {
		t.Fatalf("expected max attempts default kept, got %d", cfg.Projection.MaxAttempts)
	}
	if cfg.Inbox.Backend != InboxRedis {
		t.Fatalf("unexpected inbox backend %q", cfg.Inbox.Backend)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"logging.level":     "[logging]\nlevel = \"loud\"\n",
		"outbox.interval":   "[outbox]\ninterval = \"soon\"\n",
		"store.timeout":     "[store]\ntimeout = \"-1s\"\n",
		"inbox.backend":     "[inbox]\nbackend = \"kafka\"\n",
		"inbox.redis_addr":  "[inbox]\nbackend = \"redis\"\n",
		"must differ":       "[database]\nread_models_path = \"/tmp/events.db\"\n",
		"projection.batch":  "[projection]\nbatch_size = 0\n",
		"store.bcrypt_cost": "[store]\nbcrypt_cost = 2\n",
	}
	for want, content := range cases {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		_, err := Load(path, Default("/tmp/events.db", "/tmp/readmodels.db"))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("Load(%s) error = %v, want mention of %q", want, err, want)
		}
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[database\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path, Default("/tmp/events.db", "/tmp/readmodels.db")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	cfg, err := ApplyEnv(Default("/tmp/events.db", "/tmp/readmodels.db"), map[string]string{
		"STROM_DATABASE_EVENTS_PATH":  "/env/events.db",
		"STROM_LOG_LEVEL":             "debug",
		"STROM_LOG_DEV_FILE_ENABLED":  "false",
		"STROM_BUS_URL":               "nats://127.0.0.1:4222",
		"STROM_PROJECTION_BATCH_SIZE": "7",
		"STROM_INBOX_BACKEND":         "none",
		"UNRELATED":                   "x",
	})
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Database.EventsPath != "/env/events.db" {
		t.Fatalf("unexpected events path %q", cfg.Database.EventsPath)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.DevFile.Enabled {
		t.Fatalf("unexpected logging config %#v", cfg.Logging)
	}
	if cfg.Bus.URL != "nats://127.0.0.1:4222" || cfg.Projection.BatchSize != 7 {
		t.Fatalf("unexpected overrides %#v %#v", cfg.Bus, cfg.Projection)
	}
	if cfg.Inbox.Backend != InboxNone {
		t.Fatalf("unexpected inbox backend %q", cfg.Inbox.Backend)
	}
	if cfg.Server.HTTPBind != "127.0.0.1:8080" {
		t.Fatalf("expected untouched default, got %q", cfg.Server.HTTPBind)
	}
}

func TestApplyEnvValidates(t *testing.T) {
	_, err := ApplyEnv(Default("/tmp/events.db", "/tmp/readmodels.db"), map[string]string{
		"STROM_PROJECTION_MAX_ATTEMPTS": "0",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEnsureConfigDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "strom", "config.toml")
	if err := EnsureConfigDir(path); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Fatalf("expected config dir, err = %v", err)
	}
}
