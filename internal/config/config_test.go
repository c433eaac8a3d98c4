package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "ENV", "STORE_BACKEND", "SQLITE_PATH", "DATABASE_URL",
		"MONGO_URL", "MONGO_DATABASE", "REDIS_URL", "REDIS_CHANNEL_PREFIX",
		"CORS_ALLOWED_ORIGINS", "STORE_TIMEOUT", "CHAT_INCLUDE_SELF_PARTNER",
		"REDIS_PUBLISH_TIMEOUT", "RATE_LIMIT_WHITELIST", "AUTO_BLOCK_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "8080" || !cfg.IsDevelopment() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.StoreBackend != BackendMemory || cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("unexpected store defaults: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:4200" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.IncludeSelfPartner {
		t.Fatal("self partner should be off by default")
	}
	if cfg.RedisPublishTimeout != time.Second || cfg.AutoBlockEnabled || len(cfg.RateLimitWhitelist) != 0 {
		t.Fatalf("unexpected redis defaults: %+v", cfg)
	}
}

func TestRateLimitSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8, 192.168.1.5")
	t.Setenv("AUTO_BLOCK_ENABLED", "true")
	t.Setenv("REDIS_PUBLISH_TIMEOUT", "250ms")

	cfg, err := load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.RateLimitWhitelist) != 2 || cfg.RateLimitWhitelist[1] != "192.168.1.5" {
		t.Fatalf("unexpected whitelist: %v", cfg.RateLimitWhitelist)
	}
	if !cfg.AutoBlockEnabled || cfg.RedisPublishTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected settings: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("CHAT_INCLUDE_SELF_PARTNER", "true")

	cfg, err := load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.StoreBackend != BackendSQLite || cfg.SQLitePath != "/tmp/x.db" {
		t.Fatalf("unexpected store config: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.StoreTimeout != 750*time.Millisecond || !cfg.IncludeSelfPartner {
		t.Fatalf("unexpected tuning: %+v", cfg)
	}
}

func TestYAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "chat.yml")
	yml := `
port: "9090"
store_backend: mongo
mongo_url: mongodb://localhost:27017
mongo_database: matchwork
store_timeout: 2s
cors_allowed_origins:
  - https://app.example
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("env should win over file, got port %s", cfg.Port)
	}
	if cfg.StoreBackend != BackendMongo || cfg.MongoDatabase != "matchwork" || cfg.StoreTimeout != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "https://app.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "cassandra"}},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}},
		{"mongo without url", map[string]string{"STORE_BACKEND": "mongo"}},
		{"memory in production", map[string]string{"ENV": "production"}},
		{"bad timeout", map[string]string{"STORE_TIMEOUT": "soon"}},
		{"negative timeout", map[string]string{"STORE_TIMEOUT": "-1s"}},
		{"bad bool", map[string]string{"CHAT_INCLUDE_SELF_PARTNER": "maybe"}},
		{"bad auto block", map[string]string{"AUTO_BLOCK_ENABLED": "sometimes"}},
		{"negative publish timeout", map[string]string{"REDIS_PUBLISH_TIMEOUT": "-1s"}},
		{"missing file", map[string]string{"CONFIG_FILE": "/nonexistent/chat.yml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadPanicsOnInvalidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "cassandra")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Load()
}
