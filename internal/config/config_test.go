package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000

[proxy]
prefix = "/fetch"
allow_hosts = ["example.com", "example.org"]
max_transform_bytes = 5242880
user_agent = "testproxy/0.1"

[upstream]
timeout_seconds = 30
idle_connections = 50

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Proxy.Prefix != "/fetch" {
		t.Errorf("Proxy.Prefix = %q, want %q", cfg.Proxy.Prefix, "/fetch")
	}
	if len(cfg.Proxy.AllowHosts) != 2 {
		t.Errorf("Proxy.AllowHosts = %v, want 2 entries", cfg.Proxy.AllowHosts)
	}
	if cfg.Proxy.MaxTransformBytes != 5242880 {
		t.Errorf("Proxy.MaxTransformBytes = %d, want 5242880", cfg.Proxy.MaxTransformBytes)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want 30", cfg.Upstream.TimeoutSeconds)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Proxy.Prefix != "/go" {
		t.Errorf("default Proxy.Prefix = %q, want %q", cfg.Proxy.Prefix, "/go")
	}
	if len(cfg.Proxy.AllowHosts) != 0 {
		t.Errorf("default AllowHosts = %v, want empty (permissive)", cfg.Proxy.AllowHosts)
	}
	if cfg.Proxy.MaxTransformBytes != 10*1024*1024 {
		t.Errorf("default MaxTransformBytes = %d, want 10 MB", cfg.Proxy.MaxTransformBytes)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000

[proxy]
prefix = "/fetch"
`)

	cli := &CLI{
		Config:    path,
		Port:      9100,
		Prefix:    "/via",
		AllowHost: []string{"only.example"},
		LogLevel:  "warn",
	}
	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want CLI override 9100", cfg.Server.Port)
	}
	if cfg.Proxy.Prefix != "/via" {
		t.Errorf("Proxy.Prefix = %q, want CLI override /via", cfg.Proxy.Prefix)
	}
	if len(cfg.Proxy.AllowHosts) != 1 || cfg.Proxy.AllowHosts[0] != "only.example" {
		t.Errorf("Proxy.AllowHosts = %v, want CLI override", cfg.Proxy.AllowHosts)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "bad port",
			toml: "[server]\nport = 70000\n",
			want: "server.port",
		},
		{
			name: "prefix without slash",
			toml: "[proxy]\nprefix = \"go\"\n",
			want: "proxy.prefix",
		},
		{
			name: "prefix shadows health route",
			toml: "[proxy]\nprefix = \"/healthz\"\n",
			want: "reserved",
		},
		{
			name: "allow host with scheme",
			toml: "[proxy]\nallow_hosts = [\"http://example.com\"]\n",
			want: "bare hostname",
		},
		{
			name: "bad log level",
			toml: "[log]\nlevel = \"verbose\"\n",
			want: "log.level",
		},
		{
			name: "negative transform cap",
			toml: "[proxy]\nmax_transform_bytes = -1\n",
			want: "max_transform_bytes",
		},
		{
			name: "metrics path conflicts with prefix",
			toml: "[proxy]\nprefix = \"/go\"\n\n[metrics]\nenabled = true\npath = \"/go\"\n",
			want: "conflicts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.toml)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitConfig(t *testing.T) {
	_, err := Load(cliWithPath(filepath.Join(t.TempDir(), "nope.toml")))
	if err == nil {
		t.Fatal("Load() with nonexistent explicit config succeeded, want error")
	}
}

func TestWarnPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not meaningful on windows")
	}

	path := writeConfig(t, "[proxy]\nauth_token = \"secret\"\n")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "chmod 600") {
		t.Errorf("expected permissions warning, got: %s", buf.String())
	}
}
