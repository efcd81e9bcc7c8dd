package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "data", cfg.Store.Dir)
	require.False(t, cfg.Redis.Enabled)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "relayq:processed", cfg.Redis.Key)
	require.Equal(t, "tdl", cfg.Tool.Path)
	require.Equal(t, 5*time.Second, cfg.Cooldown())
	require.Equal(t, 1000, cfg.Range.Limit)
	require.True(t, cfg.Logging.Development)
	require.False(t, cfg.Auth.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
store:
  dir: /var/lib/relayq
redis:
  enabled: true
  addr: redis:6379
tool:
  path: /usr/local/bin/tdl
  extra_args: ["--reconnect-timeout", "0"]
worker:
  cooldown_seconds: 10
range:
  limit: 200
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "/var/lib/relayq", cfg.Store.Dir)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "/usr/local/bin/tdl", cfg.Tool.Path)
	require.Equal(t, []string{"--reconnect-timeout", "0"}, cfg.Tool.ExtraArgs)
	require.Equal(t, 10*time.Second, cfg.Cooldown())
	require.Equal(t, 200, cfg.Range.Limit)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RELAYQ_SERVER_PORT", "7070")
	t.Setenv("RELAYQ_TOOL_PATH", "/opt/tdl")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "/opt/tdl", cfg.Tool.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080},
			Store:  StoreConfig{Dir: "data"},
			Tool:   ToolConfig{Path: "tdl"},
			Range:  RangeConfig{Limit: 1000},
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Dir = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Tool.Path = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Range.Limit = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())
}
