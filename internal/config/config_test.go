package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
stream:
  endpoint: wss://media.example.com/events
  max_retries: 8
  reconnect_delay_ms: 1500
poll:
  fetch_url: https://media.example.com/api/transfers
  base_interval_ms: 10000
  max_interval_ms: 120000
  backoff_factor: 2.0
  use_backoff: false
  pause_on_hidden: false
  idle_threshold_ms: 45000
  pending_timeout_ms: 8000
logging:
  development: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "wss://media.example.com/events", cfg.Stream.Endpoint)
	require.Equal(t, 8, cfg.Stream.MaxRetries)
	require.Equal(t, 1500*time.Millisecond, cfg.Stream.ReconnectDelay())
	require.Equal(t, 10*time.Second, cfg.Poll.BaseInterval())
	require.Equal(t, 2*time.Minute, cfg.Poll.MaxInterval())
	require.Equal(t, 2.0, cfg.Poll.BackoffFactor)
	require.False(t, cfg.Poll.UseBackoff)
	require.False(t, cfg.Poll.PauseOnHidden)
	require.Equal(t, 45*time.Second, cfg.Poll.IdleThreshold())
	require.Equal(t, 8*time.Second, cfg.Poll.PendingTimeout())
	require.False(t, cfg.Logging.Development)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
stream:
  endpoint: ws://localhost:9000/events
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Stream.MaxRetries)
	require.Equal(t, 3*time.Second, cfg.Stream.ReconnectDelay())
	require.Equal(t, 5*time.Second, cfg.Poll.BaseInterval())
	require.Equal(t, time.Minute, cfg.Poll.MaxInterval())
	require.Equal(t, 1.5, cfg.Poll.BackoffFactor)
	require.True(t, cfg.Poll.UseBackoff)
	require.True(t, cfg.Poll.PauseOnHidden)
	require.Equal(t, 30*time.Second, cfg.Poll.IdleThreshold())
	require.Equal(t, time.Duration(0), cfg.Poll.PendingTimeout())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing endpoint": `
poll:
  base_interval_ms: 5000
`,
		"http endpoint": `
stream:
  endpoint: https://example.com/events
`,
		"max below base": `
stream:
  endpoint: ws://localhost/events
poll:
  base_interval_ms: 10000
  max_interval_ms: 5000
`,
		"backoff factor too small": `
stream:
  endpoint: ws://localhost/events
poll:
  backoff_factor: 0.5
`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		require.Error(t, err, name)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
