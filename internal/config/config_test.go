package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-feed/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, 64, cfg.Gateway.SendQueue)
	assert.Equal(t, 25*time.Second, cfg.Gateway.PingInterval)
	assert.Equal(t, config.BackendMemory, cfg.Presence.Backend)
	assert.Equal(t, config.BackendLocal, cfg.Bus.Backend)
	assert.Equal(t, "HS256", cfg.Auth.Alg)

	assert.EqualError(t, cfg.Validate(), "auth.secret is required")
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
auth:
  secret: from-file
presence:
  backend: redis
gateway:
  ping_interval: 5s
`), 0o600))
	t.Setenv("FEEDGATE_AUTH_SECRET", "from-env")
	t.Setenv("FEEDGATE_BUS_BACKEND", "nats")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, config.BackendRedis, cfg.Presence.Backend)
	assert.Equal(t, config.BackendNATS, cfg.Bus.Backend)
	assert.Equal(t, 5*time.Second, cfg.Gateway.PingInterval)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_UnknownBackend(t *testing.T) {
	t.Setenv("FEEDGATE_AUTH_SECRET", "s")
	t.Setenv("FEEDGATE_PRESENCE_BACKEND", "etcd")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "presence.backend")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_ReadSide(t *testing.T) {
	t.Setenv("FEEDGATE_AUTH_SECRET", "s")
	t.Setenv("FEEDGATE_GATEWAY_VERIFY_CONVERSATIONS", "true")
	t.Setenv("FEEDGATE_READSIDE_TOKEN", "svc")
	t.Setenv("FEEDGATE_INGRESS_TOKEN", "mutations")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Gateway.VerifyConversations)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.ReadSide.URL)
	assert.Equal(t, "svc", cfg.ReadSide.Token)
	assert.Equal(t, "mutations", cfg.Ingress.Token)
	assert.NoError(t, cfg.Validate())
}
