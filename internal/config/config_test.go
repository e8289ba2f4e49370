package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "develop", cfg.App.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "local", cfg.Broadcast.Driver)
	assert.Equal(t, 2*time.Second, cfg.Engine.SyncBuffer)
	assert.Equal(t, 10*time.Second, cfg.Engine.LockTTL)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
app:
  environment: production
database:
  driver: postgres
  dsn: postgres://file
broadcast:
  driver: kafka
kafka:
  brokers: [k1:9092, k2:9092]
jwt:
  secret: from-file
engine:
  sync_buffer: 3s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	t.Setenv("WORSHIP_DATABASE_DSN", "postgres://env")
	t.Setenv("WORSHIP_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.Equal(t, 3*time.Second, cfg.Engine.SyncBuffer)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"broadcast driver", map[string]string{"WORSHIP_BROADCAST_DRIVER": "carrier-pigeon"}},
		{"database driver", map[string]string{"WORSHIP_DATABASE_DRIVER": "oracle"}},
		{"jwt secret", map[string]string{"WORSHIP_APP_ENVIRONMENT": "production"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			assert.Error(t, err)
		})
	}
}
