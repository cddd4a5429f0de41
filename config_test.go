package ragadmin

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  cors_origins: http://localhost:5173
admin:
  username: root
  password: hunter2
ragflow:
  base_url: ragflow.internal:9380/
  api_key: ragflow-key
  timeout: 10s
mysql:
  host: db
  database: rag_flow
  user: root
  max_open_conns: 3
console:
  delete_strategy: api
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, "root", cfg.Admin.Username)
	assert.Equal(t, 10*time.Second, cfg.RAGFlow.Timeout)
	assert.Equal(t, "http://ragflow.internal:9380", cfg.RAGFlow.NormalizedBaseURL())
	assert.True(t, cfg.RAGFlow.Configured())
	assert.True(t, cfg.MySQL.Configured())
	assert.Equal(t, 3306, cfg.MySQL.Port, "unset fields keep their defaults")
	assert.Equal(t, DeleteViaAPI, cfg.Console.DeleteStrategy)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.False(t, cfg.MySQL.Configured())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "console:\n  delete_strategy: shred\n")
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	path = writeConfig(t, "server: [not, a, map]\n")
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"RAGFLOW_BASE_URL": "https://ragflow.example.com",
		"ADMIN_PASSWORD":   "from-env",
		"MYSQL_PORT":       "3307",
		"MYSQL_USER":       "",
	}
	cfg := DefaultConfig()
	cfg.MySQL.User = "kept"
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "https://ragflow.example.com", cfg.RAGFlow.BaseURL)
	assert.Equal(t, "from-env", cfg.Admin.Password)
	assert.Equal(t, 3307, cfg.MySQL.Port)
	assert.Equal(t, "kept", cfg.MySQL.User, "empty values do not override")
}

func TestSQLiteConfigured(t *testing.T) {
	m := MySQLConfig{Driver: "sqlite3"}
	assert.False(t, m.Configured())
	m.Path = "/tmp/ragflow.db"
	assert.True(t, m.Configured())
}

func TestMasked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RAGFlow.APIKey = "key"
	cfg.Server.SecretKey = "s"

	m := cfg.Masked()
	assert.Equal(t, "********", m.RAGFlow.APIKey)
	assert.Equal(t, "********", m.Server.SecretKey)
	assert.Equal(t, "********", m.Admin.Password)
	assert.Empty(t, m.MySQL.Password)
	assert.Equal(t, "key", cfg.RAGFlow.APIKey, "the receiver is not modified")
}
