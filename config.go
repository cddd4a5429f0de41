package ragadmin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the admin console.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Admin   AdminConfig   `json:"admin" yaml:"admin"`
	RAGFlow RAGFlowConfig `json:"ragflow" yaml:"ragflow"`
	MySQL   MySQLConfig   `json:"mysql" yaml:"mysql"`
	Console ConsoleConfig `json:"console" yaml:"console"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
	Debug     bool   `json:"debug" yaml:"debug"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`

	// CORSOrigins is a comma-separated list of allowed origins. Empty disables CORS headers.
	CORSOrigins string `json:"cors_origins" yaml:"cors_origins"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AdminConfig holds the single console administrator's credentials.
type AdminConfig struct {
	Username string `json:"username" yaml:"username" validate:"required"`
	Password string `json:"password" yaml:"password" validate:"required"`
}

// RAGFlowConfig points at the remote RAGFlow REST API.
type RAGFlowConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Configured reports whether both the base URL and API key are set.
func (r RAGFlowConfig) Configured() bool {
	return r.BaseURL != "" && r.APIKey != ""
}

// NormalizedBaseURL returns the base URL with a scheme and no trailing slash.
func (r RAGFlowConfig) NormalizedBaseURL() string {
	u := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return u
}

// MySQLConfig configures the relational store. The section keeps its
// historical name; Driver selects sqlite3 for local databases.
type MySQLConfig struct {
	Driver   string `json:"driver" yaml:"driver" validate:"omitempty,oneof=mysql sqlite3"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Database string `json:"database" yaml:"database"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`

	// Path is the database file when Driver is sqlite3.
	Path string `json:"path" yaml:"path"`

	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" validate:"min=1"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// Configured reports whether enough connection parameters are present to
// open a pool.
func (m MySQLConfig) Configured() bool {
	if m.Driver == "sqlite3" {
		return m.Path != ""
	}
	return m.Host != "" && m.Database != "" && m.User != ""
}

// Delete strategies for datasets and documents.
const (
	DeleteViaDatabase = "database"
	DeleteViaAPI      = "api"
)

// ConsoleConfig tunes console behavior.
type ConsoleConfig struct {
	DeleteStrategy string        `json:"delete_strategy" yaml:"delete_strategy" validate:"oneof=database api"`
	CountCacheTTL  time.Duration `json:"count_cache_ttl" yaml:"count_cache_ttl"`
}

// DefaultConfig returns a Config with the defaults used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "admin",
		},
		RAGFlow: RAGFlowConfig{
			Timeout: 30 * time.Second,
		},
		MySQL: MySQLConfig{
			Driver:          "mysql",
			Port:            3306,
			MaxOpenConns:    5,
			ConnectTimeout:  5 * time.Second,
			ConnMaxLifetime: 60 * time.Second,
		},
		Console: ConsoleConfig{
			DeleteStrategy: DeleteViaDatabase,
			CountCacheTTL:  300 * time.Second,
		},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig, applies
// environment overrides and validates the result. A missing file is not an
// error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config: %w", err)
			}
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("RAGFLOW_BASE_URL", &c.RAGFlow.BaseURL)
	str("RAGFLOW_API_KEY", &c.RAGFlow.APIKey)
	str("SECRET_KEY", &c.Server.SecretKey)
	str("ADMIN_USERNAME", &c.Admin.Username)
	str("ADMIN_PASSWORD", &c.Admin.Password)
	str("MYSQL_HOST", &c.MySQL.Host)
	str("MYSQL_DATABASE", &c.MySQL.Database)
	str("MYSQL_USER", &c.MySQL.User)
	str("MYSQL_PASSWORD", &c.MySQL.Password)
	if v, ok := lookup("MYSQL_PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MySQL.Port = port
		}
	}
}

var validate = validator.New()

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Masked returns a copy safe to show in the console, with every secret
// replaced by a fixed mask. Empty secrets stay empty so the UI can tell
// "unset" from "set".
func (c Config) Masked() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Server.SecretKey = mask(c.Server.SecretKey)
	c.Admin.Password = mask(c.Admin.Password)
	c.RAGFlow.APIKey = mask(c.RAGFlow.APIKey)
	c.MySQL.Password = mask(c.MySQL.Password)
	return c
}
