// Package config loads and validates the operator's runtime settings.
//
// Configuration is a YAML document read once at startup. A missing or
// malformed file is fatal: Load reports it through the zkerr taxonomy and the
// caller is expected to exit.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/flashbots/zkml-operator/zkerr"
	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration document. It is treated as
// immutable once Load returns.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Public   PublicConfig   `yaml:"public"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controls the HTTP listener and request handling limits.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RequestTimeout is the blanket deadline applied to every route.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	// WriteTimeout of zero is derived from RequestTimeout.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxPending bounds how many prove/verify requests may wait for
	// admission before new ones are shed.
	MaxPending int `yaml:"max_pending"`

	MetricsAddr      string        `yaml:"metrics_addr"`
	DrainDuration    time.Duration `yaml:"drain_duration"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	EnablePprof      bool          `yaml:"enable_pprof"`
	CORSOrigins      []string      `yaml:"cors_origins"`
}

// PublicConfig holds the filesystem locations the handlers work against.
type PublicConfig struct {
	// Models is the root directory holding one subdirectory per model.
	Models string `yaml:"models"`
	// Binfile is the path to the external proving tool.
	Binfile string `yaml:"binfile"`
}

// FetchConfig bounds remote proof artifact retrieval.
type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// DatabaseConfig selects the operation history backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Database drivers understood by the history store.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			RequestTimeout:   600 * time.Second,
			ReadTimeout:      30 * time.Second,
			MaxPending:       16,
			DrainDuration:    5 * time.Second,
			GracefulShutdown: 30 * time.Second,
			CORSOrigins:      []string{"*"},
		},
		Fetch: FetchConfig{
			Timeout:  60 * time.Second,
			MaxBytes: 256 << 20,
		},
		Database: DatabaseConfig{
			Driver:  DriverMemory,
			Host:    "localhost",
			Name:    "zkml",
			SSLMode: "disable",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates the YAML document at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, zkerr.Newf(zkerr.ConfigMissing, "No operator config found at this path: %s", path)
		}
		return nil, zkerr.Wrap(zkerr.IoError, err, "Error while performing IO for the Operator")
	}
	return Parse(content)
}

// Parse decodes a YAML document on top of Default and validates the result.
func Parse(content []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, zkerr.Wrap(zkerr.SerializationError, err, "Config deserialization error")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and required paths.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return zkerr.Newf(zkerr.SerializationError, "Config deserialization error: "+format, args...)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return invalid("server.request_timeout must be positive")
	}
	if c.Server.MaxPending < 0 {
		return invalid("server.max_pending must not be negative")
	}
	if c.Public.Models == "" {
		return invalid("public.models is required")
	}
	if c.Public.Binfile == "" {
		return invalid("public.binfile is required")
	}
	if c.Fetch.MaxBytes < 0 {
		return invalid("fetch.max_bytes must not be negative")
	}

	switch c.Database.Driver {
	case "", DriverMemory, DriverPostgres, DriverMySQL:
	default:
		return invalid("unknown database.driver %q", c.Database.Driver)
	}

	return nil
}

// Addr returns the listen address built from server.host and server.port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// EffectiveWriteTimeout leaves room after the request deadline for the
// timeout envelope to be written.
func (c *Config) EffectiveWriteTimeout() time.Duration {
	if c.Server.WriteTimeout > 0 {
		return c.Server.WriteTimeout
	}
	return c.Server.RequestTimeout + 10*time.Second
}

// DataSourceName builds the driver-specific connection string for the
// history store.
func (d *DatabaseConfig) DataSourceName() (string, error) {
	switch d.Driver {
	case DriverPostgres:
		port := d.Port
		if port == 0 {
			port = 5432
		}
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, port, d.User, d.Password, d.Name, sslMode), nil
	case DriverMySQL:
		port := d.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(port))
		mc.DBName = d.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	default:
		return "", fmt.Errorf("driver %q has no data source", d.Driver)
	}
}
