package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Well-known cached image used by the image cache helpers.
const (
	DefaultCacheImage   = "quay.io/libpod/alpine:latest"
	DefaultCacheTarball = "alpine.tar"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Podman     PodmanConfig     `mapstructure:"podman"`
	Registries RegistriesConfig `mapstructure:"registries"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Service    ServiceConfig    `mapstructure:"service"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// PodmanConfig describes how the isolated podman process tree is invoked.
type PodmanConfig struct {
	// Binary is the podman executable. Relative paths are resolved by exec.
	Binary        string `mapstructure:"binary"`
	StorageDriver string `mapstructure:"storage_driver"`
	CgroupManager string `mapstructure:"cgroup_manager"`
	// Debug adds --log-level=debug and --syslog=true to every invocation.
	Debug bool `mapstructure:"debug"`
	// TempDir is the parent of every anchor directory. Empty means os.TempDir().
	TempDir string `mapstructure:"temp_dir"`
	// CNIConfigFile optionally replaces the built-in bridge network conflist.
	CNIConfigFile string `mapstructure:"cni_config_file"`
}

// RegistriesConfig lists the registries written to the sandbox registries.conf
type RegistriesConfig struct {
	Search   []string `mapstructure:"search"`
	Insecure []string `mapstructure:"insecure"`
	Block    []string `mapstructure:"block"`
}

// CacheConfig names the single image kept in the sandbox image cache
type CacheConfig struct {
	Image   string `mapstructure:"image"`
	Tarball string `mapstructure:"tarball"`
	// Platform selects a manifest from an index, e.g. "linux/arm64". Empty means linux/amd64.
	Platform string `mapstructure:"platform"`
}

// ServiceConfig controls the podman API service launched next to the MCP server
type ServiceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration.
//
// This is the only place the process environment is consulted: PODMAN,
// CGROUP_MANAGER and DEBUG keep their historical names, every other key can
// be overridden with a PODBOX_ prefixed variable (podman.temp_dir becomes
// PODBOX_PODMAN_TEMP_DIR).
func New() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	if path := os.Getenv("PODBOX_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("podbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names take precedence over the prefixed ones.
	_ = v.BindEnv("podman.binary", "PODMAN", "PODBOX_PODMAN_BINARY")
	_ = v.BindEnv("podman.cgroup_manager", "CGROUP_MANAGER", "PODBOX_PODMAN_CGROUP_MANAGER")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	// DEBUG is a presence flag: any non-empty value turns it on.
	if os.Getenv("DEBUG") != "" {
		v.Set("podman.debug", true)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("podman.binary", "bin/podman")
	v.SetDefault("podman.storage_driver", "vfs")
	v.SetDefault("podman.cgroup_manager", "systemd")
	v.SetDefault("podman.debug", false)
	v.SetDefault("podman.temp_dir", "")
	v.SetDefault("podman.cni_config_file", "")

	v.SetDefault("registries.search", []string{"quay.io", "docker.io"})
	v.SetDefault("registries.insecure", []string{})
	v.SetDefault("registries.block", []string{})

	v.SetDefault("cache.image", DefaultCacheImage)
	v.SetDefault("cache.tarball", DefaultCacheTarball)
	v.SetDefault("cache.platform", "")

	v.SetDefault("service.enabled", false)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	if c.Podman.Binary == "" {
		return fmt.Errorf("podman.binary must not be empty")
	}

	if c.Podman.StorageDriver == "" {
		return fmt.Errorf("podman.storage_driver must not be empty")
	}

	if c.Podman.CgroupManager != "systemd" && c.Podman.CgroupManager != "cgroupfs" {
		return fmt.Errorf("invalid podman.cgroup_manager: %s, must be 'systemd' or 'cgroupfs'", c.Podman.CgroupManager)
	}

	if c.Cache.Image == "" {
		return fmt.Errorf("cache.image must not be empty")
	}

	if filepath.Base(c.Cache.Tarball) != c.Cache.Tarball || filepath.Ext(c.Cache.Tarball) != ".tar" {
		return fmt.Errorf("invalid cache.tarball: %q, must be a bare *.tar file name", c.Cache.Tarball)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}
