package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hochfrequenz/batch-engine/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-project config file looked up by FindLocalConfig
const LocalConfigName = ".batchctl.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Logging       LoggingConfig       `toml:"logging"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath   string `toml:"database_path"`
	DefinitionsDir string `toml:"definitions_dir"`
	SchedulePath   string `toml:"schedule_path"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".batchctl")
	return &Config{
		General: GeneralConfig{
			DatabasePath:   filepath.Join(base, "batchctl.db"),
			DefinitionsDir: filepath.Join(base, "definitions"),
			SchedulePath:   filepath.Join(base, "schedule.toml"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.DefinitionsDir = ExpandPath(cfg.General.DefinitionsDir)
	cfg.General.SchedulePath = ExpandPath(cfg.General.SchedulePath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	return cfg, nil
}

// LoggerConfig converts the [logging] section for logging.New
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		File:   c.Logging.File,
	}
}

// Addr is the host:port the web API listens on
func (w WebConfig) Addr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "batchctl", "config.toml")
}

// FindLocalConfig walks up from dir looking for LocalConfigName.
// It returns "" when none is found.
func FindLocalConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ResolvePath picks the config file to use: an explicit path wins, then a
// local .batchctl.toml, then the default location.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return ExpandPath(explicit)
	}
	if wd, err := os.Getwd(); err == nil {
		if local, err := FindLocalConfig(wd); err == nil && local != "" {
			return local
		}
	}
	return DefaultConfigPath()
}
