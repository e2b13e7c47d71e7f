// ABOUTME: Configuration loading and parsing for hsadmin
// ABOUTME: Supports TOML files with environment variable expansion, XDG paths and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	appName = "hsadmin"

	defaultTimeout          = 30 * time.Second
	defaultMediaConcurrency = 4
	maxMediaConcurrency     = 32
	defaultDeviceName       = "hsadmin"
)

// Config represents the complete hsadmin configuration
type Config struct {
	Registry RegistryConfig `toml:"registry"`
	Client   ClientConfig   `toml:"client"`
	Grants   GrantsConfig   `toml:"grants"`
	Logging  LoggingConfig  `toml:"logging"`
}

// RegistryConfig holds the local server registry settings
type RegistryConfig struct {
	Path string `toml:"path"`
	// Passphrase seals stored access tokens when set
	Passphrase string `toml:"passphrase"`
}

// ClientConfig holds homeserver client settings
type ClientConfig struct {
	Timeout time.Duration `toml:"-"`

	// Raw string value for TOML decoding
	TimeoutRaw string `toml:"timeout"`

	MediaConcurrency int    `toml:"media_concurrency"`
	DeviceName       string `toml:"device_name"`
}

// GrantsConfig controls which hosts hsadmin may contact
type GrantsConfig struct {
	// AllowedHosts are exact hostnames or "*.suffix" patterns
	AllowedHosts []string `toml:"allowed_hosts"`
	// Prompt asks on the terminal for hosts not in AllowedHosts
	Prompt bool `toml:"prompt"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Path returns the config file location: $HSADMIN_CONFIG, then
// $XDG_CONFIG_HOME/hsadmin/config.toml, then ~/.config/hsadmin/config.toml.
func Path() string {
	if envPath := os.Getenv("HSADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, appName, "config.toml")
}

// DataDir returns $XDG_DATA_HOME/hsadmin or ~/.local/share/hsadmin.
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, appName)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			Path: filepath.Join(DataDir(), "servers.db"),
		},
		Client: ClientConfig{
			Timeout:          defaultTimeout,
			TimeoutRaw:       defaultTimeout.String(),
			MediaConcurrency: defaultMediaConcurrency,
			DeviceName:       defaultDeviceName,
		},
		Grants: GrantsConfig{
			Prompt: true,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A missing file is not an error: defaults are returned instead.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return cfg, nil
	}

	// Expand environment variables in the raw TOML content
	expanded := expandEnvVars(string(data))

	// Decoding into the defaults keeps values for keys the file omits
	meta, err := toml.Decode(expanded, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config file: unknown key %q", undecoded[0].String())
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Registry.Path = expandHome(cfg.Registry.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Client.TimeoutRaw == "" {
		cfg.Client.Timeout = defaultTimeout
		return nil
	}

	timeout, err := time.ParseDuration(cfg.Client.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing client.timeout %q: %w", cfg.Client.TimeoutRaw, err)
	}
	cfg.Client.Timeout = timeout
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	if c.Client.MediaConcurrency < 1 || c.Client.MediaConcurrency > maxMediaConcurrency {
		return fmt.Errorf("client.media_concurrency must be between 1 and %d", maxMediaConcurrency)
	}

	for _, host := range c.Grants.AllowedHosts {
		if err := validateHostPattern(host); err != nil {
			return fmt.Errorf("grants.allowed_hosts: %w", err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	return nil
}

func validateHostPattern(pattern string) error {
	host := strings.TrimPrefix(pattern, "*.")
	if host == "" {
		return fmt.Errorf("empty host pattern")
	}
	if strings.Contains(host, "*") || strings.ContainsAny(host, "/ ") {
		return fmt.Errorf("invalid host pattern %q", pattern)
	}
	return nil
}

// Starter renders a commented config file for `hsadmin init`.
func Starter(registryPath string, allowedHosts []string, prompt bool) string {
	quoted := make([]string, len(allowedHosts))
	for i, host := range allowedHosts {
		quoted[i] = fmt.Sprintf("%q", host)
	}

	return fmt.Sprintf(`# hsadmin configuration
# Generated by hsadmin init

[registry]
# SQLite file holding registered servers and their access tokens
path = %q
# Seal stored tokens with this passphrase (leave empty to store them as-is)
passphrase = "${HSADMIN_PASSPHRASE}"

[client]
timeout = %q
# Parallel media deletions when removing a user
media_concurrency = %d
device_name = %q

[grants]
# Hosts hsadmin may contact without asking ("*.example.org" matches subdomains)
allowed_hosts = [%s]
# Ask before contacting any other host
prompt = %t

[logging]
level = "warn"
format = "text"
`, registryPath, defaultTimeout.String(), defaultMediaConcurrency, defaultDeviceName,
		strings.Join(quoted, ", "), prompt)
}

// Write stores a rendered config at path, creating its directory.
func Write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
