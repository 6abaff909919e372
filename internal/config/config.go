// Package config loads the engine configuration.
//
// A config file is JSON or YAML. Every field is optional; the Get* methods
// supply defaults for fields the file omits, so partial configs are safe.
// After the file is parsed, a .env file in the working directory (if any) and
// GENLAB_* environment variables override individual keys.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the service looks for its config when no path is given.
const DefaultConfigPath = "genlab.yaml"

// Defaults.
const (
	DefaultHostURL         = "http://127.0.0.1:8188"
	DefaultListen          = ":8189"
	DefaultDBPath          = "genlab.db"
	DefaultMaxCombinations = 100
	DefaultPollInterval    = 3 * time.Second
	DefaultPollTimeout     = 5 * time.Minute
	DefaultNotifyDuration  = 3 * time.Second
)

// DefaultParams are the parameter names pre-selected on a fresh panel.
var DefaultParams = []string{"steps", "cfg", "sampler_name"}

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root engine configuration.
type Config struct {
	HostURL         *string  `json:"host_url,omitempty" yaml:"host_url,omitempty"`
	AssistantURL    *string  `json:"assistant_url,omitempty" yaml:"assistant_url,omitempty"`
	AssistantAPIKey *string  `json:"assistant_api_key,omitempty" yaml:"assistant_api_key,omitempty"`
	Listen          *string  `json:"listen,omitempty" yaml:"listen,omitempty"`
	DBPath          *string  `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	MaxCombinations *int     `json:"max_combinations,omitempty" yaml:"max_combinations,omitempty"`
	PollInterval    *string  `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`     // duration string like "3s"
	PollTimeout     *string  `json:"poll_timeout,omitempty" yaml:"poll_timeout,omitempty"`       // duration string like "5m"
	NotifyDuration  *string  `json:"notify_duration,omitempty" yaml:"notify_duration,omitempty"` // duration string like "3s"
	DefaultParams   []string `json:"default_params,omitempty" yaml:"default_params,omitempty"`
	ClientID        *string  `json:"client_id,omitempty" yaml:"client_id,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// LoadConfig reads the config file at path, applies .env and environment
// overrides and validates the result. A missing file at DefaultConfigPath is
// not an error: the defaults plus overrides are used instead.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = DefaultConfigPath
	}
	cleanPath := filepath.Clean(path)

	cfg, err := readFile(cleanPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && cleanPath == DefaultConfigPath {
			cfg = Empty()
		} else {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GENLAB_* variables looked up through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	strs := []struct {
		key string
		dst **string
	}{
		{"GENLAB_HOST_URL", &c.HostURL},
		{"GENLAB_ASSISTANT_URL", &c.AssistantURL},
		{"GENLAB_ASSISTANT_API_KEY", &c.AssistantAPIKey},
		{"GENLAB_LISTEN", &c.Listen},
		{"GENLAB_DB_PATH", &c.DBPath},
		{"GENLAB_POLL_INTERVAL", &c.PollInterval},
		{"GENLAB_POLL_TIMEOUT", &c.PollTimeout},
		{"GENLAB_NOTIFY_DURATION", &c.NotifyDuration},
		{"GENLAB_CLIENT_ID", &c.ClientID},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = ptrString(v)
		}
	}

	if v := getenv("GENLAB_MAX_COMBINATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GENLAB_MAX_COMBINATIONS: %w", err)
		}
		c.MaxCombinations = ptrInt(n)
	}
	if v := getenv("GENLAB_DEFAULT_PARAMS"); v != "" {
		var params []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				params = append(params, p)
			}
		}
		c.DefaultParams = params
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.MaxCombinations != nil && *c.MaxCombinations < 1 {
		return fmt.Errorf("max_combinations must be at least 1, got %d", *c.MaxCombinations)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"poll_interval", c.PollInterval},
		{"poll_timeout", c.PollTimeout},
		{"notify_duration", c.NotifyDuration},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	for _, u := range []*string{c.HostURL, c.AssistantURL} {
		if u != nil && *u != "" && !strings.HasPrefix(*u, "http://") && !strings.HasPrefix(*u, "https://") {
			return fmt.Errorf("url must start with http:// or https://, got %q", *u)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetHostURL returns the base URL of the node-editor host.
func (c *Config) GetHostURL() string {
	return strings.TrimRight(stringOr(c.HostURL, DefaultHostURL), "/")
}

// GetAssistantURL returns the assistant base URL, or "" when the assistant is disabled.
func (c *Config) GetAssistantURL() string {
	return strings.TrimRight(stringOr(c.AssistantURL, ""), "/")
}

// GetAssistantAPIKey returns the assistant API key, if any.
func (c *Config) GetAssistantAPIKey() string {
	return stringOr(c.AssistantAPIKey, "")
}

// GetListen returns the address the HTTP API listens on.
func (c *Config) GetListen() string {
	return stringOr(c.Listen, DefaultListen)
}

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string {
	return stringOr(c.DBPath, DefaultDBPath)
}

// GetMaxCombinations returns the combination cap.
func (c *Config) GetMaxCombinations() int {
	if c.MaxCombinations == nil {
		return DefaultMaxCombinations
	}
	return *c.MaxCombinations
}

// GetPollInterval returns the delay between result polls.
func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, DefaultPollInterval)
}

// GetPollTimeout returns how long a session may poll before it times out.
func (c *Config) GetPollTimeout() time.Duration {
	return durationOr(c.PollTimeout, DefaultPollTimeout)
}

// GetNotifyDuration returns how long the apply notification stays visible.
func (c *Config) GetNotifyDuration() time.Duration {
	return durationOr(c.NotifyDuration, DefaultNotifyDuration)
}

// GetDefaultParams returns the pre-selected parameter names.
func (c *Config) GetDefaultParams() []string {
	if len(c.DefaultParams) == 0 {
		out := make([]string, len(DefaultParams))
		copy(out, DefaultParams)
		return out
	}
	out := make([]string, len(c.DefaultParams))
	copy(out, c.DefaultParams)
	return out
}

// GetClientID returns the client id sent with every submitted job. An empty
// result means the caller should generate one.
func (c *Config) GetClientID() string {
	return stringOr(c.ClientID, "")
}
