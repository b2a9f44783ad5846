package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxIterations       = 5
	DefaultInstallPollInterval = 15 * time.Second
	DefaultRunningPollInterval = 10 * time.Second
	DefaultProvisioningTimeout = 10 * time.Minute
	DefaultPanelTimeout        = 30 * time.Second
	DefaultRequestsPerSecond   = 4
	DefaultModel               = "gpt-4o-mini"
)

type Config struct {
	Panel        PanelConfig        `yaml:"panel"`
	LLM          LLMConfig          `yaml:"llm"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Journal      JournalConfig      `yaml:"journal"`
	Digest       DigestConfig       `yaml:"digest"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// PanelConfig holds the panel endpoint and its two API keys: the client key
// for day-to-day server operations and the application key for catalog
// browsing and server creation.
type PanelConfig struct {
	BaseURL           string  `yaml:"base_url"`
	ClientAPIKey      string  `yaml:"client_api_key"`
	ApplicationAPIKey string  `yaml:"application_api_key"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LLMConfig struct {
	BaseURL       string   `yaml:"base_url"`
	APIKey        string   `yaml:"api_key"`
	Model         string   `yaml:"model"`
	MaxIterations int      `yaml:"max_iterations"`
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	Rules         []string `yaml:"rules,omitempty"`
}

type ProvisioningConfig struct {
	DefaultOwnerID      string              `yaml:"default_owner_id"`
	DefaultNodeID       string              `yaml:"default_node_id"`
	InstallPollInterval string              `yaml:"install_poll_interval"`
	RunningPollInterval string              `yaml:"running_poll_interval"`
	Timeout             string              `yaml:"timeout"`
	Limits              LimitsConfig        `yaml:"limits"`
	FeatureLimits       FeatureLimitsConfig `yaml:"feature_limits"`
	Redis               RedisConfig         `yaml:"redis"`
}

type LimitsConfig struct {
	Memory int `yaml:"memory"`
	Swap   int `yaml:"swap"`
	Disk   int `yaml:"disk"`
	IO     int `yaml:"io"`
	CPU    int `yaml:"cpu"`
}

type FeatureLimitsConfig struct {
	Databases   int `yaml:"databases"`
	Allocations int `yaml:"allocations"`
	Backups     int `yaml:"backups"`
}

// RedisConfig enables a shared claim on server names so that two processes
// never monitor the same creation. Empty Addr keeps claims in-process.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ChannelsConfig struct {
	Console   ConsoleConfig   `yaml:"console"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type ConsoleConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MentionPrefix string `yaml:"mention_prefix"`
}

type WebSocketConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Path          string `yaml:"path"`
	MentionPrefix string `yaml:"mention_prefix"`
}

type JournalConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
}

type DigestConfig struct {
	Schedule     string `yaml:"schedule"`
	Channel      string `yaml:"channel"`
	Conversation string `yaml:"conversation"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envTemplate is used when no config file is given: everything comes from
// the environment.
const envTemplate = `
panel:
  base_url: "${PANEL_URL}"
  client_api_key: "${PANEL_CLIENT_API_KEY}"
  application_api_key: "${PANEL_APPLICATION_API_KEY}"
llm:
  base_url: "${LLM_BASE_URL}"
  api_key: "${LLM_API_KEY}"
  model: "${LLM_MODEL}"
provisioning:
  default_owner_id: "${PANEL_DEFAULT_OWNER_ID}"
  default_node_id: "${PANEL_DEFAULT_NODE_ID}"
channels:
  console:
    enabled: true
`

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

// expandEnv replaces ${VAR} references. Unset variables expand to the empty
// string so that an absent credential reads as absent, not as a literal.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func expandEnvInConfig(cfg *Config) {
	cfg.Panel.BaseURL = expandEnv(cfg.Panel.BaseURL)
	cfg.Panel.ClientAPIKey = expandEnv(cfg.Panel.ClientAPIKey)
	cfg.Panel.ApplicationAPIKey = expandEnv(cfg.Panel.ApplicationAPIKey)
	cfg.LLM.BaseURL = expandEnv(cfg.LLM.BaseURL)
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.LLM.Model = expandEnv(cfg.LLM.Model)
	cfg.Provisioning.DefaultOwnerID = expandEnv(cfg.Provisioning.DefaultOwnerID)
	cfg.Provisioning.DefaultNodeID = expandEnv(cfg.Provisioning.DefaultNodeID)
	cfg.Provisioning.Redis.Addr = expandEnv(cfg.Provisioning.Redis.Addr)
	cfg.Provisioning.Redis.Password = expandEnv(cfg.Provisioning.Redis.Password)
	cfg.Journal.DSN = expandEnv(cfg.Journal.DSN)
	cfg.Journal.DataDir = expandEnv(cfg.Journal.DataDir)
}

func applyDefaults(cfg *Config) {
	if cfg.Panel.Timeout == "" {
		cfg.Panel.Timeout = DefaultPanelTimeout.String()
	}
	if cfg.Panel.RequestsPerSecond <= 0 {
		cfg.Panel.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Panel.Burst <= 0 {
		cfg.Panel.Burst = int(cfg.Panel.RequestsPerSecond)
		if cfg.Panel.Burst < 1 {
			cfg.Panel.Burst = 1
		}
	}
	cfg.Panel.BaseURL = strings.TrimRight(cfg.Panel.BaseURL, "/")
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel
	}
	if cfg.LLM.MaxIterations <= 0 {
		cfg.LLM.MaxIterations = DefaultMaxIterations
	}
	p := &cfg.Provisioning
	if p.InstallPollInterval == "" {
		p.InstallPollInterval = DefaultInstallPollInterval.String()
	}
	if p.RunningPollInterval == "" {
		p.RunningPollInterval = DefaultRunningPollInterval.String()
	}
	if p.Timeout == "" {
		p.Timeout = DefaultProvisioningTimeout.String()
	}
	if p.Limits == (LimitsConfig{}) {
		p.Limits = LimitsConfig{Memory: 2048, Swap: 0, Disk: 10240, IO: 500, CPU: 100}
	}
	if p.FeatureLimits == (FeatureLimitsConfig{}) {
		p.FeatureLimits = FeatureLimitsConfig{Databases: 1, Allocations: 1, Backups: 1}
	}
	if p.Redis.KeyPrefix == "" {
		p.Redis.KeyPrefix = "panelpilot:provision:"
	}
	if cfg.Channels.WebSocket.Path == "" {
		cfg.Channels.WebSocket.Path = "/ws"
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Load reads the config file at path. An empty path builds the config from
// environment variables alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse([]byte(envTemplate))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// ValidationError lists every problem found in a config at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks everything the process cannot run without. Missing
// creation defaults are not reported here: they only disable creation, see
// ProvisioningConfig.Defaults.
func (c *Config) Validate() error {
	var problems []string
	if c.Panel.BaseURL == "" {
		problems = append(problems, "panel.base_url is required")
	}
	if c.Panel.ClientAPIKey == "" {
		problems = append(problems, "panel.client_api_key is required")
	}
	if c.Panel.ApplicationAPIKey == "" {
		problems = append(problems, "panel.application_api_key is required")
	}
	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required")
	}
	for name, v := range map[string]string{
		"panel.timeout":                      c.Panel.Timeout,
		"provisioning.install_poll_interval": c.Provisioning.InstallPollInterval,
		"provisioning.running_poll_interval": c.Provisioning.RunningPollInterval,
		"provisioning.timeout":               c.Provisioning.Timeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		} else if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	switch c.Journal.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("journal.driver %q is not supported (sqlite, postgres)", c.Journal.Driver))
	}
	if c.Journal.Driver == "postgres" && c.Journal.DSN == "" {
		problems = append(problems, "journal.dsn is required for postgres")
	}
	if c.Digest.Schedule != "" && c.Digest.Channel == "" {
		problems = append(problems, "digest.channel is required when digest.schedule is set")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not supported (text, json)", c.Log.Format))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// PanelTimeout returns the per-request timeout for panel calls.
func (c *Config) PanelTimeout() time.Duration {
	return parseDurationOr(c.Panel.Timeout, DefaultPanelTimeout)
}

func (p ProvisioningConfig) InstallInterval() time.Duration {
	return parseDurationOr(p.InstallPollInterval, DefaultInstallPollInterval)
}

func (p ProvisioningConfig) RunningInterval() time.Duration {
	return parseDurationOr(p.RunningPollInterval, DefaultRunningPollInterval)
}

func (p ProvisioningConfig) Budget() time.Duration {
	return parseDurationOr(p.Timeout, DefaultProvisioningTimeout)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ErrCreationDisabled is returned by Defaults when the operator has not
// configured where new servers go.
var ErrCreationDisabled = errors.New("server creation is not configured")

// CreationDefaults is everything a create request takes from the operator
// rather than from the user.
type CreationDefaults struct {
	OwnerID       int
	NodeID        int
	Limits        LimitsConfig
	FeatureLimits FeatureLimitsConfig
}

// Defaults returns the creation defaults, or an error wrapping
// ErrCreationDisabled naming what is missing or malformed.
func (p ProvisioningConfig) Defaults() (CreationDefaults, error) {
	owner, err := parseID("provisioning.default_owner_id", p.DefaultOwnerID)
	if err != nil {
		return CreationDefaults{}, err
	}
	node, err := parseID("provisioning.default_node_id", p.DefaultNodeID)
	if err != nil {
		return CreationDefaults{}, err
	}
	return CreationDefaults{
		OwnerID:       owner,
		NodeID:        node,
		Limits:        p.Limits,
		FeatureLimits: p.FeatureLimits,
	}, nil
}

func parseID(field, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is not set", ErrCreationDisabled, field)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s %q is not a positive integer", ErrCreationDisabled, field, raw)
	}
	return n, nil
}
