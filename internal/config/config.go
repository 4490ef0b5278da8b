package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// GitHubConfig identifies the pusher repository and how to authenticate to it.
type GitHubConfig struct {
	ClientID        string `toml:"client_id"`
	Token           string `toml:"token"`
	Owner           string `toml:"owner"`
	Repo            string `toml:"repo"`
	BaseURL         string `toml:"base_url"`
	Ref             string `toml:"ref"`
	DefaultWorkflow string `toml:"default_workflow"`
}

// RegistryConfig is the private registry the pusher workflow writes to.
type RegistryConfig struct {
	Endpoint  string `toml:"endpoint"`
	Namespace string `toml:"namespace"`
}

// ProxyConfig holds optional outbound proxies for the GitHub API.
type ProxyConfig struct {
	HTTP  string `toml:"http"`
	HTTPS string `toml:"https"`
}

// PollConfig bounds run polling. Durations use time.ParseDuration syntax.
type PollConfig struct {
	Interval          string `toml:"interval"`
	Timeout           string `toml:"timeout"`
	MaxLocateAttempts int    `toml:"max_locate_attempts"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// StorageConfig locates the job history database.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// NotifyConfig enables outcome events on NATS JetStream when NATSURL is set.
type NotifyConfig struct {
	NATSURL string `toml:"nats_url"`
	Subject string `toml:"subject"`
}

// Config holds all dockworker configuration.
type Config struct {
	LogLevel string         `toml:"log_level"`
	GitHub   GitHubConfig   `toml:"github"`
	Registry RegistryConfig `toml:"registry"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Poll     PollConfig     `toml:"poll"`
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Notify   NotifyConfig   `toml:"notify"`
}

const (
	defaultRepo             = "dock_worker"
	defaultWorkflow         = "ApiDockerImagePusher"
	defaultRef              = "main"
	defaultRegistryEndpoint = "registry.cn-heyuan.aliyuncs.com"
	defaultPollInterval     = time.Second
	defaultTimeout          = 30 * time.Minute
	defaultListen           = ":8000"
	defaultSubject          = "dockworker.jobs"
	defaultLogLevel         = "info"

	configDirName = "dockworker"
	envFileName   = "conf.env"
	dbFileName    = "dockworker.sqlite"
)

// ErrIncomplete is returned by Validate when required settings are missing.
var ErrIncomplete = errors.New("incomplete configuration")

// RepoOrDefault returns GitHub.Repo if set, otherwise the stock fork name.
func (c Config) RepoOrDefault() string {
	if c.GitHub.Repo != "" {
		return c.GitHub.Repo
	}
	return defaultRepo
}

// DefaultWorkflowOrDefault returns GitHub.DefaultWorkflow if set.
func (c Config) DefaultWorkflowOrDefault() string {
	if c.GitHub.DefaultWorkflow != "" {
		return c.GitHub.DefaultWorkflow
	}
	return defaultWorkflow
}

// RefOrDefault returns the git ref workflows are dispatched on.
func (c Config) RefOrDefault() string {
	if c.GitHub.Ref != "" {
		return c.GitHub.Ref
	}
	return defaultRef
}

// RegistryEndpointOrDefault returns Registry.Endpoint if set.
func (c Config) RegistryEndpointOrDefault() string {
	if c.Registry.Endpoint != "" {
		return c.Registry.Endpoint
	}
	return defaultRegistryEndpoint
}

// ProxyURL returns the proxy for GitHub API traffic. The API is HTTPS-only,
// so the HTTPS proxy wins when both are set.
func (c Config) ProxyURL() string {
	if c.Proxy.HTTPS != "" {
		return c.Proxy.HTTPS
	}
	return c.Proxy.HTTP
}

// PollIntervalOrDefault parses Poll.Interval. "0s" is honored; empty or
// invalid values return one second.
func (c Config) PollIntervalOrDefault() time.Duration {
	if d, err := time.ParseDuration(c.Poll.Interval); err == nil && d >= 0 {
		return d
	}
	return defaultPollInterval
}

// TimeoutOrDefault parses Poll.Timeout, falling back to 30 minutes.
func (c Config) TimeoutOrDefault() time.Duration {
	if d, err := time.ParseDuration(c.Poll.Timeout); err == nil && d > 0 {
		return d
	}
	return defaultTimeout
}

// ListenOrDefault returns the API listen address.
func (c Config) ListenOrDefault() string {
	if c.Server.Listen != "" {
		return c.Server.Listen
	}
	return defaultListen
}

// DBPathOrDefault returns the job history database path.
func (c Config) DBPathOrDefault() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(DefaultConfigDir(), dbFileName)
}

// SubjectOrDefault returns the NATS subject prefix for outcome events.
func (c Config) SubjectOrDefault() string {
	if c.Notify.Subject != "" {
		return c.Notify.Subject
	}
	return defaultSubject
}

// LogLevelOrDefault returns LogLevel if set.
func (c Config) LogLevelOrDefault() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	return defaultLogLevel
}

// Validate reports every setting an orchestration call cannot run without.
func (c Config) Validate() error {
	var missing []string
	if c.GitHub.Token == "" {
		missing = append(missing, "github.token (GITHUB_TOKEN)")
	}
	if c.GitHub.Owner == "" {
		missing = append(missing, "github.owner (GITHUB_USERNAME)")
	}
	if c.Registry.Namespace == "" {
		missing = append(missing, "registry.namespace (NAME_SPACE)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Load reads the default dotenv and TOML files.
func Load() (Config, error) {
	if err := LoadEnvFile(DefaultEnvPath()); err != nil {
		return Config{}, err
	}
	return LoadFrom(DefaultConfigPath())
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set are left alone. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - GITHUB_TOKEN                overrides github.token
//   - GITHUB_USERNAME             overrides github.owner
//   - GITHUB_REPO                 overrides github.repo
//   - DEFAULT_WORKFLOW_NAME       overrides github.default_workflow
//   - IMAGE_REPOSITORIES_ENDPOINT overrides registry.endpoint
//   - NAME_SPACE                  overrides registry.namespace
//   - HTTP_PROXY / HTTPS_PROXY    override proxy.http / proxy.https
//   - DOCKWORKER_DB_PATH          overrides storage.db_path
//   - DOCKWORKER_LOG_LEVEL        overrides log_level
//   - DOCKWORKER_LISTEN           overrides server.listen
//   - DOCKWORKER_POLL_INTERVAL    overrides poll.interval
//   - DOCKWORKER_TIMEOUT          overrides poll.timeout
//   - DOCKWORKER_MAX_LOCATE       overrides poll.max_locate_attempts
//   - NATS_URL                    overrides notify.nats_url
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigDir returns ~/.config/dockworker.
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", configDirName)
}

// DefaultConfigPath returns the default path for the dockworker config file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.toml")
}

// DefaultEnvPath returns the default path for the dotenv settings file.
func DefaultEnvPath() string {
	return filepath.Join(DefaultConfigDir(), envFileName)
}

func applyEnvOverrides(cfg *Config) error {
	overrides := map[string]*string{
		"GITHUB_TOKEN":                &cfg.GitHub.Token,
		"GITHUB_USERNAME":             &cfg.GitHub.Owner,
		"GITHUB_REPO":                 &cfg.GitHub.Repo,
		"DEFAULT_WORKFLOW_NAME":       &cfg.GitHub.DefaultWorkflow,
		"IMAGE_REPOSITORIES_ENDPOINT": &cfg.Registry.Endpoint,
		"NAME_SPACE":                  &cfg.Registry.Namespace,
		"HTTP_PROXY":                  &cfg.Proxy.HTTP,
		"HTTPS_PROXY":                 &cfg.Proxy.HTTPS,
		"DOCKWORKER_DB_PATH":          &cfg.Storage.DBPath,
		"DOCKWORKER_LOG_LEVEL":        &cfg.LogLevel,
		"DOCKWORKER_LISTEN":           &cfg.Server.Listen,
		"DOCKWORKER_POLL_INTERVAL":    &cfg.Poll.Interval,
		"DOCKWORKER_TIMEOUT":          &cfg.Poll.Timeout,
		"NATS_URL":                    &cfg.Notify.NATSURL,
	}
	for key, target := range overrides {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	if v := os.Getenv("DOCKWORKER_MAX_LOCATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("DOCKWORKER_MAX_LOCATE must be a non-negative integer, got %q", v)
		}
		cfg.Poll.MaxLocateAttempts = n
	}
	return nil
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
