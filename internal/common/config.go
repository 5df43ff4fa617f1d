package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/jcx/internal/models"
)

// Config represents the application configuration
type Config struct {
	DefaultServer string                  `toml:"default_server"` // Server used when none is named on the command line
	Logging       LoggingConfig           `toml:"logging"`
	Storage       StorageConfig           `toml:"storage"`
	Security      SecurityConfig          `toml:"security"`
	Decrypt       DecryptConfig           `toml:"decrypt"`
	Benchmark     BenchmarkConfig         `toml:"benchmark"`
	Servers       map[string]ServerConfig `toml:"servers"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // debug|info|warn|error
	Output []string `toml:"output"` // stdout, file
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SecurityConfig controls how sessions are kept at rest
type SecurityConfig struct {
	KeyFile        string `toml:"key_file"`        // Sealing key, created 0600 on first use
	SessionTTL     string `toml:"session_ttl"`     // Lifetime of a session without provider expiry (default: "24h")
	PersistSession bool   `toml:"persist_session"` // Keep sessions across invocations
}

// DecryptConfig holds the defaults applied to every server profile
type DecryptConfig struct {
	Strategy         string  `toml:"strategy"` // Pin a strategy: sequential, parallel, batch (default: by count)
	Adaptive         bool    `toml:"adaptive"` // Choose the strategy from benchmark history
	MaxWorkers       int     `toml:"max_workers"`
	RateLimit        float64 `toml:"rate_limit"` // Requests per second per server
	Burst            int     `toml:"burst"`
	Timeout          string  `toml:"timeout"` // Per-call timeout (default: "30s")
	MaxAttempts      int     `toml:"max_attempts"`
	BaseDelay        string  `toml:"base_delay"`
	MaxDelay         string  `toml:"max_delay"`
	Jitter           float64 `toml:"jitter"`
	FailureThreshold int     `toml:"failure_threshold"`
	CoolDown         string  `toml:"cool_down"`
	MaxScriptBytes   int     `toml:"max_script_bytes"`
	MaxChunkSize     int     `toml:"max_chunk_size"`
}

// BenchmarkConfig configures the benchmark command
type BenchmarkConfig struct {
	Strategies []string `toml:"strategies"`  // Strategies compared (default: all)
	ReportPath string   `toml:"report_path"` // CSV written by the report command
}

// ServerConfig describes one Jenkins server. Zero values inherit [decrypt].
type ServerConfig struct {
	URL        string       `toml:"url"`
	Address    string       `toml:"address"`
	AuthMethod string       `toml:"auth_method"` // token|oauth2|cookie
	Username   string       `toml:"username"`
	Token      string       `toml:"token"`
	OAuth2     OAuth2Config `toml:"oauth2"`
	Cookie     CookieConfig `toml:"cookie"`
	MaxWorkers int          `toml:"max_workers"`
	RateLimit  float64      `toml:"rate_limit"`
	Timeout    string       `toml:"timeout"`
	SessionTTL string       `toml:"session_ttl"`
}

type OAuth2Config struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
	RefreshToken string   `toml:"refresh_token"`
}

type CookieConfig struct {
	Name    string `toml:"name"`
	Value   string `toml:"value"`
	Browser bool   `toml:"browser"` // Log in through a browser window to capture the cookie
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	home := DataHome()

	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: filepath.Join(home, "data"),
			},
		},
		Security: SecurityConfig{
			KeyFile:        filepath.Join(home, "session.key"),
			SessionTTL:     "24h",
			PersistSession: true,
		},
		Decrypt: DecryptConfig{
			MaxWorkers:       10,
			RateLimit:        3,
			Burst:            1,
			Timeout:          "30s",
			MaxAttempts:      5,
			BaseDelay:        "1s",
			MaxDelay:         "60s",
			Jitter:           0.1,
			FailureThreshold: 5,
			CoolDown:         "60s",
			MaxScriptBytes:   256 << 10,
			MaxChunkSize:     100,
		},
		Benchmark: BenchmarkConfig{
			ReportPath: "jcx-benchmark.csv",
		},
		Servers: make(map[string]ServerConfig),
	}
}

// DataHome is the directory holding the database and key file
func DataHome() string {
	if dir := os.Getenv("JCX_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".jcx")
	}
	return ".jcx"
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI flags are applied by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if config.Servers == nil {
		config.Servers = make(map[string]ServerConfig)
	}

	if err := ExpandEnvReferences(config, os.LookupEnv); err != nil {
		return nil, err
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if server := os.Getenv("JCX_SERVER"); server != "" {
		config.DefaultServer = server
	}

	// Logging configuration
	if level := os.Getenv("JCX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("JCX_LOG_OUTPUT"); output != "" {
		var outputs []string
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("JCX_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if keyFile := os.Getenv("JCX_KEY_FILE"); keyFile != "" {
		config.Security.KeyFile = keyFile
	}

	// Decrypt configuration
	if workers := os.Getenv("JCX_MAX_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Decrypt.MaxWorkers = w
		}
	}
	if rateLimit := os.Getenv("JCX_RATE_LIMIT"); rateLimit != "" {
		if r, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			config.Decrypt.RateLimit = r
		}
	}
	if timeout := os.Getenv("JCX_TIMEOUT"); timeout != "" {
		config.Decrypt.Timeout = timeout
	}
	if strategy := os.Getenv("JCX_STRATEGY"); strategy != "" {
		config.Decrypt.Strategy = strategy
	}

	// Credentials never need to live in the config file
	user := os.Getenv("JCX_JENKINS_USER")
	token := os.Getenv("JCX_JENKINS_TOKEN")
	refresh := os.Getenv("JCX_OAUTH2_REFRESH_TOKEN")
	cookie := os.Getenv("JCX_COOKIE")
	for name, server := range config.Servers {
		if user != "" && server.Username == "" {
			server.Username = user
		}
		if token != "" && server.Token == "" {
			server.Token = token
		}
		if refresh != "" && server.OAuth2.RefreshToken == "" {
			server.OAuth2.RefreshToken = refresh
		}
		if cookie != "" && server.Cookie.Value == "" {
			server.Cookie.Value = cookie
		}
		config.Servers[name] = server
	}
}

// RedactedValue replaces secrets in printed configuration
const RedactedValue = "********"

// Redacted returns a copy of the configuration with every secret replaced
// by RedactedValue. Unset secrets stay empty so missing material is visible.
func (c *Config) Redacted() *Config {
	out := *c
	out.Logging.Output = append([]string(nil), c.Logging.Output...)
	out.Benchmark.Strategies = append([]string(nil), c.Benchmark.Strategies...)
	out.Servers = make(map[string]ServerConfig, len(c.Servers))
	for name, server := range c.Servers {
		server.Token = redact(server.Token)
		server.OAuth2.ClientSecret = redact(server.OAuth2.ClientSecret)
		server.OAuth2.RefreshToken = redact(server.OAuth2.RefreshToken)
		server.OAuth2.Scopes = append([]string(nil), server.OAuth2.Scopes...)
		server.Cookie.Value = redact(server.Cookie.Value)
		out.Servers[name] = server
	}
	return &out
}

// TOML encodes the configuration in the file format it is loaded from
func (c *Config) TOML() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return data, nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return RedactedValue
}

// ServerNames returns the configured server names in sorted order
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile builds the server profile for name, merging [decrypt] defaults
// under the server's own settings. An empty name selects the default server,
// or the only server when exactly one is configured.
func (c *Config) Profile(name string) (models.ServerProfile, error) {
	if name == "" {
		name = c.DefaultServer
	}
	if name == "" && len(c.Servers) == 1 {
		name = c.ServerNames()[0]
	}
	if name == "" {
		return models.ServerProfile{}, fmt.Errorf("no server selected; configure default_server or pass --server (known: %s)", strings.Join(c.ServerNames(), ", "))
	}

	server, ok := c.Servers[name]
	if !ok {
		return models.ServerProfile{}, fmt.Errorf("unknown server %q (known: %s)", name, strings.Join(c.ServerNames(), ", "))
	}

	return c.buildProfile(name, server)
}

// ProfileForURL builds a profile for a server that is not in the configuration
func (c *Config) ProfileForURL(url string, method models.AuthMethod) (models.ServerProfile, error) {
	return c.buildProfile(url, ServerConfig{URL: url, AuthMethod: string(method)})
}

func (c *Config) buildProfile(name string, server ServerConfig) (models.ServerProfile, error) {
	d := c.Decrypt

	timeout := d.Timeout
	if server.Timeout != "" {
		timeout = server.Timeout
	}
	sessionTTL := c.Security.SessionTTL
	if server.SessionTTL != "" {
		sessionTTL = server.SessionTTL
	}

	durations := map[string]string{
		"timeout":     timeout,
		"session_ttl": sessionTTL,
		"base_delay":  d.BaseDelay,
		"max_delay":   d.MaxDelay,
		"cool_down":   d.CoolDown,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for key, value := range durations {
		dur, err := parseDuration(value)
		if err != nil {
			return models.ServerProfile{}, fmt.Errorf("invalid %s for server %q: %w", key, name, err)
		}
		parsed[key] = dur
	}

	method := models.AuthMethod(strings.ToLower(server.AuthMethod))
	if method == "" {
		method = models.AuthMethodToken
	}

	profile := models.ServerProfile{
		Name:       name,
		URL:        strings.TrimRight(server.URL, "/"),
		Address:    server.Address,
		AuthMethod: method,
		MaxWorkers: firstInt(server.MaxWorkers, d.MaxWorkers),
		RateLimit:  firstFloat(server.RateLimit, d.RateLimit),
		Burst:      firstInt(d.Burst, 1),
		Timeout:    parsed["timeout"],
		SessionTTL: parsed["session_ttl"],
		Retry: models.RetryConfig{
			MaxAttempts: d.MaxAttempts,
			BaseDelay:   parsed["base_delay"],
			MaxDelay:    parsed["max_delay"],
			Jitter:      d.Jitter,
		},
		Breaker: models.BreakerConfig{
			FailureThreshold: d.FailureThreshold,
			CoolDown:         parsed["cool_down"],
		},
		Batch: models.BatchConfig{
			MaxScriptBytes: d.MaxScriptBytes,
			MaxChunkSize:   d.MaxChunkSize,
		},
		Token: models.TokenAuth{
			Username: server.Username,
			Token:    server.Token,
		},
		OAuth2: models.OAuth2Auth{
			ClientID:     server.OAuth2.ClientID,
			ClientSecret: server.OAuth2.ClientSecret,
			AuthURL:      server.OAuth2.AuthURL,
			TokenURL:     server.OAuth2.TokenURL,
			RedirectURL:  server.OAuth2.RedirectURL,
			Scopes:       server.OAuth2.Scopes,
			RefreshToken: server.OAuth2.RefreshToken,
		},
		Cookie: models.CookieAuth{
			Name:    server.Cookie.Name,
			Value:   server.Cookie.Value,
			Browser: server.Cookie.Browser,
		},
	}

	if err := profile.Validate(); err != nil {
		return models.ServerProfile{}, err
	}
	return profile, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

func firstInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstFloat(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
