package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// AuthMethod names the authentication provider used against a server
type AuthMethod string

const (
	AuthMethodToken  AuthMethod = "token"
	AuthMethodOAuth2 AuthMethod = "oauth2"
	AuthMethodCookie AuthMethod = "cookie"
)

// DefaultSessionTTL is used when a provider does not report an expiry
const DefaultSessionTTL = 24 * time.Hour

// RetryConfig bounds the exponential backoff applied to one remote call
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `json:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `json:"max_delay" validate:"gtefield=BaseDelay"`
	Jitter      float64       `json:"jitter" validate:"gte=0,lt=1"` // Fraction of the delay, e.g. 0.1 for ±10%
}

// BreakerConfig controls when the per-server circuit opens and recovers
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" validate:"gte=1"`
	CoolDown         time.Duration `json:"cool_down" validate:"gt=0"`
}

// BatchConfig sizes the chunks submitted by the batch strategy
type BatchConfig struct {
	MaxScriptBytes int `json:"max_script_bytes" validate:"gte=1024"` // Request-size budget for one composite script
	MaxChunkSize   int `json:"max_chunk_size" validate:"gte=1"`
}

// TokenAuth holds static API token material
type TokenAuth struct {
	Username string `json:"username"`
	Token    string `json:"-"`
}

// OAuth2Auth holds OAuth2 client configuration and stored refresh material
type OAuth2Auth struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
	RefreshToken string   `json:"-"`
}

// CookieAuth holds a session cookie supplied by an external acquisition step
type CookieAuth struct {
	Name    string `json:"name"`
	Value   string `json:"-"`
	Browser bool   `json:"browser"` // Acquire the cookie through an interactive browser login
}

// ServerProfile describes one Jenkins server and how to talk to it.
// Supplied per invocation and read-only during a run.
type ServerProfile struct {
	Name       string        `json:"name"`
	URL        string        `json:"url" validate:"required,url"`
	Address    string        `json:"address"` // Network address used for file transfer
	AuthMethod AuthMethod    `json:"auth_method" validate:"required,oneof=token oauth2 cookie"`
	MaxWorkers int           `json:"max_workers" validate:"gte=1"`
	RateLimit  float64       `json:"rate_limit" validate:"gt=0"` // Requests per second
	Burst      int           `json:"burst" validate:"gte=1"`
	Timeout    time.Duration `json:"timeout" validate:"gt=0"`
	SessionTTL time.Duration `json:"session_ttl"`

	Retry   RetryConfig   `json:"retry"`
	Breaker BreakerConfig `json:"breaker"`
	Batch   BatchConfig   `json:"batch"`

	Token  TokenAuth  `json:"token"`
	OAuth2 OAuth2Auth `json:"oauth2"`
	Cookie CookieAuth `json:"cookie"`
}

// Identity returns the canonical server identity used to key sessions and breakers.
// Two profiles with the same identity share a session and a breaker.
func (p ServerProfile) Identity() string {
	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(strings.TrimSpace(p.URL), "/"))
	}
	path := strings.TrimRight(u.Path, "/")
	return strings.ToLower(u.Scheme+"://"+u.Host) + path
}

// TTL returns the configured session lifetime or the default
func (p ServerProfile) TTL() time.Duration {
	if p.SessionTTL > 0 {
		return p.SessionTTL
	}
	return DefaultSessionTTL
}

var profileValidator = validator.New()

// Validate checks the profile using go-playground/validator
func (p ServerProfile) Validate() error {
	if err := profileValidator.Struct(p); err != nil {
		return fmt.Errorf("invalid server profile %q: %w", p.Name, err)
	}
	return nil
}
