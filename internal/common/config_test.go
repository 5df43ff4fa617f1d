package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/jcx/internal/models"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func lookupMap(values map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestNewDefaultConfig_UsesDataHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("JCX_HOME", home)

	config := NewDefaultConfig()

	assert.Equal(t, filepath.Join(home, "data"), config.Storage.Badger.Path)
	assert.Equal(t, filepath.Join(home, "session.key"), config.Security.KeyFile)
	assert.True(t, config.Security.PersistSession)
	assert.Equal(t, 10, config.Decrypt.MaxWorkers)
	assert.NotNil(t, config.Servers)
}

func TestLoadFromFiles_LaterFilesWin(t *testing.T) {
	base := writeConfig(t, "base.toml", `
[decrypt]
max_workers = 4
rate_limit = 2.5

[logging]
level = "debug"
`)
	override := writeConfig(t, "override.toml", `
[decrypt]
max_workers = 8
`)

	config, err := LoadFromFiles(base, "", override)
	require.NoError(t, err)

	assert.Equal(t, 8, config.Decrypt.MaxWorkers)
	assert.Equal(t, 2.5, config.Decrypt.RateLimit)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "30s", config.Decrypt.Timeout, "unset keys keep defaults")
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to read config file")

	bad := writeConfig(t, "bad.toml", "[decrypt\nmax_workers = ")
	_, err = LoadFromFiles(bad)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "jcx.toml", `
[servers.prod]
url = "https://jenkins.example.com"
username = "admin"

[servers.ci]
url = "https://ci.example.com"
username = "builder"
token = "configured"
`)
	t.Setenv("JCX_MAX_WORKERS", "3")
	t.Setenv("JCX_RATE_LIMIT", "1.5")
	t.Setenv("JCX_LOG_OUTPUT", "stdout, file,")
	t.Setenv("JCX_SERVER", "prod")
	t.Setenv("JCX_JENKINS_TOKEN", "from-env")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 3, config.Decrypt.MaxWorkers)
	assert.Equal(t, 1.5, config.Decrypt.RateLimit)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.Equal(t, "prod", config.DefaultServer)
	assert.Equal(t, "from-env", config.Servers["prod"].Token)
	assert.Equal(t, "configured", config.Servers["ci"].Token, "configured tokens are not replaced")
}

func TestLoadFromFiles_ExpandsReferences(t *testing.T) {
	path := writeConfig(t, "jcx.toml", `
[servers.prod]
url = "https://{JCX_TEST_HOST}"
token = "{JCX_TEST_TOKEN}"
`)
	t.Setenv("JCX_TEST_HOST", "jenkins.example.com")
	t.Setenv("JCX_TEST_TOKEN", "11aa22bb")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "https://jenkins.example.com", config.Servers["prod"].URL)
	assert.Equal(t, "11aa22bb", config.Servers["prod"].Token)
}

func TestExpandEnvReferences_Unresolved(t *testing.T) {
	config := NewDefaultConfig()
	config.Logging.Output = []string{"stdout", "{LOG_TARGET}"}
	config.Servers["prod"] = ServerConfig{
		URL:   "https://jenkins.example.com",
		Token: "{MISSING_TOKEN}",
	}

	err := ExpandEnvReferences(config, lookupMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{LOG_TARGET} in logging.output[1]")
	assert.Contains(t, err.Error(), "{MISSING_TOKEN} in servers.prod.token")
}

func TestExpandEnvReferences_NestedAndSlices(t *testing.T) {
	config := NewDefaultConfig()
	config.Servers["sso"] = ServerConfig{
		URL: "https://jenkins.example.com",
		OAuth2: OAuth2Config{
			ClientSecret: "{CLIENT_SECRET}",
			Scopes:       []string{"openid", "{EXTRA_SCOPE}"},
		},
	}

	err := ExpandEnvReferences(config, lookupMap(map[string]string{
		"CLIENT_SECRET": "s3cret",
		"EXTRA_SCOPE":   "offline_access",
	}))
	require.NoError(t, err)

	server := config.Servers["sso"]
	assert.Equal(t, "s3cret", server.OAuth2.ClientSecret)
	assert.Equal(t, []string{"openid", "offline_access"}, server.OAuth2.Scopes)
}

func TestReplaceReferences(t *testing.T) {
	lookup := lookupMap(map[string]string{"USER": "admin", "EMPTY": ""})

	tests := []struct {
		name    string
		input   string
		want    string
		missing []string
	}{
		{"no references", "plain text", "plain text", nil},
		{"single", "user={USER}", "user=admin", nil},
		{"repeated", "{USER}:{USER}", "admin:admin", nil},
		{"empty value resolves", "[{EMPTY}]", "[]", nil},
		{"missing kept in place", "{USER}/{NOPE}", "admin/{NOPE}", []string{"NOPE"}},
		{"not a reference", "{1abc} {a-b}", "{1abc} {a-b}", nil},
		{"jenkins secret untouched", "{AQAAABAAAAAQ+/=}", "{AQAAABAAAAAQ+/=}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, missing := ReplaceReferences(tt.input, lookup)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.missing, missing)
		})
	}
}

func TestProfile_MergesDecryptDefaults(t *testing.T) {
	config := NewDefaultConfig()
	config.Servers["prod"] = ServerConfig{
		URL:        "https://jenkins.example.com/",
		Username:   "admin",
		Token:      "token",
		MaxWorkers: 4,
		Timeout:    "5s",
	}

	profile, err := config.Profile("prod")
	require.NoError(t, err)

	assert.Equal(t, "prod", profile.Name)
	assert.Equal(t, "https://jenkins.example.com", profile.URL)
	assert.Equal(t, models.AuthMethodToken, profile.AuthMethod)
	assert.Equal(t, 4, profile.MaxWorkers)
	assert.Equal(t, 3.0, profile.RateLimit)
	assert.Equal(t, 5*time.Second, profile.Timeout)
	assert.Equal(t, 24*time.Hour, profile.SessionTTL)
	assert.Equal(t, 5, profile.Retry.MaxAttempts)
	assert.Equal(t, time.Second, profile.Retry.BaseDelay)
	assert.Equal(t, time.Minute, profile.Retry.MaxDelay)
	assert.Equal(t, 60*time.Second, profile.Breaker.CoolDown)
	assert.Equal(t, 100, profile.Batch.MaxChunkSize)
	assert.Equal(t, "admin", profile.Token.Username)
}

func TestProfile_Selection(t *testing.T) {
	config := NewDefaultConfig()
	config.Servers["prod"] = ServerConfig{URL: "https://prod.example.com"}

	profile, err := config.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "prod", profile.Name, "the only server is selected")

	config.Servers["ci"] = ServerConfig{URL: "https://ci.example.com", AuthMethod: "COOKIE"}
	_, err = config.Profile("")
	assert.ErrorContains(t, err, "no server selected")

	config.DefaultServer = "ci"
	profile, err = config.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "ci", profile.Name)
	assert.Equal(t, models.AuthMethodCookie, profile.AuthMethod)

	_, err = config.Profile("staging")
	assert.ErrorContains(t, err, `unknown server "staging" (known: ci, prod)`)
}

func TestProfile_Invalid(t *testing.T) {
	config := NewDefaultConfig()
	config.Servers["prod"] = ServerConfig{URL: "https://prod.example.com", Timeout: "soon"}

	_, err := config.Profile("prod")
	assert.ErrorContains(t, err, `invalid timeout for server "prod"`)

	config.Servers["prod"] = ServerConfig{URL: "https://prod.example.com", AuthMethod: "kerberos"}
	_, err = config.Profile("prod")
	assert.Error(t, err)

	config.Servers["prod"] = ServerConfig{URL: "not a url"}
	_, err = config.Profile("prod")
	assert.Error(t, err)
}

func TestProfileForURL(t *testing.T) {
	config := NewDefaultConfig()

	profile, err := config.ProfileForURL("https://adhoc.example.com/", models.AuthMethodOAuth2)
	require.NoError(t, err)

	assert.Equal(t, "https://adhoc.example.com/", profile.Name)
	assert.Equal(t, "https://adhoc.example.com", profile.URL)
	assert.Equal(t, models.AuthMethodOAuth2, profile.AuthMethod)
	assert.Equal(t, 10, profile.MaxWorkers)
}

func TestServerNames_Sorted(t *testing.T) {
	config := NewDefaultConfig()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		config.Servers[name] = ServerConfig{}
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, config.ServerNames())
}

func TestConfig_RedactedHidesSecrets(t *testing.T) {
	for _, name := range []string{"JCX_JENKINS_TOKEN", "JCX_OAUTH2_REFRESH_TOKEN", "JCX_COOKIE"} {
		t.Setenv(name, "")
	}

	path := writeConfig(t, "jcx.toml", `
default_server = "ci"

[servers.ci]
url = "https://jenkins.example.com"
auth_method = "oauth2"
username = "releng"
token = "api-token-value"

[servers.ci.oauth2]
client_id = "jcx"
client_secret = "client-secret-value"
refresh_token = "refresh-token-value"
scopes = ["openid"]

[servers.ci.cookie]
name = "JSESSIONID"
value = "cookie-value"

[servers.bare]
url = "https://bare.example.com"
`)
	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	redacted := config.Redacted()
	ci := redacted.Servers["ci"]
	assert.Equal(t, RedactedValue, ci.Token)
	assert.Equal(t, RedactedValue, ci.OAuth2.ClientSecret)
	assert.Equal(t, RedactedValue, ci.OAuth2.RefreshToken)
	assert.Equal(t, RedactedValue, ci.Cookie.Value)
	assert.Equal(t, "releng", ci.Username)
	assert.Equal(t, "jcx", ci.OAuth2.ClientID)
	assert.Empty(t, redacted.Servers["bare"].Token, "unset secrets stay empty")

	// The loaded configuration keeps its secrets
	assert.Equal(t, "api-token-value", config.Servers["ci"].Token)
	assert.Equal(t, "cookie-value", config.Servers["ci"].Cookie.Value)

	data, err := redacted.TOML()
	require.NoError(t, err)
	text := string(data)
	for _, secret := range []string{"api-token-value", "client-secret-value", "refresh-token-value", "cookie-value"} {
		assert.NotContains(t, text, secret)
	}
	assert.Contains(t, text, "https://jenkins.example.com")
	assert.Contains(t, text, RedactedValue)
}
