package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
)

// probeConsole accepts requests carrying the expected basic auth or cookie
type probeConsole struct {
	username string
	token    string
	cookie   string
	probeErr error
	probes   int
}

func (c *probeConsole) RunScript(ctx context.Context, auth interfaces.Authorizer, script string) (string, error) {
	return "", nil
}

func (c *probeConsole) Probe(ctx context.Context, auth interfaces.Authorizer) error {
	c.probes++
	if c.probeErr != nil {
		return c.probeErr
	}

	req := httptest.NewRequest(http.MethodGet, "https://jenkins.example.com/api/json", nil)
	auth.Authorize(req)

	if user, pass, ok := req.BasicAuth(); ok && user == c.username && pass == c.token {
		return nil
	}
	if cookie, err := req.Cookie(models.DefaultCookieName); err == nil && cookie.Value == c.cookie && c.cookie != "" {
		return nil
	}
	return models.NewError(models.KindExpired, "authentication rejected (HTTP 401)")
}

func (c *probeConsole) ServerInfo(ctx context.Context, auth interfaces.Authorizer) (*models.ServerInfo, error) {
	return &models.ServerInfo{}, nil
}

func factoryFor(console interfaces.ScriptConsole) interfaces.ConsoleFactory {
	return func(models.ServerProfile) interfaces.ScriptConsole { return console }
}

type scriptedPrompter struct {
	answers  map[string]string
	err      error
	notified []string
}

func (p *scriptedPrompter) Prompt(label string, secret bool) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.answers[label], nil
}

func (p *scriptedPrompter) Notify(message string) {
	p.notified = append(p.notified, message)
}

func TestTokenProvider_ValidatesConfiguredToken(t *testing.T) {
	console := &probeConsole{username: "admin", token: "11aa"}
	p := NewTokenProvider(factoryFor(console), nil, arbor.NewLogger())

	profile := testProfile()
	profile.Token = models.TokenAuth{Username: "admin", Token: "11aa"}

	s, err := p.Authenticate(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, models.AuthMethodToken, s.Method)
	assert.Equal(t, "admin", s.Material[models.MaterialUsername])

	profile.Token.Token = "wrong"
	_, err = p.Authenticate(context.Background(), profile)
	assert.Equal(t, models.KindInvalidCredentials, models.KindOf(err))
}

func TestTokenProvider_PromptsForMissingMaterial(t *testing.T) {
	console := &probeConsole{username: "admin", token: "11aa"}
	prompter := &scriptedPrompter{answers: map[string]string{
		"Jenkins username":  "admin",
		"Jenkins API token": "11aa",
	}}
	p := NewTokenProvider(factoryFor(console), prompter, arbor.NewLogger())

	_, err := p.Authenticate(context.Background(), testProfile())
	require.NoError(t, err)
	assert.NotEmpty(t, prompter.notified)
}

func TestTokenProvider_NoMaterial(t *testing.T) {
	console := &probeConsole{}
	p := NewTokenProvider(factoryFor(console), nil, arbor.NewLogger())

	_, err := p.Authenticate(context.Background(), testProfile())
	assert.Equal(t, models.KindInvalidCredentials, models.KindOf(err))
	assert.Zero(t, console.probes, "nothing to validate")
}

func TestTokenProvider_UnreachableServer(t *testing.T) {
	console := &probeConsole{probeErr: models.NewError(models.KindConnectionReset, "refused")}
	p := NewTokenProvider(factoryFor(console), nil, arbor.NewLogger())

	profile := testProfile()
	profile.Token = models.TokenAuth{Username: "admin", Token: "11aa"}

	_, err := p.Authenticate(context.Background(), profile)
	assert.Equal(t, models.KindProviderUnavailable, models.KindOf(err))
}

func TestTokenProvider_RefreshReusesExpiredMaterial(t *testing.T) {
	console := &probeConsole{username: "admin", token: "11aa"}
	p := NewTokenProvider(factoryFor(console), nil, arbor.NewLogger())

	expired := &models.Session{Material: map[string]string{
		models.MaterialUsername: "admin",
		models.MaterialToken:    "11aa",
	}}
	s, err := p.Refresh(context.Background(), testProfile(), expired)
	require.NoError(t, err)
	assert.Equal(t, "11aa", s.Material[models.MaterialToken])
}

func TestCookieProvider_StaticCookie(t *testing.T) {
	console := &probeConsole{cookie: "node0abc"}
	p := NewCookieProvider(factoryFor(console), NewStaticCookieSource(nil), nil, arbor.NewLogger())

	profile := testProfile()
	profile.AuthMethod = models.AuthMethodCookie
	profile.Cookie = models.CookieAuth{Value: "node0abc"}

	s, err := p.Authenticate(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCookieName, s.Material[models.MaterialCookieName])

	again, err := p.Refresh(context.Background(), profile, s)
	require.NoError(t, err)
	assert.Equal(t, "node0abc", again.Material[models.MaterialCookieValue])

	profile.Cookie.Value = "stale"
	_, err = p.Authenticate(context.Background(), profile)
	assert.Equal(t, models.KindInvalidCredentials, models.KindOf(err))
}

func TestStaticCookieSource(t *testing.T) {
	profile := testProfile()

	_, _, err := NewStaticCookieSource(nil).Cookie(context.Background(), profile)
	assert.Equal(t, models.KindInvalidCredentials, models.KindOf(err))

	prompter := &scriptedPrompter{answers: map[string]string{"JSESSIONID value": "pasted"}}
	name, value, err := NewStaticCookieSource(prompter).Cookie(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, "JSESSIONID", name)
	assert.Equal(t, "pasted", value)

	failing := &scriptedPrompter{err: errors.New("no tty")}
	_, _, err = NewStaticCookieSource(failing).Cookie(context.Background(), profile)
	assert.Equal(t, models.KindProviderUnavailable, models.KindOf(err))
}

type fixedCookieSource struct {
	calls int
}

func (s *fixedCookieSource) Cookie(ctx context.Context, profile models.ServerProfile) (string, string, error) {
	s.calls++
	return "JSESSIONID.1a2b", "from-browser", nil
}

func TestCookieProvider_BrowserSourceWhenRequested(t *testing.T) {
	console := &probeConsole{}
	browser := &fixedCookieSource{}
	p := NewCookieProvider(factoryFor(console), NewStaticCookieSource(nil), browser, arbor.NewLogger())

	profile := testProfile()
	profile.AuthMethod = models.AuthMethodCookie
	profile.Cookie = models.CookieAuth{Browser: true}

	// The probe console only knows JSESSIONID, so validation fails but the browser was used
	_, err := p.Authenticate(context.Background(), profile)
	assert.Error(t, err)
	assert.Equal(t, 1, browser.calls)
}

func TestLoggedIn(t *testing.T) {
	base := "https://jenkins.example.com"

	assert.True(t, loggedIn(base+"/", base))
	assert.True(t, loggedIn(base+"/job/x/", base))
	assert.False(t, loggedIn(base+"/login?from=%2F", base))
	assert.False(t, loggedIn(base+"/securityRealm/commenceLogin", base))
	assert.False(t, loggedIn("https://sso.example.com/authorize", base))
}

func oauthServer(t *testing.T, status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func oauthProfile(tokenURL string) models.ServerProfile {
	profile := testProfile()
	profile.AuthMethod = models.AuthMethodOAuth2
	profile.OAuth2 = models.OAuth2Auth{
		ClientID:     "jcx",
		ClientSecret: "shh",
		AuthURL:      tokenURL + "/authorize",
		TokenURL:     tokenURL + "/token",
		RefreshToken: "rt-1",
	}
	return profile
}

func TestOAuth2Provider_RefreshToken(t *testing.T) {
	server := oauthServer(t, http.StatusOK, `{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`)
	defer server.Close()

	p := NewOAuth2Provider(server.Client(), nil, arbor.NewLogger())
	s, err := p.Authenticate(context.Background(), oauthProfile(server.URL))
	require.NoError(t, err)

	assert.Equal(t, "at-1", s.Material[models.MaterialAccessToken])
	assert.Equal(t, "rt-1", s.Material[models.MaterialRefreshToken], "kept when not rotated")
	assert.False(t, s.ExpiresAt.IsZero())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.Authorize(req)
	assert.Equal(t, "Bearer at-1", req.Header.Get("Authorization"))
}

func TestOAuth2Provider_RotatedRefreshToken(t *testing.T) {
	server := oauthServer(t, http.StatusOK, `{"access_token":"at-2","token_type":"Bearer","refresh_token":"rt-2","expires_in":60}`)
	defer server.Close()

	p := NewOAuth2Provider(server.Client(), nil, arbor.NewLogger())
	expired := &models.Session{Material: map[string]string{models.MaterialRefreshToken: "rt-old"}}

	s, err := p.Refresh(context.Background(), oauthProfile(server.URL), expired)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", s.Material[models.MaterialRefreshToken])
}

func TestOAuth2Provider_Errors(t *testing.T) {
	rejected := oauthServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	defer rejected.Close()

	_, err := NewOAuth2Provider(rejected.Client(), nil, arbor.NewLogger()).Authenticate(context.Background(), oauthProfile(rejected.URL))
	assert.Equal(t, models.KindInvalidCredentials, models.KindOf(err))

	down := oauthServer(t, http.StatusServiceUnavailable, `{}`)
	defer down.Close()

	_, err = NewOAuth2Provider(down.Client(), nil, arbor.NewLogger()).Authenticate(context.Background(), oauthProfile(down.URL))
	assert.Equal(t, models.KindProviderUnavailable, models.KindOf(err))

	profile := oauthProfile(down.URL)
	profile.OAuth2.RefreshToken = ""
	_, err = NewOAuth2Provider(down.Client(), nil, arbor.NewLogger()).Authenticate(context.Background(), profile)
	assert.Equal(t, models.KindInvalidCredentials, models.KindOf(err), "no refresh token and no terminal")
}

func TestOAuth2Provider_InteractiveFlow(t *testing.T) {
	server := oauthServer(t, http.StatusOK, `{"access_token":"at-3","token_type":"Bearer","refresh_token":"rt-3"}`)
	defer server.Close()

	prompter := &scriptedPrompter{answers: map[string]string{"Authorization code": "code-123"}}
	profile := oauthProfile(server.URL)
	profile.OAuth2.RefreshToken = ""

	s, err := NewOAuth2Provider(server.Client(), prompter, arbor.NewLogger()).Authenticate(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, "at-3", s.Material[models.MaterialAccessToken])
	require.Len(t, prompter.notified, 2)
	assert.Contains(t, prompter.notified[1], server.URL+"/authorize")
}
