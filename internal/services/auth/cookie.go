package auth

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
)

// CookieSource is the external step that obtains a Jenkins session cookie
type CookieSource interface {
	Cookie(ctx context.Context, profile models.ServerProfile) (name, value string, err error)
}

// StaticCookieSource returns the cookie from the profile, prompting when it is missing
type StaticCookieSource struct {
	prompter Prompter
}

// NewStaticCookieSource creates a static source. prompter may be nil.
func NewStaticCookieSource(prompter Prompter) *StaticCookieSource {
	return &StaticCookieSource{prompter: prompter}
}

// Cookie returns the configured cookie
func (s *StaticCookieSource) Cookie(ctx context.Context, profile models.ServerProfile) (string, string, error) {
	name := profile.Cookie.Name
	if name == "" {
		name = models.DefaultCookieName
	}

	value := profile.Cookie.Value
	if value == "" && s.prompter != nil {
		s.prompter.Notify("Copy the " + name + " cookie from a logged-in browser session (developer tools > storage > cookies)")
		v, err := s.prompter.Prompt(name+" value", true)
		if err != nil {
			return "", "", models.WrapError(models.KindProviderUnavailable, "could not read session cookie", err)
		}
		value = v
	}

	if value == "" {
		return "", "", models.NewError(models.KindInvalidCredentials, "no session cookie configured")
	}
	return name, value, nil
}

// CookieProvider authenticates with an opaque session cookie obtained by a
// CookieSource. Cookies carry no refresh material, so Refresh repeats the
// acquisition step.
type CookieProvider struct {
	consoles interfaces.ConsoleFactory
	static   CookieSource
	browser  CookieSource
	logger   arbor.ILogger
}

// NewCookieProvider creates a cookie provider. browser may be nil when no browser is available.
func NewCookieProvider(consoles interfaces.ConsoleFactory, static, browser CookieSource, logger arbor.ILogger) *CookieProvider {
	return &CookieProvider{
		consoles: consoles,
		static:   static,
		browser:  browser,
		logger:   logger,
	}
}

// Method returns AuthMethodCookie
func (p *CookieProvider) Method() models.AuthMethod {
	return models.AuthMethodCookie
}

// Authenticate obtains and validates a session cookie
func (p *CookieProvider) Authenticate(ctx context.Context, profile models.ServerProfile) (*models.Session, error) {
	source := p.static
	if profile.Cookie.Browser && p.browser != nil {
		source = p.browser
	}

	name, value, err := source.Cookie(ctx, profile)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		Method: models.AuthMethodCookie,
		Material: map[string]string{
			models.MaterialCookieName:  name,
			models.MaterialCookieValue: value,
		},
	}

	if err := validate(ctx, p.consoles(profile), session); err != nil {
		return nil, err
	}

	p.logger.Debug().Str("server", profile.Identity()).Str("cookie", name).Msg("Session cookie validated")
	return session, nil
}

// Refresh obtains a new cookie
func (p *CookieProvider) Refresh(ctx context.Context, profile models.ServerProfile, expired *models.Session) (*models.Session, error) {
	return p.Authenticate(ctx, profile)
}
