package auth

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
)

// TokenProvider authenticates with a Jenkins username and API token,
// validated through a lightweight probe call.
type TokenProvider struct {
	consoles interfaces.ConsoleFactory
	prompter Prompter
	logger   arbor.ILogger
}

// NewTokenProvider creates a token provider. prompter may be nil for non-interactive use.
func NewTokenProvider(consoles interfaces.ConsoleFactory, prompter Prompter, logger arbor.ILogger) *TokenProvider {
	return &TokenProvider{
		consoles: consoles,
		prompter: prompter,
		logger:   logger,
	}
}

// Method returns AuthMethodToken
func (p *TokenProvider) Method() models.AuthMethod {
	return models.AuthMethodToken
}

// Authenticate validates the configured (or prompted) token against the server
func (p *TokenProvider) Authenticate(ctx context.Context, profile models.ServerProfile) (*models.Session, error) {
	return p.authenticate(ctx, profile, profile.Token.Username, profile.Token.Token)
}

// Refresh re-validates the token; static tokens have no refresh material of their own
func (p *TokenProvider) Refresh(ctx context.Context, profile models.ServerProfile, expired *models.Session) (*models.Session, error) {
	username, token := profile.Token.Username, profile.Token.Token
	if expired != nil && (username == "" || token == "") {
		username = expired.Material[models.MaterialUsername]
		token = expired.Material[models.MaterialToken]
	}
	return p.authenticate(ctx, profile, username, token)
}

func (p *TokenProvider) authenticate(ctx context.Context, profile models.ServerProfile, username, token string) (*models.Session, error) {
	var err error
	if username == "" && p.prompter != nil {
		if username, err = p.prompter.Prompt("Jenkins username", false); err != nil {
			return nil, models.WrapError(models.KindProviderUnavailable, "could not read username", err)
		}
	}
	if token == "" && p.prompter != nil {
		p.prompter.Notify("Generate an API token from your Jenkins user settings")
		if token, err = p.prompter.Prompt("Jenkins API token", true); err != nil {
			return nil, models.WrapError(models.KindProviderUnavailable, "could not read API token", err)
		}
	}
	if username == "" || token == "" {
		return nil, models.NewError(models.KindInvalidCredentials, "no username or API token configured")
	}

	session := &models.Session{
		Method: models.AuthMethodToken,
		Material: map[string]string{
			models.MaterialUsername: username,
			models.MaterialToken:    token,
		},
	}

	if err := validate(ctx, p.consoles(profile), session); err != nil {
		return nil, err
	}

	p.logger.Debug().Str("server", profile.Identity()).Str("username", username).Msg("API token validated")
	return session, nil
}

// validate probes the server with the session. A rejection means the
// material itself is wrong, so it is reported as invalid credentials.
func validate(ctx context.Context, console interfaces.ScriptConsole, session *models.Session) error {
	err := console.Probe(ctx, session)
	if err == nil {
		return nil
	}

	switch models.KindOf(err) {
	case models.KindExpired, models.KindInvalidCredentials:
		return models.WrapError(models.KindInvalidCredentials, "server rejected the credentials", err)
	default:
		return models.WrapError(models.KindProviderUnavailable, "could not validate credentials", err)
	}
}
