package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/models"
	"golang.org/x/oauth2"
)

// OAuth2Provider exchanges stored refresh material for a fresh access token,
// falling back to an interactive authorization-code flow.
type OAuth2Provider struct {
	httpClient *http.Client
	prompter   Prompter
	logger     arbor.ILogger
}

// NewOAuth2Provider creates an OAuth2 provider. httpClient may be nil to use the default client.
func NewOAuth2Provider(httpClient *http.Client, prompter Prompter, logger arbor.ILogger) *OAuth2Provider {
	return &OAuth2Provider{
		httpClient: httpClient,
		prompter:   prompter,
		logger:     logger,
	}
}

// Method returns AuthMethodOAuth2
func (p *OAuth2Provider) Method() models.AuthMethod {
	return models.AuthMethodOAuth2
}

// Authenticate uses the configured refresh token when present, otherwise runs
// the interactive authorization-code flow.
func (p *OAuth2Provider) Authenticate(ctx context.Context, profile models.ServerProfile) (*models.Session, error) {
	if profile.OAuth2.RefreshToken != "" {
		return p.refresh(ctx, profile, profile.OAuth2.RefreshToken)
	}
	return p.interactive(ctx, profile)
}

// Refresh exchanges the expired session's refresh token
func (p *OAuth2Provider) Refresh(ctx context.Context, profile models.ServerProfile, expired *models.Session) (*models.Session, error) {
	refreshToken := ""
	if expired != nil {
		refreshToken = expired.Material[models.MaterialRefreshToken]
	}
	if refreshToken == "" {
		refreshToken = profile.OAuth2.RefreshToken
	}
	if refreshToken == "" {
		return p.interactive(ctx, profile)
	}
	return p.refresh(ctx, profile, refreshToken)
}

func (p *OAuth2Provider) refresh(ctx context.Context, profile models.ServerProfile, refreshToken string) (*models.Session, error) {
	cfg := oauthConfig(profile)
	ts := cfg.TokenSource(p.context(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := ts.Token()
	if err != nil {
		return nil, classifyOAuthError("refresh token exchange failed", err)
	}

	p.logger.Debug().Str("server", profile.Identity()).Msg("OAuth2 access token refreshed")
	return sessionFromToken(tok, refreshToken), nil
}

func (p *OAuth2Provider) interactive(ctx context.Context, profile models.ServerProfile) (*models.Session, error) {
	if p.prompter == nil {
		return nil, models.NewError(models.KindInvalidCredentials, "no OAuth2 refresh token configured and no terminal for the interactive flow")
	}

	cfg := oauthConfig(profile)
	state := uuid.New().String()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)

	p.prompter.Notify("Visit this URL to authorize jcx:")
	p.prompter.Notify(authURL)

	code, err := p.prompter.Prompt("Authorization code", true)
	if err != nil {
		return nil, models.WrapError(models.KindProviderUnavailable, "could not read authorization code", err)
	}
	if code == "" {
		return nil, models.NewError(models.KindInvalidCredentials, "empty authorization code")
	}

	tok, err := cfg.Exchange(p.context(ctx), code)
	if err != nil {
		return nil, classifyOAuthError("authorization code exchange failed", err)
	}

	p.logger.Info().Str("server", profile.Identity()).Msg("OAuth2 authorization completed")
	return sessionFromToken(tok, ""), nil
}

func (p *OAuth2Provider) context(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func oauthConfig(profile models.ServerProfile) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     profile.OAuth2.ClientID,
		ClientSecret: profile.OAuth2.ClientSecret,
		RedirectURL:  profile.OAuth2.RedirectURL,
		Scopes:       profile.OAuth2.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  profile.OAuth2.AuthURL,
			TokenURL: profile.OAuth2.TokenURL,
		},
	}
}

// sessionFromToken keeps the previous refresh token when the server does not rotate it
func sessionFromToken(tok *oauth2.Token, previousRefresh string) *models.Session {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	return &models.Session{
		Method: models.AuthMethodOAuth2,
		Material: map[string]string{
			models.MaterialAccessToken:  tok.AccessToken,
			models.MaterialRefreshToken: refresh,
			models.MaterialTokenType:    tok.Type(),
		},
		ExpiresAt: tok.Expiry,
	}
}

// classifyOAuthError separates rejected grants from an unreachable provider
func classifyOAuthError(message string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return models.WrapError(models.KindProviderUnavailable, message, err)
		}
		return models.WrapError(models.KindInvalidCredentials, message, err)
	}
	return models.WrapError(models.KindProviderUnavailable, message, err)
}
