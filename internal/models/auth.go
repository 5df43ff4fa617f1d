package models

import (
	"net/http"
	"time"
)

// Keys used inside Session.Material
const (
	MaterialUsername     = "username"
	MaterialToken        = "token"
	MaterialAccessToken  = "access_token"
	MaterialRefreshToken = "refresh_token"
	MaterialTokenType    = "token_type"
	MaterialCookieName   = "cookie_name"
	MaterialCookieValue  = "cookie_value"
)

// DefaultCookieName is the Jenkins servlet session cookie
const DefaultCookieName = "JSESSIONID"

// Session is cached proof of authentication against one server identity
type Session struct {
	ID        string            `json:"id"`
	Identity  string            `json:"identity"`
	Method    AuthMethod        `json:"method"`
	Material  map[string]string `json:"material"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the session is no longer usable at now
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Authorize applies the session material to an outbound request
func (s *Session) Authorize(req *http.Request) {
	if s == nil {
		return
	}

	switch s.Method {
	case AuthMethodToken:
		req.SetBasicAuth(s.Material[MaterialUsername], s.Material[MaterialToken])
	case AuthMethodOAuth2:
		tokenType := s.Material[MaterialTokenType]
		if tokenType == "" {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+s.Material[MaterialAccessToken])
	case AuthMethodCookie:
		name := s.Material[MaterialCookieName]
		if name == "" {
			name = DefaultCookieName
		}
		req.AddCookie(&http.Cookie{Name: name, Value: s.Material[MaterialCookieValue]})
	}
}

// SessionStatus is a diagnostics view of the cached session for a server
type SessionStatus struct {
	Identity  string     `json:"identity"`
	Method    AuthMethod `json:"method"`
	Cached    bool       `json:"cached"`
	Persisted bool       `json:"persisted"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at,omitempty"`
}
