package interfaces

import (
	"context"
	"net/http"

	"github.com/ternarybob/jcx/internal/models"
)

// Authorizer applies authentication to an outbound request
type Authorizer interface {
	Authorize(req *http.Request)
}

// AuthProvider produces request-authorizing sessions for one authentication method
type AuthProvider interface {
	Method() models.AuthMethod

	// Authenticate runs a full authentication round for the profile
	Authenticate(ctx context.Context, profile models.ServerProfile) (*models.Session, error)

	// Refresh renews an expired session. Providers without refresh material
	// fall back to a full authentication round.
	Refresh(ctx context.Context, profile models.ServerProfile, expired *models.Session) (*models.Session, error)
}

// SessionManager hands out live sessions per server identity
type SessionManager interface {
	Acquire(ctx context.Context, profile models.ServerProfile) (*models.Session, error)

	// Expire keeps the session for a refresh on the next Acquire
	Expire(ctx context.Context, profile models.ServerProfile) error

	// Invalidate discards the session; the next Acquire authenticates
	Invalidate(ctx context.Context, profile models.ServerProfile) error
	Status(ctx context.Context, profile models.ServerProfile) models.SessionStatus
}
