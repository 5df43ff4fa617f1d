package decrypt

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/jenkins"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/guard"
)

// remote runs decrypt scripts for one run against one server. It holds the
// run's session and refreshes it once when the server reports it expired.
// Once authentication is rejected or the refresh fails, no further calls
// are made.
type remote struct {
	console  interfaces.ScriptConsole
	sessions interfaces.SessionManager
	profile  models.ServerProfile
	guard    *guard.Guard
	logger   arbor.ILogger

	mu       sync.Mutex
	session  *models.Session
	rejected *models.Error

	// refreshErr is the failure of the run's one refresh
	refreshErr *models.Error
}

func newRemote(console interfaces.ScriptConsole, sessions interfaces.SessionManager, profile models.ServerProfile, session *models.Session, g *guard.Guard, logger arbor.ILogger) *remote {
	return &remote{
		console:  console,
		sessions: sessions,
		profile:  profile,
		guard:    g,
		logger:   logger,
		session:  session,
	}
}

// blocked returns the error a record gets without a remote call: the run was
// cancelled, or authentication was rejected or failed to refresh earlier in
// the run.
func (r *remote) blocked(ctx context.Context) *models.Error {
	if err := r.failure(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return models.WrapError(models.KindCancelled, "run cancelled before dispatch", err)
	}
	return nil
}

// decryptOne decrypts a single record with its own script
func (r *remote) decryptOne(ctx context.Context, rec models.CredentialRecord) models.DecryptionResult {
	if err := r.blocked(ctx); err != nil {
		return models.FailedWith(rec.ID, err)
	}

	out, err := r.run(ctx, jenkins.SingleScript(rec.Ciphertext))
	if err != nil {
		return models.FailedWith(rec.ID, err)
	}

	entry := jenkins.ParseOutput(out, 1)[0]
	if !entry.OK() {
		return models.FailedWith(rec.ID, entry.Err)
	}
	return models.Decrypted(rec.ID, entry.Plaintext)
}

// decryptChunk decrypts a chunk with one composite script. The entries are
// aligned with chunk.
func (r *remote) decryptChunk(ctx context.Context, chunk []models.CredentialRecord) ([]jenkins.ScriptEntry, error) {
	if err := r.blocked(ctx); err != nil {
		return nil, err
	}

	ciphertexts := make([]string, len(chunk))
	for i, rec := range chunk {
		ciphertexts[i] = rec.Ciphertext
	}

	out, err := r.run(ctx, jenkins.BatchScript(ciphertexts))
	if err != nil {
		return nil, err
	}
	return jenkins.ParseOutput(out, len(chunk)), nil
}

// run executes a script through the guarded call path
func (r *remote) run(ctx context.Context, script string) (string, error) {
	session := r.current()

	out, err := r.call(ctx, session, script)
	if models.KindOf(err) != models.KindExpired {
		return out, err
	}

	session, err = r.refresh(ctx, session)
	if err != nil {
		return "", err
	}

	out, err = r.call(ctx, session, script)
	if models.KindOf(err) == models.KindExpired {
		return "", r.reject(models.WrapError(models.KindInvalidCredentials, "server rejected the refreshed session", err))
	}
	return out, err
}

func (r *remote) call(ctx context.Context, session *models.Session, script string) (string, error) {
	var out string
	err := r.guard.Call(ctx, func(ctx context.Context) error {
		o, err := r.console.RunScript(ctx, session, script)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (r *remote) failure() *models.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejected != nil {
		return r.rejected
	}
	return r.refreshErr
}

func (r *remote) current() *models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// refresh renews a session the server reported as expired. The session
// manager keeps the expired session so the provider can refresh it instead
// of authenticating from scratch. Concurrent callers holding the same stale
// session share one refresh, and a failed refresh is not repeated.
func (r *remote) refresh(ctx context.Context, stale *models.Session) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rejected != nil {
		return nil, r.rejected
	}
	if r.refreshErr != nil {
		return nil, r.refreshErr
	}
	if r.session != stale {
		return r.session, nil
	}

	identity := r.profile.Identity()
	r.logger.Info().Str("server", identity).Msg("Server reported the session expired, refreshing")

	if err := r.sessions.Expire(ctx, r.profile); err != nil {
		r.logger.Warn().Err(err).Str("server", identity).Msg("Could not mark session expired")
	}

	session, err := r.sessions.Acquire(ctx, r.profile)
	if err != nil {
		e := models.AsError(err)
		if e.Kind == models.KindInvalidCredentials || e.Kind == models.KindExpired {
			if err := r.sessions.Invalidate(ctx, r.profile); err != nil {
				r.logger.Warn().Err(err).Str("server", identity).Msg("Could not invalidate session")
			}
			r.rejected = models.WrapError(models.KindInvalidCredentials, "re-authentication rejected", err)
			return nil, r.rejected
		}
		r.logger.Warn().Err(err).Str("server", identity).Msg("Session refresh failed, stopping dispatch")
		r.refreshErr = e
		return nil, e
	}

	r.session = session
	return session, nil
}

func (r *remote) reject(err *models.Error) *models.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rejected == nil {
		r.rejected = err
		r.logger.Warn().Str("server", r.profile.Identity()).Msg("Authentication rejected, stopping dispatch")
	}
	return r.rejected
}
