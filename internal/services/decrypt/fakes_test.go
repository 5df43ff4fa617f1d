package decrypt

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/breaker"
	"github.com/ternarybob/jcx/internal/services/retry"
)

var singleInput = regexp.MustCompile(`new String\('([A-Za-z0-9+/=]*)'\.decodeBase64\(\)`)

// fakeConsole executes decrypt scripts against an in-memory key. A
// ciphertext decrypts to the plaintext registered for it, anything else
// prints NULL like Secret.decrypt on a foreign key.
type fakeConsole struct {
	mu sync.Mutex

	secrets map[string]string

	// dropInBatch suppresses the output line of these ciphertexts in composite scripts
	dropInBatch map[string]bool

	// failBatch fails composite scripts before they run
	failBatch func(inputs []string) error

	// expired lists session IDs the server no longer accepts
	expired map[string]bool
	// expireAll rejects every session
	expireAll bool

	delay time.Duration

	calls       int
	singleCalls int
	batchCalls  int
	batchSizes  []int
	inFlight    int
	peak        int
}

func newFakeConsole(secrets map[string]string) *fakeConsole {
	return &fakeConsole{
		secrets:     secrets,
		dropInBatch: make(map[string]bool),
		expired:     make(map[string]bool),
	}
}

func (c *fakeConsole) RunScript(ctx context.Context, auth interfaces.Authorizer, script string) (string, error) {
	session, _ := auth.(*models.Session)

	c.mu.Lock()
	c.calls++
	if c.expireAll || (session != nil && c.expired[session.ID]) {
		c.mu.Unlock()
		return "", models.NewError(models.KindExpired, "authentication rejected (HTTP 401)")
	}
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	inputs, composite := scriptInputs(script)

	c.mu.Lock()
	if composite {
		c.batchCalls++
		c.batchSizes = append(c.batchSizes, len(inputs))
	} else {
		c.singleCalls++
	}
	failBatch := c.failBatch
	c.mu.Unlock()

	if composite && failBatch != nil {
		if err := failBatch(inputs); err != nil {
			return "", err
		}
	}

	var out strings.Builder
	for i, ct := range inputs {
		if composite && c.dropInBatch[ct] {
			continue
		}
		plaintext, ok := c.secrets[ct]
		if !ok {
			fmt.Fprintf(&out, "JCX|%d|NULL|\n", i)
			continue
		}
		fmt.Fprintf(&out, "JCX|%d|OK|%s\n", i, base64.StdEncoding.EncodeToString([]byte(plaintext)))
	}
	return out.String(), nil
}

func (c *fakeConsole) Probe(ctx context.Context, auth interfaces.Authorizer) error {
	return nil
}

func (c *fakeConsole) ServerInfo(ctx context.Context, auth interfaces.Authorizer) (*models.ServerInfo, error) {
	return &models.ServerInfo{Version: "2.462.1"}, nil
}

func (c *fakeConsole) stats() (calls, single, batch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.singleCalls, c.batchCalls
}

// scriptInputs recovers the ciphertexts embedded in a decrypt script
func scriptInputs(script string) ([]string, bool) {
	if m := singleInput.FindStringSubmatch(script); m != nil && !strings.HasPrefix(script, "def jcxInput") {
		return []string{decode(m[1])}, false
	}

	var inputs []string
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "'") && strings.HasSuffix(line, "',") {
			inputs = append(inputs, decode(strings.TrimSuffix(strings.TrimPrefix(line, "'"), "',")))
		}
	}
	return inputs, true
}

func decode(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// fakeSessions hands out numbered sessions
type fakeSessions struct {
	mu          sync.Mutex
	acquires    int
	expires     int
	invalidates int
	acquireErr  func(n int) error
}

func (s *fakeSessions) Acquire(ctx context.Context, profile models.ServerProfile) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquires++
	if s.acquireErr != nil {
		if err := s.acquireErr(s.acquires); err != nil {
			return nil, err
		}
	}
	return &models.Session{
		ID:       fmt.Sprintf("s%d", s.acquires),
		Identity: profile.Identity(),
		Method:   profile.AuthMethod,
		Material: map[string]string{models.MaterialUsername: "u", models.MaterialToken: "t"},
	}, nil
}

func (s *fakeSessions) Expire(ctx context.Context, profile models.ServerProfile) error {
	s.mu.Lock()
	s.expires++
	s.mu.Unlock()
	return nil
}

func (s *fakeSessions) Invalidate(ctx context.Context, profile models.ServerProfile) error {
	s.mu.Lock()
	s.invalidates++
	s.mu.Unlock()
	return nil
}

func (s *fakeSessions) Status(ctx context.Context, profile models.ServerProfile) models.SessionStatus {
	return models.SessionStatus{Identity: profile.Identity()}
}

func (s *fakeSessions) counts() (acquires, expires, invalidates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires, s.expires, s.invalidates
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func testProfile() models.ServerProfile {
	return models.ServerProfile{
		Name:       "test",
		URL:        "https://jenkins.example.com",
		AuthMethod: models.AuthMethodToken,
		MaxWorkers: 8,
		RateLimit:  10000,
		Burst:      100,
		Timeout:    5 * time.Second,
		Retry: models.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
		},
		Breaker: models.BreakerConfig{
			FailureThreshold: 1000,
			CoolDown:         time.Minute,
		},
		Batch: models.BatchConfig{
			MaxScriptBytes: DefaultMaxScriptBytes,
			MaxChunkSize:   DefaultMaxChunkSize,
		},
	}
}

func newTestOrchestrator(console interfaces.ScriptConsole, sessions interfaces.SessionManager, opts ...OrchestratorOption) *Orchestrator {
	logger := arbor.NewLogger()
	factory := func(models.ServerProfile) interfaces.ScriptConsole { return console }
	opts = append([]OrchestratorOption{WithRetryOptions(retry.WithSleep(noSleep))}, opts...)
	return NewOrchestrator(sessions, factory, breaker.NewRegistry(logger), logger, opts...)
}

// makeRecords builds n records with unique ciphertexts and the secrets they decrypt to
func makeRecords(n int) ([]models.CredentialRecord, map[string]string) {
	records := make([]models.CredentialRecord, n)
	secrets := make(map[string]string, n)
	for i := range records {
		ct := fmt.Sprintf("{AQAAABAAAAAQ%04d==}", i)
		records[i] = models.CredentialRecord{ID: fmt.Sprintf("cred-%04d", i), Ciphertext: ct}
		secrets[ct] = fmt.Sprintf("secret|%d'\"", i)
	}
	return records, secrets
}

func drain(ch <-chan models.DecryptionResult) map[string]models.DecryptionResult {
	out := make(map[string]models.DecryptionResult)
	for r := range ch {
		if _, dup := out[r.ID]; dup {
			panic("duplicate result for " + r.ID)
		}
		out[r.ID] = r
	}
	return out
}
