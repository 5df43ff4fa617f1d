package jenkins

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/models"
)

func tokenSession() *models.Session {
	return &models.Session{
		Method: models.AuthMethodToken,
		Material: map[string]string{
			models.MaterialUsername: "admin",
			models.MaterialToken:    "secret-token",
		},
	}
}

func resultPage(output string) string {
	return `<html><head></head><body><div id="main-panel">
<h1>Script Console</h1>
<form><textarea name="script"></textarea></form>
<h2>Result</h2><pre>` + html.EscapeString(output) + `</pre>
</div></body></html>`
}

func authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && user == "admin" && pass == "secret-token"
}

func TestClient_RunScript_UsesCrumbAndExtractsResult(t *testing.T) {
	var crumbRequests int32

	mux := http.NewServeMux()
	mux.HandleFunc(crumbIssuerPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&crumbRequests, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"crumbRequestField":"Jenkins-Crumb","crumb":"c0ffee"}`)
	})
	mux.HandleFunc(scriptPath, func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost || r.Header.Get("Jenkins-Crumb") != "c0ffee" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "c0ffee", r.PostForm.Get("Jenkins-Crumb"))
		assert.Contains(t, r.PostForm.Get("script"), "hudson.util.Secret.decrypt")
		fmt.Fprint(w, resultPage("JCX|0|OK|"+b64("s3cr<e>t")))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL+"/", WithLogger(arbor.NewLogger()))

	for i := 0; i < 2; i++ {
		out, err := client.RunScript(context.Background(), tokenSession(), SingleScript("{AQAA}"))
		require.NoError(t, err)

		entries := ParseOutput(out, 1)
		require.True(t, entries[0].OK())
		assert.Equal(t, "s3cr<e>t", entries[0].Plaintext)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&crumbRequests), "crumb is cached")
}

func TestClient_RunScript_ScrapesCrumbWithoutIssuer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(crumbIssuerPath, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc(scriptPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<html><head data-crumb-header="Jenkins-Crumb" data-crumb-value="scraped"></head><body></body></html>`)
			return
		}
		if r.Header.Get("Jenkins-Crumb") != "scraped" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, resultPage("JCX|0|OK|"+b64("ok")))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	out, err := NewClient(server.URL).RunScript(context.Background(), tokenSession(), SingleScript("{AQAA}"))
	require.NoError(t, err)
	assert.Contains(t, out, "JCX|0|OK|")
}

func TestClient_RunScript_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   models.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, models.KindExpired},
		{"forbidden", http.StatusForbidden, models.KindExpired},
		{"not found", http.StatusNotFound, models.KindScriptExecutionFailed},
		{"gateway timeout", http.StatusGatewayTimeout, models.KindTimeout},
		{"throttled", http.StatusTooManyRequests, models.KindServerError},
		{"internal error", http.StatusInternalServerError, models.KindServerError},
		{"bad request", http.StatusBadRequest, models.KindScriptExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc(crumbIssuerPath, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"crumbRequestField":"Jenkins-Crumb","crumb":"c"}`)
			})
			mux.HandleFunc(scriptPath, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			server := httptest.NewServer(mux)
			defer server.Close()

			_, err := NewClient(server.URL).RunScript(context.Background(), tokenSession(), SingleScript("{x}"))
			require.Error(t, err)
			assert.Equal(t, tt.want, models.KindOf(err))
		})
	}
}

func TestClient_RunScript_LoginRedirectIsExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(crumbIssuerPath, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?from=%2FcrumbIssuer", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>Sign in</body></html>")
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := NewClient(server.URL).RunScript(context.Background(), tokenSession(), SingleScript("{x}"))
	require.Error(t, err)
	assert.Equal(t, models.KindExpired, models.KindOf(err))
}

func TestClient_RunScript_MissingResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(crumbIssuerPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"crumbRequestField":"Jenkins-Crumb","crumb":"c"}`)
	})
	mux.HandleFunc(scriptPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><h1>Script Console</h1></body></html>")
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := NewClient(server.URL).RunScript(context.Background(), tokenSession(), SingleScript("{x}"))
	assert.Equal(t, models.KindScriptExecutionFailed, models.KindOf(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc(apiPath, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL).ServerInfo(ctx, tokenSession())
	assert.Equal(t, models.KindTimeout, models.KindOf(err))
}

func TestClient_ServerInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPath, func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Jenkins", "2.462.1")
		fmt.Fprint(w, `{"mode":"NORMAL","nodeName":"","numExecutors":2,"useCrumbs":true,"useSecurity":true}`)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)

	info, err := client.ServerInfo(context.Background(), tokenSession())
	require.NoError(t, err)
	assert.Equal(t, "2.462.1", info.Version)
	assert.Equal(t, 2, info.NumExecutors)
	assert.True(t, info.UseCrumbs)

	require.NoError(t, client.Probe(context.Background(), tokenSession()))

	bad := tokenSession()
	bad.Material[models.MaterialToken] = "wrong"
	assert.Equal(t, models.KindExpired, models.KindOf(client.Probe(context.Background(), bad)))
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewClient(url).Probe(context.Background(), tokenSession())
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}
