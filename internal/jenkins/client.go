package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
)

const (
	// DefaultTimeout is the HTTP client timeout; per-call deadlines come from the context
	DefaultTimeout = 2 * time.Minute

	// DefaultUserAgent identifies the tool to Jenkins access logs
	DefaultUserAgent = "jcx/1.0"

	scriptPath      = "/manage/script"
	crumbIssuerPath = "/crumbIssuer/api/json"
	apiPath         = "/api/json"

	defaultCrumbField = "Jenkins-Crumb"
	maxResponseBytes  = 32 << 20
)

// Client talks to the script console of one Jenkins server
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     arbor.ILogger

	crumbMu sync.Mutex
	crumb   *crumb
}

type crumb struct {
	Field string `json:"crumbRequestField"`
	Value string `json:"crumb"`
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// NewClient creates a new script console client for the Jenkins server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewConsoleFactory returns a factory building clients that share httpClient
func NewConsoleFactory(httpClient *http.Client, logger arbor.ILogger) interfaces.ConsoleFactory {
	return func(profile models.ServerProfile) interfaces.ScriptConsole {
		return NewClient(profile.URL, WithHTTPClient(httpClient), WithLogger(logger))
	}
}

// RunScript submits a Groovy script to the script console and returns the printed output.
func (c *Client) RunScript(ctx context.Context, auth interfaces.Authorizer, script string) (string, error) {
	cr, err := c.getCrumb(ctx, auth)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("script", script)
	form.Set("Submit", "Run")
	if cr != nil {
		form.Set(cr.Field, cr.Value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scriptPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", models.WrapError(models.KindScriptExecutionFailed, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cr != nil {
		req.Header.Set(cr.Field, cr.Value)
	}

	body, err := c.do(req, auth)
	if err != nil {
		if models.KindOf(err) == models.KindExpired {
			c.resetCrumb()
		}
		return "", err
	}

	return extractResult(body)
}

// Probe makes a lightweight authenticated call to validate credentials.
func (c *Client) Probe(ctx context.Context, auth interfaces.Authorizer) error {
	_, err := c.ServerInfo(ctx, auth)
	return err
}

// ServerInfo retrieves the root API document and the server version.
func (c *Client) ServerInfo(ctx context.Context, auth interfaces.Authorizer) (*models.ServerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPath, nil)
	if err != nil {
		return nil, models.WrapError(models.KindScriptExecutionFailed, "failed to create request", err)
	}

	resp, err := c.send(req, auth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info models.ServerInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&info); err != nil {
		return nil, models.WrapError(models.KindScriptExecutionFailed, "failed to decode server info", err)
	}
	info.Version = resp.Header.Get("X-Jenkins")

	return &info, nil
}

// getCrumb returns the CSRF crumb, or nil when the server does not issue one.
func (c *Client) getCrumb(ctx context.Context, auth interfaces.Authorizer) (*crumb, error) {
	c.crumbMu.Lock()
	defer c.crumbMu.Unlock()

	if c.crumb != nil {
		return c.crumb, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+crumbIssuerPath, nil)
	if err != nil {
		return nil, models.WrapError(models.KindScriptExecutionFailed, "failed to create crumb request", err)
	}

	resp, err := c.send(req, auth)
	if err == nil {
		defer resp.Body.Close()
		var cr crumb
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&cr); decodeErr == nil && cr.Value != "" {
			if cr.Field == "" {
				cr.Field = defaultCrumbField
			}
			c.crumb = &cr
			return c.crumb, nil
		}
	} else if models.KindOf(err) != models.KindScriptExecutionFailed {
		// Auth and transport failures are meaningful; a missing crumb issuer is not
		return nil, err
	}

	cr, err := c.scrapeCrumb(ctx, auth)
	if err != nil {
		return nil, err
	}
	c.crumb = cr
	return cr, nil
}

// scrapeCrumb reads the crumb from the script console page for servers
// where the crumb issuer API is unavailable.
func (c *Client) scrapeCrumb(ctx context.Context, auth interfaces.Authorizer) (*crumb, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+scriptPath, nil)
	if err != nil {
		return nil, models.WrapError(models.KindScriptExecutionFailed, "failed to create request", err)
	}

	body, err := c.do(req, auth)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, nil
	}

	if head := doc.Find("head[data-crumb-value]").First(); head.Length() > 0 {
		value, _ := head.Attr("data-crumb-value")
		field, _ := head.Attr("data-crumb-header")
		if field == "" {
			field = defaultCrumbField
		}
		return &crumb{Field: field, Value: value}, nil
	}

	if input := doc.Find(`input[name="` + defaultCrumbField + `"]`).First(); input.Length() > 0 {
		if value, ok := input.Attr("value"); ok && value != "" {
			return &crumb{Field: defaultCrumbField, Value: value}, nil
		}
	}

	if c.logger != nil {
		c.logger.Debug().Str("url", c.baseURL).Msg("No crumb found, submitting without CSRF protection")
	}
	return nil, nil
}

func (c *Client) resetCrumb() {
	c.crumbMu.Lock()
	c.crumb = nil
	c.crumbMu.Unlock()
}

// do sends the request and returns the response body.
func (c *Client) do(req *http.Request, auth interfaces.Authorizer) (string, error) {
	resp, err := c.send(req, auth)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", classifyTransportError(req.Context(), err)
	}
	return string(body), nil
}

// send executes the request and classifies failures. On success the caller owns resp.Body.
func (c *Client) send(req *http.Request, auth interfaces.Authorizer) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	if auth != nil {
		auth.Authorize(req)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", req.Method).
			Str("url", c.baseURL+req.URL.Path).
			Msg("Jenkins request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(req.Context(), err)
	}

	if err := checkStatus(resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

// checkStatus maps a response onto the error taxonomy
func checkStatus(resp *http.Response) error {
	// Unauthenticated browser-style sessions are redirected to the login page
	if resp.Request != nil && resp.Request.URL != nil && strings.HasSuffix(strings.TrimRight(resp.Request.URL.Path, "/"), "/login") {
		return models.NewError(models.KindExpired, "redirected to login page")
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.NewError(models.KindExpired, fmt.Sprintf("authentication rejected (HTTP %d)", code))
	case code == http.StatusNotFound:
		return models.NewError(models.KindScriptExecutionFailed, "endpoint not found (HTTP 404)")
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return models.NewError(models.KindTimeout, fmt.Sprintf("server timed out (HTTP %d)", code))
	case code == http.StatusTooManyRequests || code >= 500:
		return models.NewError(models.KindServerError, fmt.Sprintf("server error (HTTP %d)", code))
	default:
		return models.NewError(models.KindScriptExecutionFailed, fmt.Sprintf("request failed (HTTP %d)", code))
	}
}

// classifyTransportError maps network failures onto the error taxonomy
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return models.WrapError(models.KindCancelled, "request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapError(models.KindTimeout, "request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.WrapError(models.KindTimeout, "request timed out", err)
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return models.WrapError(models.KindConnectionReset, "connection failed", err)
	}

	return models.WrapError(models.KindConnectionReset, "request failed", err)
}

// extractResult pulls the script output from the script console page
func extractResult(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", models.WrapError(models.KindScriptExecutionFailed, "failed to parse script console response", err)
	}

	var result *goquery.Selection
	doc.Find("h2").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != "Result" {
			return true
		}
		if pre := s.NextAllFiltered("pre").First(); pre.Length() > 0 {
			result = pre
			return false
		}
		return true
	})

	if result == nil {
		if out := doc.Find("div.console-output, pre#out").First(); out.Length() > 0 {
			result = out
		}
	}

	if result == nil {
		return "", models.NewError(models.KindScriptExecutionFailed, "no result found in script console response")
	}

	return strings.TrimSpace(result.Text()), nil
}
