package auth

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/models"
)

// DefaultBrowserLoginTimeout bounds how long the operator has to log in
const DefaultBrowserLoginTimeout = 5 * time.Minute

// BrowserCookieSource opens a browser window on the Jenkins login page and
// captures the session cookie once the operator has logged in (including SSO).
type BrowserCookieSource struct {
	timeout      time.Duration
	pollInterval time.Duration
	logger       arbor.ILogger
}

// NewBrowserCookieSource creates a browser-driven cookie source
func NewBrowserCookieSource(timeout time.Duration, logger arbor.ILogger) *BrowserCookieSource {
	if timeout <= 0 {
		timeout = DefaultBrowserLoginTimeout
	}
	return &BrowserCookieSource{
		timeout:      timeout,
		pollInterval: time.Second,
		logger:       logger,
	}
}

// Cookie drives the browser until a session cookie for the server is present
// and the login page has been left.
func (s *BrowserCookieSource) Cookie(ctx context.Context, profile models.ServerProfile) (string, string, error) {
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(
		ctx,
		append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", false),
			chromedp.Flag("disable-gpu", false),
		)...,
	)
	defer allocatorCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	defer browserCancel()

	browserCtx, timeoutCancel := context.WithTimeout(browserCtx, s.timeout)
	defer timeoutCancel()

	baseURL := strings.TrimRight(profile.URL, "/")
	loginURL := baseURL + "/login"

	s.logger.Info().Str("url", loginURL).Msg("Opening browser for Jenkins login")

	if err := chromedp.Run(browserCtx, network.Enable(), chromedp.Navigate(loginURL)); err != nil {
		return "", "", models.WrapError(models.KindProviderUnavailable, "could not open browser", err)
	}

	prefix := profile.Cookie.Name
	if prefix == "" {
		prefix = models.DefaultCookieName
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var (
			location string
			cookies  []*network.Cookie
		)
		err := chromedp.Run(browserCtx,
			chromedp.Location(&location),
			chromedp.ActionFunc(func(ctx context.Context) error {
				c, err := network.GetCookies().WithURLs([]string{baseURL + "/"}).Do(ctx)
				if err != nil {
					return err
				}
				cookies = c
				return nil
			}),
		)
		if err != nil {
			return "", "", models.WrapError(models.KindProviderUnavailable, "browser login did not complete", err)
		}

		if loggedIn(location, baseURL) {
			for _, c := range cookies {
				// Jenkins suffixes the servlet cookie per instance, e.g. JSESSIONID.1a2b3c4d
				if strings.HasPrefix(c.Name, prefix) && c.Value != "" {
					s.logger.Info().Str("cookie", c.Name).Msg("Captured Jenkins session cookie from browser")
					return c.Name, c.Value, nil
				}
			}
		}

		select {
		case <-browserCtx.Done():
			return "", "", models.WrapError(models.KindProviderUnavailable, "timed out waiting for browser login", browserCtx.Err())
		case <-ticker.C:
		}
	}
}

// loggedIn reports whether the browser is back on the server past the login pages
func loggedIn(location, baseURL string) bool {
	if !strings.HasPrefix(location, baseURL) {
		return false
	}
	path := strings.TrimPrefix(location, baseURL)
	return !strings.HasPrefix(path, "/login") && !strings.HasPrefix(path, "/securityRealm")
}
