// Package feed fetches element sets from the Space-Track catalogue.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
)

const (
	DefaultBaseURL   = "https://www.space-track.org"
	DefaultQueryPath = "/basicspacedata/query/class/tle_latest/limit/100/format/json"
	DefaultTimeout   = 30 * time.Second

	loginPath = "/ajaxauth/login"

	// Connection pool settings
	maxIdleConns        = 10
	maxConnsPerHost     = 5
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second

	maxBodyBytes = 64 << 20
)

var (
	// ErrAuthRejected is returned when the login endpoint refuses the
	// credentials.
	ErrAuthRejected = errors.New("feed: credentials rejected")
	// ErrMissingCredentials is returned before any request is made when the
	// username or password is empty.
	ErrMissingCredentials = errors.New("feed: missing credentials")
	// ErrNoSession is returned when fetching without an authenticated session.
	ErrNoSession = errors.New("feed: no session")
)

// FeedError describes one failed feed call.
type FeedError struct {
	Op         string // login or fetch
	StatusCode int    // zero when no response was received
	Err        error
}

func (e *FeedError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("feed %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("feed %s: unexpected status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
	}
}

func (e *FeedError) Unwrap() error { return e.Err }

// Timeout reports whether the call failed because a deadline expired.
func (e *FeedError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Credentials are the Space-Track account used to log in.
type Credentials struct {
	Username string
	Password string
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Session carries the cookies of one successful login.
type Session struct {
	jar             http.CookieJar
	AuthenticatedAt time.Time
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Jar is ignored; sessions
// carry their own.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL sets the catalogue base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithQueryPath sets the element-set query path.
func WithQueryPath(p string) ClientOption {
	return func(c *Client) {
		if p != "" {
			c.queryPath = "/" + strings.TrimLeft(p, "/")
		}
	}
}

// WithTimeout bounds every HTTP request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) ClientOption {
	return func(c *Client) { c.log = logging.OrNoop(l) }
}

// Client talks to the Space-Track HTTP API. Each call makes exactly one
// attempt; scheduling retries is up to the caller.
type Client struct {
	baseURL    string
	queryPath  string
	httpClient *http.Client
	log        logging.Logger
}

// NewClient creates a Space-Track client with connection pooling and
// OpenTelemetry instrumented transport.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	c := &Client{
		baseURL:   DefaultBaseURL,
		queryPath: DefaultQueryPath,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(transport),
		},
		log: logging.Noop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sessionClient shares the pooled transport but uses jar for cookies.
func (c *Client) sessionClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   c.httpClient.Timeout,
		Jar:       jar,
	}
}

// Authenticate logs in with creds and returns a session holding the
// resulting cookies.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if !creds.Valid() {
		return nil, &FeedError{Op: "login", Err: ErrMissingCredentials}
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &FeedError{Op: "login", Err: err}
	}

	form := url.Values{
		"identity": {creds.Username},
		"password": {creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &FeedError{Op: "login", Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.sessionClient(jar).Do(req)
	if err != nil {
		return nil, &FeedError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, &FeedError{Op: "login", StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FeedError{Op: "login", StatusCode: resp.StatusCode}
	}
	// A refused login still answers 200 with {"Login":"Failed"}.
	if strings.Contains(string(body), `"Failed"`) {
		return nil, &FeedError{Op: "login", StatusCode: resp.StatusCode, Err: ErrAuthRejected}
	}

	c.log.Debug(ctx, "space-track login succeeded", logging.String("user", creds.Username))
	return &Session{jar: jar, AuthenticatedAt: time.Now().UTC()}, nil
}

// FetchLatestElementSets downloads the configured element-set query.
func (c *Client) FetchLatestElementSets(ctx context.Context, s *Session) ([]byte, error) {
	if s == nil || s.jar == nil {
		return nil, &FeedError{Op: "fetch", Err: ErrNoSession}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.queryPath, nil)
	if err != nil {
		return nil, &FeedError{Op: "fetch", Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.sessionClient(s.jar).Do(req)
	if err != nil {
		return nil, &FeedError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FeedError{Op: "fetch", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FeedError{Op: "fetch", StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	c.log.Debug(ctx, "space-track fetch complete",
		logging.Int("bytes", len(body)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return body, nil
}
