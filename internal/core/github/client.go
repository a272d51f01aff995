package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/engine"
)

const (
	defaultBaseURL   = "https://api.github.com"
	defaultUserAgent = "homedash"
	defaultTimeout   = 10 * time.Second
)

// ErrNotFound is returned when GitHub answers 404.
var ErrNotFound = errors.New("github resource not found")

// StatusError reports a non-2xx response that survived the engine's retries.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected github response: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected github response: %d: %s", e.StatusCode, e.Message)
}

// Repository holds the fields the catalog cares about.
type Repository struct {
	FullName        string     `json:"full_name"`
	Description     string     `json:"description"`
	HTMLURL         string     `json:"html_url"`
	StargazersCount int        `json:"stargazers_count"`
	ForksCount      int        `json:"forks_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	Topics          []string   `json:"topics"`
	Archived        bool       `json:"archived"`
	PushedAt        *time.Time `json:"pushed_at"`
}

// Release is the subset of a release payload used for enrichment.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
}

// Client issues GitHub API calls through the shared rate-limited executor.
// Each request func performs exactly one HTTP call.
type Client struct {
	Executor   *engine.Executor
	HTTPClient *http.Client
	BaseURL    string
	Token      string
	UserAgent  string

	// MaxRetries of zero selects engine.DefaultMaxRetries; NoRetries
	// disables retrying.
	MaxRetries int

	fallbackOnce sync.Once
	fallback     *http.Client
}

// NoRetries makes a Client issue each request once.
const NoRetries = -1

// NewHTTPClient returns a pooled client suitable for a long-lived process.
func NewHTTPClient(timeout time.Duration) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.Timeout = timeout
	return client
}

// Repository fetches repository metadata.
func (c *Client) Repository(ctx context.Context, owner, name string) (*Repository, error) {
	var repo Repository
	if err := c.getJSON(ctx, &repo, repoPath(owner, name)...); err != nil {
		return nil, err
	}
	return &repo, nil
}

// LatestRelease fetches the most recent published release.
func (c *Client) LatestRelease(ctx context.Context, owner, name string) (*Release, error) {
	var release Release
	if err := c.getJSON(ctx, &release, append(repoPath(owner, name), "releases", "latest")...); err != nil {
		return nil, err
	}
	return &release, nil
}

// RateLimit fetches the core quota. The response headers also refresh the
// executor's primary quota state.
func (c *Client) RateLimit(ctx context.Context) (*core.RateLimitState, error) {
	var payload struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Used      int   `json:"used"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.getJSON(ctx, &payload, "rate_limit"); err != nil {
		return nil, err
	}

	quota := payload.Resources.Core
	return &core.RateLimitState{
		Remaining: quota.Remaining,
		Limit:     quota.Limit,
		Used:      quota.Used,
		ResetAt:   time.Unix(quota.Reset, 0).UTC(),
	}, nil
}

// getJSON issues a GET for the path segments below BaseURL, keeping any path
// prefix the base carries (GitHub Enterprise uses /api/v3). Segments must
// already be escaped.
func (c *Client) getJSON(ctx context.Context, out any, segments ...string) error {
	if c == nil || c.Executor == nil {
		return errors.New("github client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reqURL := c.baseURL().JoinPath(segments...).String()

	retries := c.MaxRetries
	switch {
	case retries == 0:
		retries = engine.DefaultMaxRetries
	case retries < 0:
		retries = 0
	}

	resp, err := c.Executor.ExecuteWithRetries(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		c.decorate(req)
		return c.httpClient().Do(req)
	}, retries)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	agent := strings.TrimSpace(c.UserAgent)
	if agent == "" {
		agent = defaultUserAgent
	}
	req.Header.Set("User-Agent", agent)

	if token := strings.TrimSpace(c.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	c.fallbackOnce.Do(func() {
		c.fallback = NewHTTPClient(defaultTimeout)
	})
	return c.fallback
}

func (c *Client) baseURL() *url.URL {
	if c != nil && c.BaseURL != "" {
		if parsed, err := url.Parse(c.BaseURL); err == nil {
			return parsed
		}
	}
	parsed, _ := url.Parse(defaultBaseURL)
	return parsed
}

func repoPath(owner, name string) []string {
	return []string{"repos", url.PathEscape(owner), url.PathEscape(name)}
}

func errorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Message
}
