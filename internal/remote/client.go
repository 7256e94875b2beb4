// Package remote talks to a GitHub repository through the contents and git
// data APIs.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/postsync/internal/apperr"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultAPIVersion = "2022-11-28"
	DefaultTimeout    = 15 * time.Second

	maxErrorBody = 64 << 10
)

// Config identifies the repository and branch the client works against.
type Config struct {
	BaseURL    string
	Owner      string
	Repo       string
	Branch     string
	Token      string
	Timeout    time.Duration
	APIVersion string
}

// Client is a GitHub REST client. It performs no retries.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is
// overwritten by Config.Timeout when that is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. Missing optional settings fall back to defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.http.Timeout = cfg.Timeout
	return c
}

// Branch returns the branch the client reads and writes.
func (c *Client) Branch() string { return c.cfg.Branch }

// endpoint builds the URL for a path below /repos/{owner}/{repo}/.
func (c *Client) endpoint(segments []string, query url.Values) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrInvalidURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("%w: base url %q needs a scheme and host", apperr.ErrInvalidURL, c.cfg.BaseURL)
	}
	if c.cfg.Owner == "" || c.cfg.Repo == "" {
		return "", fmt.Errorf("%w: owner and repo are required", apperr.ErrInvalidURL)
	}

	parts := []string{"repos", c.cfg.Owner, c.cfg.Repo}
	for _, s := range segments {
		for _, p := range strings.Split(strings.Trim(s, "/"), "/") {
			if p == "" {
				continue
			}
			if p == "." || p == ".." {
				return "", fmt.Errorf("%w: relative segment in %q", apperr.ErrInvalidURL, s)
			}
			parts = append(parts, p)
		}
	}
	u := base.JoinPath(parts...)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

type githubError struct {
	Message string `json:"message"`
}

// do performs one API call. in is JSON-encoded when non-nil; out is decoded
// from a 2xx response when non-nil.
func (c *Client) do(ctx context.Context, op, method string, segments []string, query url.Values, in, out any) error {
	if c.cfg.Token == "" {
		return fmt.Errorf("remote: %s: %w", op, apperr.ErrNotAuthenticated)
	}
	target, err := c.endpoint(segments, query)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", op, err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("remote: %s: %w: %v", op, apperr.ErrInvalidURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", c.cfg.APIVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &apperr.RequestFailedError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("remote: request",
		slog.String("op", op),
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var ge githubError
		var cause error
		if json.Unmarshal(raw, &ge) == nil && ge.Message != "" {
			cause = errors.New(ge.Message)
		}
		return &apperr.RequestFailedError{Op: op, Status: resp.StatusCode, Err: cause}
	}

	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.RequestFailedError{Op: op, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("remote: %s: %w: %v", op, apperr.ErrInvalidResponse, err)
	}
	return nil
}
