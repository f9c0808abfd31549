// Package client provides a remote store implementation speaking the kiss-fs
// HTTP API. Operations are request/response; the server's event stream is
// relayed verbatim over SSE, with no client-side re-reconciliation, since
// reconciliation already happened server-side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/retry"
	"github.com/wix/kiss-fs/pkg/store"
	"github.com/wix/kiss-fs/pkg/treepath"
)

// CorrelationHeader carries the caller's correlation id on mutating requests.
const CorrelationHeader = "X-Correlation-Id"

// Options configures a Client.
type Options struct {
	BaseURL string

	// Timeout bounds each request. Zero selects 30s.
	Timeout time.Duration

	// InitTimeout bounds the initial health probe; New fails rather than
	// hangs when the server is unreachable. Zero selects 10s.
	InitTimeout time.Duration

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// Retry applies to read operations only; mutations are never retried.
	Retry retry.Config

	Logger *zap.Logger
}

// Client is a store backed by a remote kiss-fs server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sseClient  *http.Client
	retryCfg   retry.Config
	authToken  string
	log        *zap.Logger

	bus    *events.Broadcaster
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ store.Store = (*Client)(nil)

// New connects to the server at opts.BaseURL. Initialization probes /health
// within InitTimeout and fails if the server cannot be reached.
func New(opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.InitTimeout == 0 {
		opts.InitTimeout = 10 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
		// SSE responses stay open indefinitely.
		sseClient: &http.Client{Transport: transport},
		retryCfg:  opts.Retry,
		authToken: opts.AuthToken,
		log:       log,
		bus:       events.NewBroadcaster(),
		ctx:       ctx,
		cancel:    cancel,
	}

	initCtx, initCancel := context.WithTimeout(ctx, opts.InitTimeout)
	defer initCancel()
	if err := c.ping(initCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to %s: %w: %w", c.baseURL, store.ErrConnection, err)
	}

	c.wg.Add(1)
	go c.relayEvents()
	return c, nil
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.applyAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) applyAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func (c *Client) endpoint(prefix, path string) string {
	u := url.URL{Path: prefix + path}
	return c.baseURL + u.EscapedPath()
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Code  int    `json:"code"`
}

type correlationResponse struct {
	CorrelationID string `json:"correlationId"`
}

// do performs one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, url, correlationID string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if correlationID != "" {
		req.Header.Set(CorrelationHeader, correlationID)
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("%s %s: %w: %w", method, url, store.ErrConnection, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError reconstructs the store sentinel from the error body's kind.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var body errorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Kind != "" {
		if sentinel := store.ErrorByKind(body.Kind); sentinel != nil {
			return fmt.Errorf("%s: %w", body.Error, sentinel)
		}
		return fmt.Errorf("server error: %s", body.Error)
	}
	return fmt.Errorf("server returned %d: %w", resp.StatusCode, store.ErrConnection)
}

// doRead retries transient connection failures; reads are idempotent.
func (c *Client) doRead(ctx context.Context, url string, out interface{}) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		return c.do(ctx, http.MethodGet, url, "", nil, out)
	})
}

// SaveFile writes content to path on the remote store.
func (c *Client) SaveFile(ctx context.Context, path, content, correlationID string) (string, error) {
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}
	var resp correlationResponse
	err := c.do(ctx, http.MethodPut, c.endpoint("/api/v1/files/", path), correlationID,
		map[string]string{"content": content}, &resp)
	if err != nil {
		return "", err
	}
	return resp.CorrelationID, nil
}

// DeleteFile removes the file at path on the remote store.
func (c *Client) DeleteFile(ctx context.Context, path, correlationID string) (string, error) {
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}
	var resp correlationResponse
	err := c.do(ctx, http.MethodDelete, c.endpoint("/api/v1/files/", path), correlationID, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.CorrelationID, nil
}

// EnsureDirectory creates path on the remote store.
func (c *Client) EnsureDirectory(ctx context.Context, path, correlationID string) (string, error) {
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	var resp correlationResponse
	err := c.do(ctx, http.MethodPut, c.endpoint("/api/v1/dirs/", path), correlationID, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.CorrelationID, nil
}

// DeleteDirectory removes path on the remote store.
func (c *Client) DeleteDirectory(ctx context.Context, path string, recursive bool, correlationID string) (string, error) {
	if path == "" {
		return "", store.ErrCannotDeleteRoot
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	url := c.endpoint("/api/v1/dirs/", path)
	if recursive {
		url += "?recursive=true"
	}
	var resp correlationResponse
	err := c.do(ctx, http.MethodDelete, url, correlationID, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.CorrelationID, nil
}

// LoadTextFile reads the file at path from the remote store.
func (c *Client) LoadTextFile(ctx context.Context, path string) (string, error) {
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	var resp struct {
		Content string `json:"content"`
	}
	if err := c.doRead(ctx, c.endpoint("/api/v1/files/", path), &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// LoadDirectoryTree fetches the expanded tree rooted at path.
func (c *Client) LoadDirectoryTree(ctx context.Context, path string) (*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	var resp struct {
		Root *models.Node `json:"root"`
	}
	if err := c.doRead(ctx, c.endpoint("/api/v1/tree/", path), &resp); err != nil {
		return nil, err
	}
	return resp.Root, nil
}

// LoadDirectoryChildren fetches the direct children of path.
func (c *Client) LoadDirectoryChildren(ctx context.Context, path string) ([]*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	var resp struct {
		Children []*models.Node `json:"children"`
	}
	if err := c.doRead(ctx, c.endpoint("/api/v1/children/", path), &resp); err != nil {
		return nil, err
	}
	return resp.Children, nil
}

// Subscribe registers for events relayed from the server.
func (c *Client) Subscribe(kinds ...string) chan events.Event {
	return c.bus.Subscribe(kinds...)
}

// Unsubscribe releases a subscription.
func (c *Client) Unsubscribe(ch chan events.Event) {
	c.bus.Unsubscribe(ch)
}

// Close stops the event relay. No events are delivered after Close returns.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	c.bus.Close()
	return nil
}
