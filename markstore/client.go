package markstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phroun/copus"
)

// Mark API paths, relative to the server base URL.
const (
	MarkListPath   = "/client/common/opus/markList"
	MarkInfoPath   = "/client/common/opus/markInfo"
	CreateMarkPath = "/client/user/opus/link/mark"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string

	// RetryMax bounds retries of read requests. Creating a mark is never
	// retried.
	RetryMax int

	// HTTPClient overrides the underlying transport client.
	HTTPClient *http.Client

	Logger *zerolog.Logger
}

// Client talks to a mark server over HTTP. It implements copus.MarkService.
type Client struct {
	baseURL string
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
	logger  zerolog.Logger
}

var _ copus.MarkService = (*Client)(nil)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mark server: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("mark server: %s: %s", http.StatusText(e.StatusCode), e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrInvalidMark
	}
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// NewClient creates a client for the server at options.BaseURL.
func NewClient(options ClientOptions) (*Client, error) {
	if _, err := url.ParseRequestURI(options.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		logger:  log.Logger,
	}
	if options.Logger != nil {
		c.logger = *options.Logger
	}
	c.reads = c.newRetryClient(options.HTTPClient, options.RetryMax)
	c.writes = c.newRetryClient(options.HTTPClient, 0)
	return c, nil
}

func (c *Client) newRetryClient(hc *http.Client, retryMax int) *retryablehttp.Client {
	cl := retryablehttp.NewClient()
	cl.RetryMax = retryMax
	cl.RetryWaitMin = 100 * time.Millisecond
	cl.RetryWaitMax = 2 * time.Second
	cl.ErrorHandler = retryablehttp.PassthroughErrorHandler
	cl.Logger = leveledLogger{c.logger}
	if hc != nil {
		cl.HTTPClient = hc
	}
	return cl
}

func (c *Client) do(ctx context.Context, cl *retryablehttp.Client, method, path string, body, out any) error {
	var raw any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = data
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, raw)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}
	var env envelope
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decoding data: %w", method, path, err)
	}
	return nil
}

// CreateMark posts a new mark. The request is sent once.
func (c *Client) CreateMark(ctx context.Context, params copus.MarkX) (copus.MarkX, error) {
	var m copus.MarkX
	if err := c.do(ctx, c.writes, http.MethodPost, CreateMarkPath, params, &m); err != nil {
		return copus.MarkX{}, err
	}
	return m, nil
}

// MarkList fetches the marks stored for a document.
func (c *Client) MarkList(ctx context.Context, opusUUID string) ([]copus.MarkX, error) {
	q := url.Values{"opusUuid": {opusUUID}}
	var marks []copus.MarkX
	if err := c.do(ctx, c.reads, http.MethodGet, MarkListPath+"?"+q.Encode(), nil, &marks); err != nil {
		return nil, err
	}
	return marks, nil
}

func (c *Client) MarkInfo(ctx context.Context, ids []string) (copus.MarkInfo, error) {
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	var info copus.MarkInfo
	if err := c.do(ctx, c.reads, http.MethodGet, MarkInfoPath+"?"+q.Encode(), nil, &info); err != nil {
		return copus.MarkInfo{}, err
	}
	return info, nil
}

// DeleteMark removes a stored mark.
func (c *Client) DeleteMark(ctx context.Context, id string) error {
	return c.do(ctx, c.writes, http.MethodDelete, CreateMarkPath+"/"+url.PathEscape(id), nil, nil)
}

// leveledLogger routes retryablehttp's logging into zerolog.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
