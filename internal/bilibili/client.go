package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultAPIBase   = "https://api.bilibili.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultReferer   = "https://www.bilibili.com"
)

// Endpoint paths. The parameter names sent to them are part of the platform
// contract and must not change.
const (
	ViewPath     = "/x/web-interface/view"
	EdgeInfoPath = "/x/stein/edgeinfo_v2"
	NodeInfoPath = "/x/stein/nodeinfo"
	StoryPath    = "/x/stein/story"
	PlayURLPath  = "/x/player/playurl"
	PugvPlayPath = "/pugv/player/web/playurl"
)

var ErrTransport = errors.New("upstream request failed")

// APIError is returned when the endpoint answered but reported a non-zero code.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error %d: %s", e.Endpoint, e.Code, e.Message)
}

// Timeouts applied per endpoint family.
type Timeouts struct {
	View     time.Duration
	EdgeInfo time.Duration
	NodeInfo time.Duration
	Story    time.Duration
	PlayURL  time.Duration
	Stream   time.Duration
}

var DefaultTimeouts = Timeouts{
	View:     10 * time.Second,
	EdgeInfo: 8 * time.Second,
	NodeInfo: 5 * time.Second,
	Story:    8 * time.Second,
	PlayURL:  15 * time.Second,
	Stream:   30 * time.Second,
}

type Client struct {
	http      *http.Client
	apiBase   string
	userAgent string
	referer   string
	timeouts  Timeouts
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithAPIBase(base string) Option       { return func(c *Client) { c.apiBase = base } }
func WithUserAgent(ua string) Option       { return func(c *Client) { c.userAgent = ua } }
func WithReferer(r string) Option          { return func(c *Client) { c.referer = r } }
func WithTimeouts(t Timeouts) Option       { return func(c *Client) { c.timeouts = t } }

func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		apiBase:   DefaultAPIBase,
		userAgent: DefaultUserAgent,
		referer:   DefaultReferer,
		timeouts:  DefaultTimeouts,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.referer == "" {
		c.referer = DefaultReferer
	}
	return c
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.referer)
	req.Header.Set("Origin", DefaultReferer)
	req.Header.Set("Accept", "application/json, text/plain, */*")
}

// get performs a GET against an API endpoint and decodes the envelope's data into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, timeout time.Duration, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reqURL := c.apiBase + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned %s", ErrTransport, path, resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decoding response: %w", path, err)
	}

	if env.Code != 0 {
		return &APIError{Endpoint: path, Code: env.Code, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s: response carries no data", path)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decoding data: %w", path, err)
	}

	return nil
}

func (c *Client) View(ctx context.Context, ref VideoRef) (*View, error) {
	var v View
	if err := c.get(ctx, ViewPath, ref.Query(), c.timeouts.View, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) EdgeInfo(ctx context.Context, ref VideoRef, cid int64) (*EdgeInfo, error) {
	q := ref.Query()
	q.Set("cid", strconv.FormatInt(cid, 10))

	var e EdgeInfo
	if err := c.get(ctx, EdgeInfoPath, q, c.timeouts.EdgeInfo, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) NodeInfo(ctx context.Context, ref VideoRef, cid int64) (*NodeInfo, error) {
	q := ref.Query()
	q.Set("cid", strconv.FormatInt(cid, 10))

	var n NodeInfo
	if err := c.get(ctx, NodeInfoPath, q, c.timeouts.NodeInfo, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) Story(ctx context.Context, ref VideoRef) (*Story, error) {
	var s Story
	if err := c.get(ctx, StoryPath, ref.Query(), c.timeouts.Story, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PlayURL queries one of the stream resolution endpoints with a caller-built
// parameter set.
func (c *Client) PlayURL(ctx context.Context, path string, q url.Values) (*PlayURL, error) {
	var p PlayURL
	if err := c.get(ctx, path, q, c.timeouts.PlayURL, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Open starts streaming a media URL. The caller owns the response body.
// Only the time to response headers is bounded; the body may take as long as it needs.
func (c *Client) Open(ctx context.Context, mediaURL string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "*/*")

	var timer *time.Timer
	if c.timeouts.Stream > 0 {
		timer = time.AfterFunc(c.timeouts.Stream, cancel)
	}

	resp, err := c.http.Do(req)
	if timer != nil && !timer.Stop() && err == nil {
		// headers arrived as the timer fired; the context is already gone
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: media request timed out", ErrTransport)
	}
	if err != nil {
		cancel()
		return nil, errors.Join(ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: media request returned %s", ErrTransport, resp.Status)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
