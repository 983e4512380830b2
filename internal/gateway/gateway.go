// Package gateway performs JSON calls against the backend REST API.
//
// Public never sends a bearer token. Authed attaches the stored access token
// and, on 401, asks a Refresher for a newer one and replays the call once.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/nomadrise/internal/metrics"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// DefaultBaseURL is used when no backend URL is configured.
const DefaultBaseURL = "http://localhost:8000/api"

// DefaultTimeout bounds a call whose context carries no deadline.
const DefaultTimeout = 15 * time.Second

const maxBody = 8 << 20

// Request describes one backend call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any // JSON-encoded unless Method is GET
	Header http.Header
}

// Response is a successful (2xx) backend reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	JSON   bool // declared content type is JSON
}

// Decode unmarshals a JSON body into v. A text body can only be decoded into *string.
func (r *Response) Decode(v any) error {
	if v == nil || len(r.Body) == 0 {
		return nil
	}
	if r.JSON {
		if err := json.Unmarshal(r.Body, v); err != nil {
			return BadBody(r, err)
		}
		return nil
	}
	if s, ok := v.(*string); ok {
		*s = string(r.Body)
		return nil
	}
	return BadBody(r, errNotJSON)
}

var errNotJSON = errors.New("non-JSON body")

// Doer executes a Request. Implemented by Public and Authed.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Refresher yields an access token newer than stale, or fails terminally.
type Refresher interface {
	Refresh(ctx context.Context, stale string) (string, error)
}

// Option configures a Public client.
type Option func(*Public)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(p *Public) { p.hc = hc } }

// WithTimeout sets the per-call timeout applied when ctx has no deadline. Zero disables it.
func WithTimeout(d time.Duration) Option { return func(p *Public) { p.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(p *Public) { p.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Public) { p.m = m } }

// Public is the anonymous entry point.
type Public struct {
	base    string
	hc      *http.Client
	timeout time.Duration
	log     *zap.Logger
	m       *metrics.Metrics
}

var _ Doer = (*Public)(nil)

// NewPublic builds a client for baseURL (DefaultBaseURL when empty).
func NewPublic(baseURL string, opts ...Option) *Public {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Public{
		base:    strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// BaseURL returns the normalized base URL.
func (p *Public) BaseURL() string { return p.base }

// Do implements Doer without credentials.
func (p *Public) Do(ctx context.Context, req Request) (*Response, error) {
	return p.send(ctx, req, "")
}

func (p *Public) send(ctx context.Context, req Request, bearer string) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u := p.base + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil && method != http.MethodGet {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	hr, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	if bearer != "" {
		hr.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	hresp, err := p.hc.Do(hr)
	if err != nil {
		p.m.ObserveBackend(method, "error", time.Since(start).Seconds())
		p.log.Debug("backend", zap.String("method", method), zap.String("path", req.Path), zap.Error(err))
		return nil, fmt.Errorf("gateway: %s %s: %w", method, req.Path, err)
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(hresp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("gateway: read body: %w", err)
	}

	dur := time.Since(start)
	p.m.ObserveBackend(method, strconv.Itoa(hresp.StatusCode), dur.Seconds())
	p.log.Debug("backend",
		zap.String("method", method),
		zap.String("path", req.Path),
		zap.Int("status", hresp.StatusCode),
		zap.Duration("dur", dur),
	)

	resp := &Response{
		Status: hresp.StatusCode,
		Header: hresp.Header,
		Body:   raw,
		JSON:   isJSON(hresp.Header.Get("Content-Type")),
	}
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return nil, newAPIError(hresp, resp)
	}
	return resp, nil
}

func isJSON(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(ct, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Authed is the entry point that carries the stored access token.
type Authed struct {
	pub   *Public
	store tokenstore.Store
	ref   Refresher
}

var _ Doer = (*Authed)(nil)

// NewAuthed combines a Public client with a token store and a refresher.
func NewAuthed(pub *Public, store tokenstore.Store, ref Refresher) *Authed {
	return &Authed{pub: pub, store: store, ref: ref}
}

// Store returns the token store the client reads from.
func (a *Authed) Store() tokenstore.Store { return a.store }

// Do implements Doer. A 401 is never returned before a refresh was attempted.
func (a *Authed) Do(ctx context.Context, req Request) (*Response, error) {
	access, _ := a.store.AccessToken(ctx)
	resp, err := a.pub.send(ctx, req, access)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return resp, err
	}

	fresh, err := a.ref.Refresh(ctx, access)
	if err != nil {
		return nil, err
	}
	return a.pub.send(ctx, req, fresh)
}
