// Package cloud is the Cloud transport: an HTTP client for the Hologres
// REST API under /api/v1/databases/{database}.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/retry"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/version"
)

// Compile-time check: Client implements db.Transport.
var _ db.Transport = (*Client)(nil)

// Defaults.
const (
	DefaultRegion            = "cn-hangzhou"
	DefaultTimeout           = 30 * time.Second
	DefaultMaxInFlight       = 16
	DefaultCompressThreshold = 64 << 10
	maxErrorBody             = 64 << 10
)

// Config holds endpoint, credentials and throttling settings.
type Config struct {
	// BaseURL overrides the regional endpoint.
	BaseURL  string
	Region   string
	Database string
	APIKey   string
	// SigningKey enables the X-Holo-Signature header when set.
	SigningKey []byte

	Timeout time.Duration
	// Rate is the request rate limit per second, 0 for unlimited.
	Rate  float64
	Burst int
	// MaxInFlight bounds concurrent requests.
	MaxInFlight int
	// CompressThreshold is the body size above which requests are gzipped.
	CompressThreshold int

	Retry      retry.Policy
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// BaseURLFor returns the regional endpoint.
func BaseURLFor(region string) string {
	if region == "" {
		region = DefaultRegion
	}
	return "https://hologres." + region + ".aliyuncs.com"
}

// Client implements db.Transport over HTTP.
type Client struct {
	base    string
	cfg     Config
	http    *http.Client
	log     *zap.Logger
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu      sync.RWMutex
	schemas map[string]schema.Schema
	closed  bool
}

// New creates a client. It does not contact the server; call Ping.
func New(cfg Config) (*Client, error) {
	if cfg.Database == "" {
		return nil, errors.New("database is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = BaseURLFor(cfg.Region)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.MaxInFlight
	}
	return &Client{
		base:    base,
		cfg:     cfg,
		http:    hc,
		log:     log,
		limiter: rate.NewLimiter(limit, burst),
		sem:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		schemas: make(map[string]schema.Schema),
	}, nil
}

// Capabilities reports a pipelining transport: requests are independent.
func (c *Client) Capabilities() db.Capabilities {
	return db.Capabilities{Pipelining: true, Name: "cloud"}
}

// Close releases idle connections. Later calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.http.CloseIdleConnections()
	return nil
}

// Ping checks the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, db.OpPing, http.MethodGet, "/health", nil, nil, true)
}

// databasePath returns the escaped path under the database, one element per segment.
func (c *Client) databasePath(segments ...string) (string, error) {
	p, err := pathParam("database", c.cfg.Database)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("/api/v1/databases/")
	b.WriteString(p)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(s)
	}
	return b.String(), nil
}

func (c *Client) tablePath(table string, segments ...string) (string, error) {
	t, err := pathParam("table", table)
	if err != nil {
		return "", err
	}
	return c.databasePath(append([]string{"tables", t}, segments...)...)
}

func pathParam(name, v string) (string, error) {
	p, err := runtime.StyleParamWithLocation("simple", false, name, runtime.ParamLocationPath, v)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return p, nil
}

// call issues one logical request. Reads run under the retry policy;
// writes get a single attempt.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any, read bool) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return db.Fatal(op, errors.New("client closed"))
	}

	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return db.Fatal(op, fmt.Errorf("marshal request: %w", err))
		}
		body = b
	}
	requestID := uuid.NewString()

	p := c.cfg.Retry
	if !read {
		p = retry.None()
	}
	next := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn("retrying request",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if next != nil {
			next(attempt, delay, err)
		}
	}
	return p.Do(ctx, op, func(ctx context.Context) error {
		return c.attempt(ctx, op, method, path, requestID, body, out)
	})
}

func (c *Client) attempt(ctx context.Context, op, method, path, requestID string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return db.Fatal(op, err)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return db.Fatal(op, err)
	}
	defer c.sem.Release(1)

	req, err := c.newRequest(ctx, method, path, requestID, body)
	if err != nil {
		return db.Fatal(op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyNetError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return db.Fatal(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path, requestID string, body []byte) (*http.Request, error) {
	var (
		reader  io.Reader
		gzipped bool
	)
	if body != nil {
		payload := body
		if len(body) > c.cfg.CompressThreshold {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(body); err != nil {
				return nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, err
			}
			payload = buf.Bytes()
			gzipped = true
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if len(c.cfg.SigningKey) > 0 {
		sig, err := Sign(c.cfg.SigningKey, method, path, requestID, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set(SignatureHeader, sig)
	}
	return req, nil
}

// httpError is a non-2xx response.
type httpError struct {
	status  int
	code    string
	message string
}

func (e *httpError) Error() string {
	if e.code == "" {
		return fmt.Sprintf("http %d: %s", e.status, e.message)
	}
	return fmt.Sprintf("http %d %s: %s", e.status, e.code, e.message)
}

func statusError(op string, resp *http.Response) error {
	he := &httpError{status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var doc struct {
		Error ErrorBody `json:"error"`
	}
	if json.Unmarshal(raw, &doc) == nil && doc.Error.Code != "" {
		he.code, he.message = doc.Error.Code, doc.Error.Message
	} else {
		he.message = strings.TrimSpace(string(raw))
		if he.message == "" {
			he.message = http.StatusText(resp.StatusCode)
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return db.NotFound(op, fmt.Errorf("%w: %w", notFoundSentinel(op), he))
	case http.StatusConflict:
		if op == db.OpCreateTable || op == db.OpRenameTable {
			return db.Fatal(op, fmt.Errorf("%w: %w", db.ErrTableExists, he))
		}
		return db.Fatal(op, he)
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e := db.Transient(op, he)
		e.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return e
	}
	// A plain 500 is a rejected statement; other 5xx are infrastructure.
	if resp.StatusCode > http.StatusInternalServerError {
		return db.Transient(op, he)
	}
	if he.code == CodeValidation {
		return db.Fatal(op, fmt.Errorf("%w: %w", domain.ErrValidation, he))
	}
	return db.Fatal(op, he)
}

func notFoundSentinel(op string) error {
	switch op {
	case db.OpDropIndex, db.OpDescribeIndex:
		return db.ErrIndexNotFound
	default:
		return db.ErrTableNotFound
	}
}

// retryAfter parses delay-seconds or an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func classifyNetError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return db.Fatal(op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return db.Transient(op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return db.Transient(op, err)
	}
	return db.Fatal(op, err)
}

// tableSchema returns the cached schema of table, fetching it on first use.
func (c *Client) tableSchema(ctx context.Context, table string) (schema.Schema, error) {
	c.mu.RLock()
	sch, ok := c.schemas[table]
	c.mu.RUnlock()
	if ok {
		return sch, nil
	}
	sch, err := c.FetchSchema(ctx, table)
	if err != nil {
		return schema.Schema{}, err
	}
	c.mu.Lock()
	c.schemas[table] = sch
	c.mu.Unlock()
	return sch, nil
}

func (c *Client) forget(table string) {
	c.mu.Lock()
	delete(c.schemas, table)
	c.mu.Unlock()
}
