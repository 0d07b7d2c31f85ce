package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/metrics"
	"github.com/kosarica/place-service/internal/scanner"
	"github.com/kosarica/place-service/internal/types"
)

// maxBodyBytes caps how much of a response body is read
const maxBodyBytes = 10 << 20

// Config holds the source client configuration
type Config struct {
	Name              string
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	PageSize          int
	UserAgent         string
	Breaker           CircuitBreakerConfig
}

// DefaultConfig returns the default source configuration
func DefaultConfig() Config {
	return Config{
		Name:              "places",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		PageSize:          20,
		UserAgent:         "Kosarica-PlaceService/1.0",
		Breaker:           DefaultCircuitBreakerConfig(),
	}
}

// StatusError is a non-2xx response from the source
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return "request to " + e.URL + " failed (HTTP " + strconv.Itoa(e.Status) + ")"
}

// IsRetryableStatus reports whether a status code is worth retrying: 429 and 5xx
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// classifyStatus wraps a non-2xx status as the matching fault
func classifyStatus(rawURL string, status int) error {
	err := &StatusError{URL: rawURL, Status: status}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return faults.NotFound(err)
	case IsRetryableStatus(status):
		return faults.Transient(faults.ClassRemote, err)
	default:
		return faults.Validation(err)
	}
}

// Client is a rate-limited JSON client for the place provider. It makes a
// single attempt per call; retries are decided by the caller's fault policy.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	metrics    *metrics.Recorder
	logger     zerolog.Logger
}

// NewClient creates a source client
func NewClient(cfg Config, m *metrics.Recorder, logger *zerolog.Logger) (*Client, error) {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid source base url %q", cfg.BaseURL)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "source").Str("source", cfg.Name).Logger()

	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:    NewCircuitBreaker(cfg.Name, cfg.Breaker, m, &l),
		metrics:    m,
		logger:     l,
	}, nil
}

// Name returns the source name stamped on candidates
func (c *Client) Name() string {
	return c.cfg.Name
}

// Breaker exposes the client's circuit breaker
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Search fetches one page of candidates around the context's coordinate
func (c *Client) Search(ctx context.Context, sc scanner.SearchContext) (SearchPage, error) {
	q := url.Values{}
	q.Set("query", sc.Query)
	q.Set("lat", strconv.FormatFloat(sc.Coordinate.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(sc.Coordinate.Lng, 'f', -1, 64))
	q.Set("page", strconv.Itoa(sc.Page))
	q.Set("size", strconv.Itoa(c.cfg.PageSize))

	var page SearchPage
	if err := c.getJSON(ctx, "search", "/search", q, &page); err != nil {
		return SearchPage{}, err
	}

	for i := range page.Items {
		page.Items[i].Source = c.cfg.Name
		if page.Items[i].Region == "" {
			page.Items[i].Region = sc.Region
		}
	}
	return page, nil
}

// Details fetches the full record for a source ID
func (c *Client) Details(ctx context.Context, sourceID string) (types.Candidate, error) {
	var cand types.Candidate
	if err := c.getJSON(ctx, "details", "/places/"+url.PathEscape(sourceID), nil, &cand); err != nil {
		return types.Candidate{}, err
	}
	cand.Source = c.cfg.Name
	if cand.SourceID == "" {
		cand.SourceID = sourceID
	}
	return cand, nil
}

// Enrich fetches each payload kind selected by flags
func (c *Client) Enrich(ctx context.Context, sourceID string, flags types.WorkFlags) (types.Enrichment, error) {
	out := types.Enrichment{FetchedAt: time.Now()}

	kinds := []struct {
		name   string
		wanted bool
		dst    *json.RawMessage
	}{
		{"menus", flags.Menus, &out.Menus},
		{"images", flags.Images, &out.Images},
		{"reviews", flags.Reviews, &out.Reviews},
	}

	for _, k := range kinds {
		if !k.wanted {
			continue
		}
		body, err := c.get(ctx, k.name, "/places/"+url.PathEscape(sourceID)+"/"+k.name, nil)
		if err != nil {
			return types.Enrichment{}, err
		}
		if !json.Valid(body) {
			return types.Enrichment{}, faults.Validation(fmt.Errorf("invalid %s payload for %s", k.name, sourceID))
		}
		*k.dst = json.RawMessage(body)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, dst any) error {
	body, err := c.get(ctx, endpoint, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return faults.Validation(fmt.Errorf("failed to decode %s response: %w", endpoint, err))
	}
	return nil
}

// get performs one rate-limited GET and maps failures to faults
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	if !c.breaker.Allow() {
		c.metrics.RecordSourceRequest(endpoint, "rejected", 0)
		return nil, faults.Transient(faults.ClassRemote, ErrCircuitOpen)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.breaker.Abandon()
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u := *c.baseURL
	u.Path = u.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	rawURL := u.String()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		c.breaker.Abandon()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordSourceRequest(endpoint, "error", time.Since(start))
		if ctx.Err() != nil {
			c.breaker.Abandon()
			return nil, ctx.Err()
		}
		c.breaker.RecordFailure(err)
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil, faults.Transient(faults.ClassTimeout, err)
		}
		return nil, faults.Transient(faults.ClassRemote, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordSourceRequest(endpoint, "error", duration)
		c.breaker.RecordFailure(err)
		return nil, faults.Transient(faults.ClassRemote, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.metrics.RecordSourceRequest(endpoint, "ok", duration)
		c.breaker.RecordSuccess()
		return body, nil
	}

	c.metrics.RecordSourceRequest(endpoint, strconv.Itoa(resp.StatusCode), duration)
	fault := classifyStatus(rawURL, resp.StatusCode)
	if IsRetryableStatus(resp.StatusCode) {
		c.breaker.RecordFailure(fault)
	} else {
		c.breaker.RecordSuccess()
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("latency", duration).
		Msg("Source request failed")
	return nil, fault
}
