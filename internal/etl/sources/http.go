package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"crashcounter/internal/etl"
)

// ── HTTP Source ─────────────────────────────────────────────
// Pages a Socrata (SODA) resource endpoint with $limit/$offset/$order.
// No retries: a failed page is returned to the refresh engine as is.

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4096

// Paginator implements etl.PageSource over HTTP.
type Paginator struct {
	client   *http.Client
	pageSize int
	appToken string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Option configures a Paginator.
type Option func(*Paginator)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option { return func(p *Paginator) { p.client = c } }

// WithPageSize overrides the number of records per page.
func WithPageSize(n int) Option { return func(p *Paginator) { p.pageSize = n } }

// WithAppToken sends a Socrata application token with every request.
func WithAppToken(token string) Option { return func(p *Paginator) { p.appToken = token } }

// WithRateLimit spaces requests to at most rps per second. rps <= 0 disables it.
func WithRateLimit(rps float64) Option {
	return func(p *Paginator) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger used for request timing.
func WithLogger(l *zap.Logger) Option { return func(p *Paginator) { p.logger = l } }

// NewPaginator creates a Paginator with a page size of etl.DefaultPageSize.
func NewPaginator(opts ...Option) *Paginator {
	p := &Paginator{
		client:   http.DefaultClient,
		pageSize: etl.DefaultPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Paginator) PageSize() int { return p.pageSize }

// FetchPage requests one page from endpoint.
func (p *Paginator) FetchPage(ctx context.Context, endpoint string, offset int, orderField string, dir etl.Direction) ([]etl.RawRecord, error) {
	reqURL, err := pageURL(endpoint, p.pageSize, offset, orderField, dir)
	if err != nil {
		return nil, &etl.FetchError{URL: endpoint, Err: err}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &etl.FetchError{URL: reqURL, Err: err}
		}
	}

	start := time.Now()
	records, err := p.do(ctx, reqURL)
	p.logger.Info("fetched page",
		zap.String("endpoint", endpoint),
		zap.Int("offset", offset),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil))
	return records, err
}

func (p *Paginator) do(ctx context.Context, reqURL string) ([]etl.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &etl.FetchError{URL: reqURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if p.appToken != "" {
		req.Header.Set("X-App-Token", p.appToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &etl.FetchError{URL: reqURL, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &etl.FetchError{URL: reqURL, StatusCode: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &etl.FetchError{URL: reqURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	// UseNumber keeps large identifiers exact.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []etl.RawRecord
	if err := dec.Decode(&records); err != nil {
		return nil, &etl.FetchError{URL: reqURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse json: %w", err)}
	}
	return records, nil
}

// pageURL builds <endpoint>?$limit=..&$offset=..&$order=<field> <dir>.
func pageURL(endpoint string, limit, offset int, orderField string, dir etl.Direction) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if dir != etl.Ascending && dir != etl.Descending {
		return "", fmt.Errorf("invalid direction %q", dir)
	}
	q := u.Query()
	q.Set("$limit", strconv.Itoa(limit))
	q.Set("$offset", strconv.Itoa(offset))
	q.Set("$order", orderField+" "+string(dir))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
