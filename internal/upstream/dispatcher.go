// Package upstream performs the actual network calls against the hosted
// search service: failover across the fixed search host list and the single
// fixed analytics endpoint.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"searchproxy/internal/config"
	"searchproxy/internal/metrics"
	"searchproxy/internal/models"
)

// Credential parameter names. The upstream accepts them lowercase; some
// client libraries send uppercase variants which must not leak through.
const (
	paramAppID  = "x-algolia-application-id"
	paramAPIKey = "x-algolia-api-key"
	paramAgent  = "x-algolia-agent"
)

// uppercaseParamVariants are the differently-cased duplicates known to be
// sent by upstream client libraries. They are stripped before forwarding.
var uppercaseParamVariants = []string{
	"X-Algolia-Application-Id",
	"X-Algolia-API-Key",
	"X-Algolia-Agent",
}

// attemptBodyLimit caps the per-host response body excerpt kept for the
// aggregate failure report.
const attemptBodyLimit = 512

// Result is an upstream response held in memory: status, headers, body.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Success reports whether the status is in the 2xx range.
func (r *Result) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// Dispatcher builds upstream URLs, injects credentials and executes the
// ordered host failover. Hosts are always tried in the same fixed order;
// the first success wins and remaining hosts are never contacted.
type Dispatcher struct {
	client        *http.Client
	scheme        string
	searchHosts   []string
	analyticsHost string
	appID         string
	apiKey        string
	agent         string
	log           *zap.Logger
}

// Options configures a Dispatcher explicitly. Zero fields get working
// defaults except the credentials.
type Options struct {
	Client        *http.Client
	Scheme        string
	SearchHosts   []string
	AnalyticsHost string
	AppID         string
	APIKey        string
	Agent         string
	Log           *zap.Logger
}

// New builds a dispatcher from explicit options.
func New(opts Options) *Dispatcher {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Dispatcher{
		client:        opts.Client,
		scheme:        opts.Scheme,
		searchHosts:   opts.SearchHosts,
		analyticsHost: opts.AnalyticsHost,
		appID:         opts.AppID,
		apiKey:        opts.APIKey,
		agent:         opts.Agent,
		log:           opts.Log,
	}
}

// NewDispatcher derives the candidate host list from the configured
// application id: one primary DSN host plus three numbered fallbacks.
func NewDispatcher(cfg *config.Config, log *zap.Logger) *Dispatcher {
	app := cfg.AlgoliaAppID
	return New(Options{
		SearchHosts: []string{
			app + "-dsn.algolia.net",
			app + "-1.algolianet.com",
			app + "-2.algolianet.com",
			app + "-3.algolianet.com",
		},
		AnalyticsHost: "insights.algolia.io",
		AppID:         app,
		APIKey:        cfg.AlgoliaAPIKey,
		Agent:         cfg.AgentIdent,
		Log:           log,
	})
}

// Search forwards a search request across the failover host list. It returns
// the first successful response, or nil with a FailureDetails report when
// every host has been exhausted.
func (d *Dispatcher) Search(ctx context.Context, method, path string, query url.Values, header http.Header, body []byte) (*Result, *models.FailureDetails) {
	fwdQuery := cloneValues(query)
	fwdQuery.Set(paramAgent, d.agent)

	fwdHeader := header.Clone()
	if fwdHeader == nil {
		fwdHeader = http.Header{}
	}
	fwdHeader.Set("X-Algolia-Application-Id", d.appID)
	fwdHeader.Set("X-Algolia-API-Key", d.apiKey)

	attempts := make([]models.HostAttempt, 0, len(d.searchHosts))
	var lastURL string

	for _, host := range d.searchHosts {
		u := url.URL{Scheme: d.scheme, Host: host, Path: path, RawQuery: fwdQuery.Encode()}
		lastURL = u.String()

		res, err := d.do(ctx, method, lastURL, fwdHeader, body)
		if err != nil {
			d.log.Warn("upstream host failed",
				zap.String("host", host),
				zap.Error(err))
			metrics.RecordUpstreamAttempt(host, "error")
			attempts = append(attempts, models.HostAttempt{Host: host, Error: err.Error()})
			continue
		}
		if res.Success() {
			metrics.RecordUpstreamAttempt(host, "success")
			return res, nil
		}
		metrics.RecordUpstreamAttempt(host, "http_error")
		d.log.Warn("upstream host returned non-success",
			zap.String("host", host),
			zap.Int("status", res.Status))
		attempts = append(attempts, models.HostAttempt{
			Host:   host,
			Status: res.Status,
			Body:   excerpt(res.Body),
		})
	}

	return nil, &models.FailureDetails{
		Attempts: attempts,
		URL:      lastURL,
		Method:   method,
		Headers:  flatten(fwdHeader),
		Body:     excerpt(body),
	}
}

// Events forwards an analytics request to the single fixed analytics host.
// Credentials are injected as lowercase query parameters and any
// differently-cased duplicates supplied by the caller are removed. There is
// no retry on this path; a transport error is terminal.
func (d *Dispatcher) Events(ctx context.Context, path string, query url.Values, header http.Header, body []byte) (*Result, error) {
	fwdQuery := cloneValues(query)
	for _, name := range uppercaseParamVariants {
		fwdQuery.Del(name)
	}
	fwdQuery.Set(paramAppID, d.appID)
	fwdQuery.Set(paramAPIKey, d.apiKey)
	fwdQuery.Set(paramAgent, d.agent)

	u := url.URL{Scheme: d.scheme, Host: d.analyticsHost, Path: path, RawQuery: fwdQuery.Encode()}
	res, err := d.do(ctx, http.MethodPost, u.String(), header, body)
	if err != nil {
		d.log.Warn("analytics upstream failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// do executes one upstream call and reads the full response into memory.
func (d *Dispatcher) do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Result, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	return &Result{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   respBody,
	}, nil
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for name, values := range v {
		out[name] = append([]string(nil), values...)
	}
	return out
}

// excerpt keeps at most attemptBodyLimit bytes for diagnostics.
func excerpt(b []byte) string {
	if len(b) > attemptBodyLimit {
		return string(b[:attemptBodyLimit])
	}
	return string(b)
}

// flatten reduces a header to single values for the failure report. The API
// key is redacted: the report ends up in client-visible 502 bodies.
func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	if _, ok := out["X-Algolia-Api-Key"]; ok {
		out["X-Algolia-Api-Key"] = "[redacted]"
	}
	return out
}
