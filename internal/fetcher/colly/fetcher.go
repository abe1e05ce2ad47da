// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize truncates bodies; zero keeps colly's default.
	MaxBodySize int
}

// Fetcher issues one GET per call through a clone of a shared collector, so
// connections are pooled but callbacks stay per request. Non-2xx responses
// are returned rather than treated as errors.
type Fetcher struct {
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector()
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	})
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)
	return &Fetcher{base: c}
}

// Fetch GETs request.URL with request.Headers and returns the response as is.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{start: time.Now()}
	c := f.base.Clone()
	c.Context = ctx
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)

	err := c.Request(http.MethodGet, request.URL, nil, nil, request.Headers.Clone())
	if err == nil {
		err = v.err
	}
	if err == nil && v.resp == nil {
		err = fmt.Errorf("no response")
	}
	if err != nil {
		metrics.ObserveFetch(request.URL, "error", 0)
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
		}
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	metrics.ObserveFetch(request.URL, strconv.Itoa(v.resp.StatusCode), len(v.resp.Body))
	return *v.resp, nil
}

// visit collects the callbacks of a single request.
type visit struct {
	start time.Time
	resp  *crawler.FetchResponse
	err   error
}

func (v *visit) onResponse(r *colly.Response) {
	var headers http.Header
	if r.Headers != nil {
		headers = r.Headers.Clone()
		// colly gunzips the body itself but keeps the response headers.
		if strings.Contains(strings.ToLower(headers.Get("Content-Encoding")), "gzip") {
			headers.Del("Content-Encoding")
			headers.Del("Content-Length")
		}
	}
	v.resp = &crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(_ *colly.Response, err error) {
	v.err = err
}
