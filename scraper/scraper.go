// Package scraper renders otodom pages and crawls search results into
// candidate listing URLs.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/otodombot/config"
)

// StaticRenderer fetches pages over plain HTTP with colly. It does not run
// scripts, so it only sees the server-rendered markup.
type StaticRenderer struct {
	cfg       *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
	Metrics   *Metrics
}

// NewStaticRenderer builds a renderer configured from cfg.
func NewStaticRenderer(cfg *config.Config, metrics *Metrics) (*StaticRenderer, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &StaticRenderer{
		cfg:       cfg,
		collector: collector,
		limiter:   newLimiter(cfg.RequestRate),
		Metrics:   metrics,
	}, nil
}

// Render returns the markup served at pageURL.
func (r *StaticRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", ClassifyError(err, 0)
	}

	var (
		body     []byte
		status   int
		visitErr error
	)

	c := r.collector.Clone()
	c.OnRequest(func(req *colly.Request) {
		if ctx.Err() != nil {
			req.Abort()
			return
		}
		req.Headers.Set("Accept-Language", "pl-PL,pl;q=0.9,en;q=0.8")
		r.Metrics.IncRequest("started")
	})
	c.OnResponse(func(resp *colly.Response) {
		status = resp.StatusCode
		body = resp.Body
	})
	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil {
			status = resp.StatusCode
		}
		visitErr = err
	})

	start := time.Now()
	err := c.Visit(pageURL)
	r.Metrics.ObserveDuration(time.Since(start))
	if err == nil {
		err = visitErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil || status >= http.StatusBadRequest {
		classified := ClassifyError(err, status)
		if classified == nil {
			classified = fmt.Errorf("http status %d", status)
		}
		category := ErrorTypeLabel(classified)
		r.Metrics.IncRequest("failed")
		r.Metrics.IncError(category)
		slog.Error("render error",
			slog.String("url", pageURL),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("render %s: %w", pageURL, classified)
	}

	r.Metrics.IncRequest("completed")
	return string(body), nil
}

// Search renders one page of the search at intentURL.
func (r *StaticRenderer) Search(ctx context.Context, intentURL string, page int) (string, error) {
	pageURL, err := PageURL(intentURL, page)
	if err != nil {
		return "", err
	}
	return r.Render(ctx, pageURL)
}

// Close is a no-op; it exists so both renderers can be released the same way.
func (r *StaticRenderer) Close() error {
	return nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
