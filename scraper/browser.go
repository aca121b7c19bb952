package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/otodombot/config"
)

// consentScript clicks the first cookie-consent accept button it finds and
// reports whether it clicked anything.
const consentScript = `(function() {
	var selectors = ['#onetrust-accept-btn-handler', 'button[data-cy="accept-consent"]', 'button[id*="accept"]'];
	for (var i = 0; i < selectors.length; i++) {
		var el = document.querySelector(selectors[i]);
		if (el) { el.click(); return true; }
	}
	return false;
})()`

// BrowserRenderer renders pages in a shared headless (or headful) Chrome
// instance, one tab per call.
type BrowserRenderer struct {
	cfg     *config.Config
	limiter *rate.Limiter
	Metrics *Metrics

	browserCtx   context.Context
	cancelBrowse context.CancelFunc
	cancelAlloc  context.CancelFunc
}

// NewBrowserRenderer starts the browser. Close must be called to release it.
func NewBrowserRenderer(cfg *config.Config, metrics *Metrics) (*BrowserRenderer, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1366, 900),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowse := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowse()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	slog.Info("browser started", slog.Bool("headless", cfg.Headless))
	return &BrowserRenderer{
		cfg:          cfg,
		limiter:      newLimiter(cfg.RequestRate),
		Metrics:      metrics,
		browserCtx:   browserCtx,
		cancelBrowse: cancelBrowse,
		cancelAlloc:  cancelAlloc,
	}, nil
}

// Render loads pageURL in a fresh tab, waits for it to settle and returns
// the resulting document markup.
func (r *BrowserRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", ClassifyError(err, 0)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	r.Metrics.IncRequest("started")
	start := time.Now()

	status := 0
	resp, err := chromedp.RunResponse(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "pl-PL,pl;q=0.9,en;q=0.8"}),
		chromedp.Navigate(pageURL),
	)
	if resp != nil {
		status = int(resp.Status)
	}

	var markup string
	if err == nil && status < http.StatusBadRequest {
		err = chromedp.Run(tabCtx,
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(r.cfg.RenderWait),
		)
		if err == nil {
			r.dismissConsent(tabCtx)
			err = chromedp.Run(tabCtx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))
		}
	}
	r.Metrics.ObserveDuration(time.Since(start))

	if err != nil || status >= http.StatusBadRequest {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		classified := classifyBrowserError(err, status)
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
	return markup, nil
}

// Search renders one page of the search at intentURL.
func (r *BrowserRenderer) Search(ctx context.Context, intentURL string, page int) (string, error) {
	pageURL, err := PageURL(intentURL, page)
	if err != nil {
		return "", err
	}
	return r.Render(ctx, pageURL)
}

// Close shuts the browser down.
func (r *BrowserRenderer) Close() error {
	r.cancelBrowse()
	r.cancelAlloc()
	return nil
}

// dismissConsent never fails: a missing overlay or a script error only gets
// logged.
func (r *BrowserRenderer) dismissConsent(ctx context.Context) {
	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(consentScript, &clicked)); err != nil {
		slog.Debug("cookie consent dismissal failed", slog.Any("error", err))
		return
	}
	if clicked {
		slog.Debug("cookie consent dismissed")
		_ = chromedp.Run(ctx, chromedp.Sleep(300*time.Millisecond))
	}
}

func classifyBrowserError(err error, status int) error {
	if err != nil && strings.Contains(err.Error(), "net::ERR_") && !errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "ERR_TIMED_OUT") {
			return ErrTimeout{Err: err}
		}
		return ErrConnection{Err: err}
	}
	classified := ClassifyError(err, status)
	if classified == nil {
		return fmt.Errorf("http status %d", status)
	}
	return classified
}
