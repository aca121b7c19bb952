// Package pipeline turns crawled listing URLs into persisted, enriched
// listings and notifies about new ones.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/otodombot/config"
	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/parser"
	"github.com/aluiziolira/otodombot/scraper"
	"github.com/aluiziolira/otodombot/storage"
)

// ErrRunInProgress is returned when Run is called while another run is
// still active.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Collaborators are the external capabilities a pipeline drives. Renderer
// and Store are required; any other nil collaborator skips its stage.
type Collaborators struct {
	Renderer Renderer
	// Crawler defaults to a scraper.Aggregator over Renderer.
	Crawler  Crawler
	Store    storage.Store
	Resolver AddressResolver
	Geocoder Geocoder
	Rater    Rater
	Notifier Notifier
	ChatIDs  []string
	Photos   PhotoDownloader
}

// Pipeline coordinates crawling, resolution, enrichment, persistence and
// notification for one search intent.
type Pipeline struct {
	cfg      *config.Config
	intent   scraper.SearchIntent
	renderer Renderer
	crawler  Crawler
	store    storage.Store

	gate     *Gate
	enricher *Enricher
	photos   *PhotoSaver
	notifier *NotificationGate
	keys     *keyedMutex
	metrics  *Metrics

	now func() time.Time

	running sync.Mutex
}

// New wires a pipeline from cfg and its collaborators.
func New(cfg *config.Config, c Collaborators, metrics *Metrics) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if c.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if c.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	crawler := c.Crawler
	if crawler == nil {
		crawler = scraper.NewAggregator(c.Renderer, nil)
	}

	return &Pipeline{
		cfg:      cfg,
		intent:   scraper.NewSearchIntent(cfg),
		renderer: c.Renderer,
		crawler:  crawler,
		store:    c.Store,
		gate:     NewGate(c.Store, cfg.ReparseAfter),
		enricher: NewEnricher(c.Resolver, c.Geocoder, c.Rater, cfg.Commute, cfg.Timeout, metrics),
		photos:   NewPhotoSaver(c.Store, c.Photos, cfg.Timeout, metrics),
		notifier: NewNotificationGate(c.Notifier, c.ChatIDs, cfg.Commute.Thresholds(), cfg.Timeout, metrics),
		keys:     newKeyedMutex(),
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

// outcome is what processing one candidate produced.
type outcome struct {
	action   Action
	dropped  bool
	notified bool
}

// Run executes one full cycle. A crawl failure aborts the run; failures of
// a single listing are logged and counted. Runs never overlap.
func (p *Pipeline) Run(ctx context.Context) (models.RunResult, error) {
	if !p.running.TryLock() {
		return models.RunResult{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	result := models.RunResult{
		RunID:        uuid.NewString(),
		StartTime:    p.now(),
		ErrorsByType: make(map[string]int),
	}
	logger := slog.With(slog.String("run_id", result.RunID))
	p.notifier.Reset()

	logger.Info("run started", slog.String("base_url", p.cfg.BaseURL), slog.Int("pages", p.cfg.MaxPages))

	urls, err := p.crawler.Collect(ctx, p.intent, p.cfg.MaxPages)
	if err != nil {
		result.EndTime = p.now()
		p.metrics.ObserveRun("crawl_failed", result.EndTime.Sub(result.StartTime))
		return result, fmt.Errorf("crawl: %w", err)
	}
	result.Candidates = len(urls)
	logger.Info("crawl finished", slog.Int("candidates", len(urls)))

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(url string, o outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed++
			result.FailedURLs = append(result.FailedURLs, url)
			result.ErrorsByType[scraper.ErrorTypeLabel(err)]++
			p.metrics.IncListing("failed")
			return
		}
		switch {
		case o.dropped:
			result.Dropped++
			p.metrics.IncListing("dropped")
		case o.action == ActionCreate:
			result.Created++
			p.metrics.IncListing("created")
		case o.action == ActionUpdate:
			result.Updated++
			p.metrics.IncListing("updated")
		default:
			result.Skipped++
			p.metrics.IncListing("skipped")
		}
		if o.notified {
			result.Notified++
		}
	}

	jobs := make(chan string)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range jobs {
				listingLogger := logger.With(slog.String("url", url))
				o, err := p.process(ctx, listingLogger, url)
				if err != nil {
					listingLogger.Error("listing failed", slog.Any("error", err))
				}
				record(url, o, err)
			}
		}()
	}

feed:
	for _, url := range urls {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- url:
		}
	}
	close(jobs)
	wg.Wait()

	result.EndTime = p.now()
	status := "ok"
	if ctx.Err() != nil {
		status = "canceled"
	}
	p.metrics.ObserveRun(status, result.EndTime.Sub(result.StartTime))

	logger.Info("run finished",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
		slog.Int("dropped", result.Dropped),
		slog.Int("failed", result.Failed),
		slog.Int("notified", result.Notified),
	)
	return result, ctx.Err()
}

// process handles one candidate URL end to end.
func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, url string) (outcome, error) {
	unlock := p.keys.Lock(urlKey(url))
	defer unlock()

	existing, err := p.gate.Resolve(ctx, url, nil)
	if err != nil {
		return outcome{}, err
	}
	action := p.gate.Decide(existing)
	if action == ActionSkip {
		logger.Debug("listing fresh, skipped")
		return outcome{action: ActionSkip}, nil
	}

	markup, err := p.renderer.Render(ctx, url)
	if err != nil {
		return outcome{}, fmt.Errorf("render listing: %w", err)
	}
	raw, err := parser.ExtractListing(markup, url)
	if errors.Is(err, parser.ErrNoPrice) {
		logger.Info("listing has no price, dropped")
		return outcome{action: action, dropped: true}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("extract listing: %w", err)
	}

	if existing == nil && raw.ExternalID != nil {
		unlockExt := p.keys.Lock(extKey(*raw.ExternalID))
		defer unlockExt()

		existing, err = p.gate.Resolve(ctx, url, raw.ExternalID)
		if err != nil {
			return outcome{}, err
		}
		if existing != nil {
			// Matched by id only: the detail page was already paid for, so
			// the listing is refreshed regardless of its age.
			logger.Info("listing matched by external id", slog.Int64("listing_id", existing.ID))
			action = ActionUpdate
		}
	}

	enrichment := p.enricher.Enrich(ctx, logger, *raw, markup, existing)

	update := models.Update{
		Raw:         *raw,
		Location:    enrichment.Location,
		Coordinates: enrichment.Coordinates,
		Notes:       enrichment.Notes,
		ParsedAt:    p.now(),
	}
	if enrichment.CommutesResolved {
		good := Evaluate(enrichment.Commutes, p.cfg.Commute.Thresholds())
		update.IsGood = &good
	}

	upsert := storage.Upsert{
		Update:          update,
		Commutes:        enrichment.Commutes,
		ReplaceCommutes: enrichment.CommutesResolved,
	}
	if existing != nil {
		upsert.ID = existing.ID
	}
	res, err := p.store.UpsertListing(ctx, upsert)
	if err != nil {
		p.metrics.IncStageFailure("persist")
		return outcome{}, fmt.Errorf("persist listing: %w", err)
	}
	logger = logger.With(slog.Int64("listing_id", res.Listing.ID))
	logger.Info("listing stored",
		slog.String("action", action.String()),
		slog.Bool("price_recorded", res.PriceRecorded),
	)

	stored := p.photos.AddPhotosIfAbsent(ctx, logger, res.Listing.ID, raw.PhotoURLs)

	o := outcome{action: action}
	if !res.Created {
		return o, nil
	}
	sent, err := p.notifier.Notify(ctx, res.Listing, enrichment.Commutes, photoRefs(stored, raw.PhotoURLs))
	if err != nil {
		// The listing is stored; a lost message is not retried.
		logger.Warn("notification failed", slog.Any("error", err))
		return o, nil
	}
	o.notified = sent
	return o, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
