package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/otodombot/config"
	"github.com/aluiziolira/otodombot/enrich"
	"github.com/aluiziolira/otodombot/models"
)

// Enrichment is what the enrichment stages learned about one listing. Zero
// values mean the stage produced nothing.
type Enrichment struct {
	Location    string
	Coordinates *models.Coordinates
	// Commutes is only meaningful when CommutesResolved is set, which
	// happens once the address was geocoded.
	Commutes         []models.CommuteResult
	CommutesResolved bool
	Notes            string
}

// Enricher runs address resolution, geocoding with commutes and the AI
// rating in that order. Any collaborator may be nil, which skips its stage.
type Enricher struct {
	resolver AddressResolver
	geocoder Geocoder
	rater    Rater
	commute  config.CommuteConfig
	timeout  time.Duration
	metrics  *Metrics
	now      func() time.Time
}

// NewEnricher builds an enricher. timeout bounds every external call.
func NewEnricher(resolver AddressResolver, geocoder Geocoder, rater Rater, commute config.CommuteConfig, timeout time.Duration, metrics *Metrics) *Enricher {
	return &Enricher{
		resolver: resolver,
		geocoder: geocoder,
		rater:    rater,
		commute:  commute,
		timeout:  timeout,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Enrich runs every available stage for raw. existing is the stored listing
// being updated, or nil when the listing is new. Stage failures are logged
// and counted; Enrich itself never fails.
func (e *Enricher) Enrich(ctx context.Context, logger *slog.Logger, raw models.RawListing, markup string, existing *models.Listing) Enrichment {
	var out Enrichment

	out.Location = e.resolveAddress(ctx, logger, raw, markup)
	if out.Location != "" {
		e.resolveCommutes(ctx, logger, &out)
	}

	if existing == nil {
		preview := models.ApplyUpdate(models.Listing{}, models.Update{
			Raw:      raw,
			Location: out.Location,
		})
		out.Notes = e.rate(ctx, logger, preview)
	}

	return out
}

func (e *Enricher) resolveAddress(ctx context.Context, logger *slog.Logger, raw models.RawListing, markup string) string {
	if e.resolver == nil {
		return ""
	}
	callCtx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	addr, err := e.resolver.ResolveAddress(callCtx, raw, markup)
	if err != nil {
		e.fail(logger, "address", err)
		return ""
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = strings.TrimSpace(raw.AddressHint)
	}
	return addr
}

func (e *Enricher) resolveCommutes(ctx context.Context, logger *slog.Logger, out *Enrichment) {
	if e.geocoder == nil {
		return
	}

	callCtx, cancel := withTimeout(ctx, e.timeout)
	coords, found, err := e.geocoder.Geocode(callCtx, out.Location)
	cancel()
	if err != nil {
		e.fail(logger, "geocode", err)
		return
	}
	if !found {
		logger.Info("address not geocoded", slog.String("address", out.Location))
		return
	}
	out.Coordinates = &coords

	departure, err := enrich.DepartureFor(e.now(), e.commute)
	if err != nil {
		e.fail(logger, "departure", err)
		return
	}

	results := make([]models.CommuteResult, 0, len(e.commute.Destinations))
	for _, dest := range e.commute.Destinations {
		result := models.CommuteResult{Destination: dest.Label}

		callCtx, cancel := withTimeout(ctx, e.timeout)
		minutes, err := e.geocoder.TransitDuration(callCtx, coords, dest.Label, departure)
		cancel()
		if err != nil {
			e.fail(logger.With(slog.String("destination", dest.Label)), "commute", err)
		} else {
			result.Minutes = minutes
		}
		results = append(results, result)
	}
	out.Commutes = results
	out.CommutesResolved = true
}

func (e *Enricher) rate(ctx context.Context, logger *slog.Logger, l models.Listing) string {
	if e.rater == nil {
		return ""
	}
	callCtx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	notes, err := e.rater.Rate(callCtx, l)
	if err != nil {
		e.fail(logger, "rating", err)
		return ""
	}
	return strings.TrimSpace(notes)
}

func (e *Enricher) fail(logger *slog.Logger, stage string, err error) {
	e.metrics.IncStageFailure(stage)
	logger.Warn("enrichment stage failed", slog.String("stage", stage), slog.Any("error", err))
}
