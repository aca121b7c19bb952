package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/storage"
)

// MaxPhotosPerListing caps how many photos of one listing are cached.
const MaxPhotosPerListing = 10

// PhotoSaver records listing photos that are not stored yet.
type PhotoSaver struct {
	store      storage.Store
	downloader PhotoDownloader
	timeout    time.Duration
	metrics    *Metrics
}

// NewPhotoSaver builds a saver. A nil downloader disables photo caching.
func NewPhotoSaver(store storage.Store, downloader PhotoDownloader, timeout time.Duration, metrics *Metrics) *PhotoSaver {
	return &PhotoSaver{store: store, downloader: downloader, timeout: timeout, metrics: metrics}
}

// AddPhotosIfAbsent downloads and records each URL not yet stored for the
// listing. Failed downloads are logged and left out. It returns every photo
// stored for the listing afterwards.
func (s *PhotoSaver) AddPhotosIfAbsent(ctx context.Context, logger *slog.Logger, listingID int64, urls []string) []models.Photo {
	stored, err := s.store.Photos(ctx, listingID)
	if err != nil {
		s.metrics.IncStageFailure("photos")
		logger.Warn("loading stored photos failed", slog.Any("error", err))
		return nil
	}
	if s.downloader == nil {
		return stored
	}

	seen := make(map[string]struct{}, len(stored)+len(urls))
	for _, p := range stored {
		seen[p.URL] = struct{}{}
	}

	for _, u := range urls {
		if len(stored) >= MaxPhotosPerListing {
			break
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}

		callCtx, cancel := withTimeout(ctx, s.timeout)
		path, err := s.downloader.Download(callCtx, listingID, u)
		cancel()
		if err != nil {
			s.metrics.IncStageFailure("photo_download")
			logger.Warn("photo download failed", slog.String("photo_url", u), slog.Any("error", err))
			continue
		}

		p := models.Photo{ListingID: listingID, URL: u, Path: path}
		added, err := s.store.AddPhoto(ctx, p)
		if err != nil {
			s.metrics.IncStageFailure("photos")
			logger.Warn("recording photo failed", slog.String("photo_url", u), slog.Any("error", err))
			continue
		}
		if added {
			s.metrics.IncPhotos()
			stored = append(stored, p)
		}
	}
	return stored
}
