package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/otodombot/models"
)

// MemoryStore keeps everything in process memory. It backs dry runs and
// tests; the contents are lost on exit.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	nextID   int64
	listings map[int64]models.Listing
	byURL    map[string]int64
	byExtID  map[int64]int64
	history  map[int64][]models.PriceHistory
	commutes map[int64][]models.CommuteTime
	photos   map[int64][]models.Photo
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		listings: make(map[int64]models.Listing),
		byURL:    make(map[string]int64),
		byExtID:  make(map[int64]int64),
		history:  make(map[int64][]models.PriceHistory),
		commutes: make(map[int64][]models.CommuteTime),
		photos:   make(map[int64][]models.Photo),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// FindByURL implements Store.
func (s *MemoryStore) FindByURL(_ context.Context, url string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	l := s.listings[id]
	return &l, nil
}

// FindByExternalID implements Store.
func (s *MemoryStore) FindByExternalID(_ context.Context, externalID int64) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExtID[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	l := s.listings[id]
	return &l, nil
}

// UpsertListing implements Store. Uniqueness of URL and external id is
// enforced the same way the database constraints do.
func (s *MemoryStore) UpsertListing(_ context.Context, u Upsert) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		current  models.Listing
		created  = u.ID == 0
		oldPrice int64
	)
	if created {
		current = models.Listing{CreatedAt: s.now()}
	} else {
		existing, ok := s.listings[u.ID]
		if !ok {
			return UpsertResult{}, ErrNotFound
		}
		current = existing
		oldPrice = existing.Price
	}

	next := models.ApplyUpdate(current, u.Update)
	if owner, ok := s.byURL[next.URL]; ok && (created || owner != u.ID) {
		return UpsertResult{}, fmt.Errorf("url %s already stored as listing %d", next.URL, owner)
	}
	if next.ExternalID != nil {
		if owner, ok := s.byExtID[*next.ExternalID]; ok && (created || owner != u.ID) {
			return UpsertResult{}, fmt.Errorf("external id %d already stored as listing %d", *next.ExternalID, owner)
		}
	}

	if created {
		next.ID = s.id()
	} else {
		delete(s.byURL, current.URL)
		if current.ExternalID != nil {
			delete(s.byExtID, *current.ExternalID)
		}
	}
	s.listings[next.ID] = next
	s.byURL[next.URL] = next.ID
	if next.ExternalID != nil {
		s.byExtID[*next.ExternalID] = next.ID
	}

	recorded := created || next.Price != oldPrice
	if recorded {
		s.history[next.ID] = append(s.history[next.ID], models.PriceHistory{
			ID:        s.id(),
			ListingID: next.ID,
			Price:     next.Price,
			Timestamp: u.Update.ParsedAt,
		})
	}
	if u.ReplaceCommutes {
		s.replaceCommutesLocked(next.ID, u.Commutes)
	}

	return UpsertResult{Listing: next, Created: created, PriceRecorded: recorded}, nil
}

// ReplaceCommuteTimes implements Store.
func (s *MemoryStore) ReplaceCommuteTimes(_ context.Context, listingID int64, results []models.CommuteResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[listingID]; !ok {
		return ErrNotFound
	}
	s.replaceCommutesLocked(listingID, results)
	return nil
}

func (s *MemoryStore) replaceCommutesLocked(listingID int64, results []models.CommuteResult) {
	rows := make([]models.CommuteTime, 0, len(results))
	for _, r := range results {
		rows = append(rows, models.CommuteTime{
			ID:          s.id(),
			ListingID:   listingID,
			Destination: r.Destination,
			Minutes:     copyInt(r.Minutes),
		})
	}
	s.commutes[listingID] = rows
}

// AddPhoto implements Store. It reports false when the URL was already
// recorded for the listing.
func (s *MemoryStore) AddPhoto(_ context.Context, p models.Photo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[p.ListingID]; !ok {
		return false, ErrNotFound
	}
	for _, existing := range s.photos[p.ListingID] {
		if existing.URL == p.URL {
			return false, nil
		}
	}
	p.ID = s.id()
	s.photos[p.ListingID] = append(s.photos[p.ListingID], p)
	return true, nil
}

// Photos implements Store.
func (s *MemoryStore) Photos(_ context.Context, listingID int64) ([]models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Photo(nil), s.photos[listingID]...), nil
}

// PriceHistory implements Store.
func (s *MemoryStore) PriceHistory(_ context.Context, listingID int64) ([]models.PriceHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PriceHistory(nil), s.history[listingID]...), nil
}

// CommuteTimes implements Store.
func (s *MemoryStore) CommuteTimes(_ context.Context, listingID int64) ([]models.CommuteTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CommuteTime(nil), s.commutes[listingID]...), nil
}

// ListWithCoordinates implements Store.
func (s *MemoryStore) ListWithCoordinates(_ context.Context) ([]ListingDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ListingDetail, 0, len(s.listings))
	for id, l := range s.listings {
		if !l.HasCoordinates() {
			continue
		}
		out = append(out, ListingDetail{
			Listing:  l,
			Commutes: append([]models.CommuteTime{}, s.commutes[id]...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id int64) (*ListingDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ListingDetail{
		Listing:      l,
		Commutes:     append([]models.CommuteTime{}, s.commutes[id]...),
		Photos:       append([]models.Photo(nil), s.photos[id]...),
		PriceHistory: append([]models.PriceHistory(nil), s.history[id]...),
	}, nil
}

// Len returns the number of stored listings.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listings)
}

// Close implements Store.
func (s *MemoryStore) Close() {}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
