package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/storage"
)

type brokenLookup struct{}

func (brokenLookup) FindByURL(context.Context, string) (*models.Listing, error) {
	return nil, errors.New("connection reset")
}

func (brokenLookup) FindByExternalID(context.Context, int64) (*models.Listing, error) {
	return nil, errors.New("connection reset")
}

func TestGateDecide(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name     string
		existing *models.Listing
		want     Action
	}{
		{name: "unresolved", existing: nil, want: ActionCreate},
		{name: "parsed yesterday", existing: &models.Listing{LastParsed: at(24 * time.Hour)}, want: ActionSkip},
		{name: "parsed eight days ago", existing: &models.Listing{LastParsed: at(8 * 24 * time.Hour)}, want: ActionUpdate},
		{name: "exactly at window", existing: &models.Listing{LastParsed: at(7 * 24 * time.Hour)}, want: ActionUpdate},
		{name: "never parsed", existing: &models.Listing{}, want: ActionUpdate},
	}

	g := NewGate(storage.NewMemoryStore(), 7*24*time.Hour)
	g.now = func() time.Time { return now }
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Decide(tt.existing); got != tt.want {
				t.Fatalf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGateResolveOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	byURL, err := store.UpsertListing(ctx, storage.Upsert{Update: models.Update{
		Raw:      models.RawListing{URL: "https://example.test/a", Price: int64Ptr(1)},
		ParsedAt: time.Now(),
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	byID, err := store.UpsertListing(ctx, storage.Upsert{Update: models.Update{
		Raw:      models.RawListing{URL: "https://example.test/b", ExternalID: int64Ptr(777777), Price: int64Ptr(1)},
		ParsedAt: time.Now(),
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	g := NewGate(store, time.Hour)

	l, err := g.Resolve(ctx, "https://example.test/a", int64Ptr(777777))
	if err != nil || l == nil || l.ID != byURL.Listing.ID {
		t.Fatalf("url match should win, got %+v, %v", l, err)
	}
	l, err = g.Resolve(ctx, "https://example.test/moved", int64Ptr(777777))
	if err != nil || l == nil || l.ID != byID.Listing.ID {
		t.Fatalf("external id fallback failed, got %+v, %v", l, err)
	}
	l, err = g.Resolve(ctx, "https://example.test/moved", nil)
	if err != nil || l != nil {
		t.Fatalf("expected no match, got %+v, %v", l, err)
	}

	if _, err := NewGate(brokenLookup{}, time.Hour).Resolve(ctx, "https://example.test/a", nil); err == nil {
		t.Fatalf("expected lookup error")
	}
}

func TestEvaluate(t *testing.T) {
	thresholds := map[string]int{"Office": 30}
	tests := []struct {
		name     string
		commutes []models.CommuteResult
		want     bool
	}{
		{name: "within", commutes: []models.CommuteResult{{Destination: "Office", Minutes: intPtr(25)}}, want: true},
		{name: "equal", commutes: []models.CommuteResult{{Destination: "Office", Minutes: intPtr(30)}}, want: true},
		{name: "over", commutes: []models.CommuteResult{{Destination: "Office", Minutes: intPtr(45)}}, want: false},
		{name: "missing minutes", commutes: []models.CommuteResult{{Destination: "Office"}}, want: false},
		{name: "missing destination", commutes: nil, want: false},
		{
			name: "informational ignored",
			commutes: []models.CommuteResult{
				{Destination: "Office", Minutes: intPtr(20)},
				{Destination: "Gym"},
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.commutes, thresholds); got != tt.want {
				t.Fatalf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}

	if !Evaluate(nil, nil) {
		t.Fatalf("no thresholds should always pass")
	}
}

func TestNotificationGateSendsOncePerRun(t *testing.T) {
	n := &fakeNotifier{}
	g := NewNotificationGate(n, []string{"1"}, nil, time.Second, nil)
	l := models.Listing{ID: 9, Title: "Flat", URL: "https://example.test/9"}

	for i := 0; i < 2; i++ {
		if _, err := g.Notify(context.Background(), l, nil, []string{"a", "b", "c", "d"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	sent := n.sent()
	if len(sent) != 1 {
		t.Fatalf("messages = %d, want 1", len(sent))
	}
	if len(sent[0].photos) != MaxNotificationPhotos {
		t.Fatalf("photos = %v", sent[0].photos)
	}

	g.Reset()
	if ok, _ := g.Notify(context.Background(), l, nil, nil); !ok {
		t.Fatalf("expected a send after reset")
	}
}

func TestPhotoRefs(t *testing.T) {
	stored := []models.Photo{
		{URL: "https://img.example.test/1.jpg", Path: "photos/1/1.jpg"},
		{URL: "https://img.example.test/2.jpg", Path: "s3://bucket/1/2.jpg"},
	}
	got := photoRefs(stored, []string{"https://img.example.test/x.jpg"})
	if len(got) != 2 || got[0] != "photos/1/1.jpg" || got[1] != "https://img.example.test/2.jpg" {
		t.Fatalf("refs = %v", got)
	}

	got = photoRefs(nil, []string{"u1", "u2", "u3", "u4"})
	if len(got) != 3 || got[2] != "u3" {
		t.Fatalf("fallback refs = %v", got)
	}
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(urlKey("https://example.test/a"))
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
	if len(k.locks) != 0 {
		t.Fatalf("lock entries leaked: %d", len(k.locks))
	}
}
