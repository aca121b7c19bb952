package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/notify"
)

// MaxNotificationPhotos caps the photo references attached to one message.
const MaxNotificationPhotos = 3

// Evaluate reports whether every destination with a threshold has a commute
// time at or under it. Destinations without a threshold never block.
func Evaluate(commutes []models.CommuteResult, thresholds map[string]int) bool {
	minutes := make(map[string]*int, len(commutes))
	for _, c := range commutes {
		minutes[c.Destination] = c.Minutes
	}
	for label, limit := range thresholds {
		m := minutes[label]
		if m == nil || *m > limit {
			return false
		}
	}
	return true
}

// NotificationGate sends at most one message per listing per run, and only
// for listings whose commutes pass the thresholds.
type NotificationGate struct {
	notifier   Notifier
	chatIDs    []string
	thresholds map[string]int
	timeout    time.Duration
	metrics    *Metrics

	mu   sync.Mutex
	sent map[int64]struct{}
}

// NewNotificationGate builds a gate. A nil notifier or an empty chat list
// disables sending.
func NewNotificationGate(notifier Notifier, chatIDs []string, thresholds map[string]int, timeout time.Duration, metrics *Metrics) *NotificationGate {
	return &NotificationGate{
		notifier:   notifier,
		chatIDs:    chatIDs,
		thresholds: thresholds,
		timeout:    timeout,
		metrics:    metrics,
		sent:       make(map[int64]struct{}),
	}
}

// Reset forgets the listings notified so far. Run calls it once per run.
func (g *NotificationGate) Reset() {
	g.mu.Lock()
	g.sent = make(map[int64]struct{})
	g.mu.Unlock()
}

// Notify evaluates l and sends the message when it passes. It reports
// whether a message was sent.
func (g *NotificationGate) Notify(ctx context.Context, l models.Listing, commutes []models.CommuteResult, photoRefs []string) (bool, error) {
	if !Evaluate(commutes, g.thresholds) {
		g.metrics.IncNotification("rejected")
		return false, nil
	}
	if g.notifier == nil || len(g.chatIDs) == 0 {
		g.metrics.IncNotification("disabled")
		return false, nil
	}

	g.mu.Lock()
	if _, dup := g.sent[l.ID]; dup {
		g.mu.Unlock()
		return false, nil
	}
	g.sent[l.ID] = struct{}{}
	g.mu.Unlock()

	if len(photoRefs) > MaxNotificationPhotos {
		photoRefs = photoRefs[:MaxNotificationPhotos]
	}

	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.notifier.SendMediaGroup(callCtx, g.chatIDs, notify.FormatListing(l, commutes), photoRefs); err != nil {
		g.metrics.IncNotification("failed")
		return false, fmt.Errorf("send notification: %w", err)
	}
	g.metrics.IncNotification("sent")
	return true, nil
}

// photoRefs picks what the notifier should attach: the cached copy when it
// is a local file, otherwise the source URL.
func photoRefs(stored []models.Photo, fallback []string) []string {
	refs := make([]string, 0, MaxNotificationPhotos)
	for _, p := range stored {
		if len(refs) == MaxNotificationPhotos {
			return refs
		}
		if p.Path != "" && !strings.Contains(p.Path, "://") {
			refs = append(refs, p.Path)
		} else {
			refs = append(refs, p.URL)
		}
	}
	if len(refs) > 0 {
		return refs
	}
	for _, u := range fallback {
		if len(refs) == MaxNotificationPhotos {
			break
		}
		refs = append(refs, u)
	}
	return refs
}
