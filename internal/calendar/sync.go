package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// maxAttempts bounds retries of a single API call within one sync run.
const maxAttempts = 3

// Status is a snapshot of the last sync run, served by the status
// endpoint.
type Status struct {
	Running     bool       `json:"running"`
	LastStarted *time.Time `json:"last_started,omitempty"`
	LastFinish  *time.Time `json:"last_finished,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
}

// Syncer mirrors the Notion event database into Google Calendar.
// Calendar events are keyed by the Notion page id stored in their
// private extended properties; events on the calendar without that
// marker are never touched.
type Syncer struct {
	notion *NotionClient
	gcal   *GCalClient
	log    *zap.Logger

	mu     sync.Mutex
	status Status
}

// NewSyncer builds a Syncer.
func NewSyncer(notion *NotionClient, gcal *GCalClient, log *zap.Logger) *Syncer {
	return &Syncer{notion: notion, gcal: gcal, log: log}
}

// Status returns a copy of the current sync status.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TryRun starts a sync unless one is already in flight.  Returns false
// when a run was already active.
func (s *Syncer) TryRun(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return false, nil
	}
	now := time.Now().UTC()
	s.status.Running = true
	s.status.LastStarted = &now
	s.mu.Unlock()

	err := s.run(ctx)

	s.mu.Lock()
	fin := time.Now().UTC()
	s.status.Running = false
	s.status.LastFinish = &fin
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
	s.mu.Unlock()
	return true, err
}

func (s *Syncer) run(ctx context.Context) error {
	notionEvents, err := retryCall(ctx, s.log, "notion query", func() ([]Event, error) {
		return s.notion.Events(ctx)
	})
	if err != nil {
		return s.permanent("fetch notion events", err)
	}

	gcalEvents, err := retryCall(ctx, s.log, "gcal list", func() ([]GCalEvent, error) {
		return s.gcal.Events(ctx)
	})
	if err != nil {
		return s.permanent("fetch calendar events", err)
	}

	// Index managed calendar events by Notion page id.  When one page
	// somehow owns several events keep the most recently updated and
	// queue the rest for deletion.
	byNotionID := map[string]GCalEvent{}
	var stale []string
	for _, ev := range gcalEvents {
		pageID := ev.NotionPageID()
		if pageID == "" || ev.Status == "cancelled" {
			continue
		}
		prev, seen := byNotionID[pageID]
		if !seen {
			byNotionID[pageID] = ev
			continue
		}
		if ev.Updated > prev.Updated {
			byNotionID[pageID] = ev
			stale = append(stale, prev.ID)
		} else {
			stale = append(stale, ev.ID)
		}
	}

	var created, updated, deleted int
	for _, ev := range notionEvents {
		existing, ok := byNotionID[ev.NotionPageID]
		if !ok {
			_, err := retryCall(ctx, s.log, "gcal insert", func() (string, error) {
				return s.gcal.Insert(ctx, ev)
			})
			if err != nil {
				return s.permanent("create calendar event", err)
			}
			created++
			continue
		}
		delete(byNotionID, ev.NotionPageID)
		if !needsUpdate(existing, ev) {
			continue
		}
		_, err := retryCall(ctx, s.log, "gcal update", func() (struct{}, error) {
			return struct{}{}, s.gcal.Update(ctx, existing.ID, ev)
		})
		if err != nil {
			return s.permanent("update calendar event", err)
		}
		updated++
	}

	// Whatever remains in the index has no Notion page anymore.
	for _, ev := range byNotionID {
		stale = append(stale, ev.ID)
	}
	for _, id := range stale {
		delID := id
		_, err := retryCall(ctx, s.log, "gcal delete", func() (struct{}, error) {
			return struct{}{}, s.gcal.Delete(ctx, delID)
		})
		if err != nil {
			return s.permanent("delete calendar event", err)
		}
		deleted++
	}

	s.mu.Lock()
	s.status.Created = created
	s.status.Updated = updated
	s.status.Deleted = deleted
	s.mu.Unlock()

	s.log.Info("calendar sync finished",
		zap.Int("created", created), zap.Int("updated", updated), zap.Int("deleted", deleted))
	return nil
}

// permanent logs and reports an unrecoverable sync failure.
func (s *Syncer) permanent(op string, err error) error {
	s.log.Error("calendar sync failed", zap.String("op", op), zap.Error(err))
	sentry.CaptureException(err)
	return err
}

// needsUpdate reports whether the calendar copy drifted from Notion.
func needsUpdate(existing GCalEvent, ev Event) bool {
	return existing.Summary != ev.Summary ||
		existing.Location != ev.Location ||
		existing.Description != ev.Description ||
		existing.Start != ev.Start ||
		existing.End != ev.End
}

// retryCall runs fn up to maxAttempts times, sleeping per the retry
// classification between attempts.  Permanent errors return
// immediately.
func retryCall[T any](ctx context.Context, log *zap.Logger, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		dec := Classify(err)
		if !dec.ShouldRetry || attempt == maxAttempts {
			return zero, err
		}
		if dec.IsRateLimit {
			log.Warn("rate limited, backing off",
				zap.String("op", op), zap.Duration("retry_after", dec.RetryAfter))
		}
		select {
		case <-time.After(dec.RetryAfter):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = errors.New("retry budget exhausted")
	}
	return zero, lastErr
}
