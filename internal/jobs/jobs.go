// Package jobs runs the periodic background work: the credential sweep
// and the scheduled calendar sync.  Each job is self-scheduling; a
// failed or panicking run is logged and the next tick still fires.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/auth"
	"github.com/clubsync/clubsync/internal/calendar"
	"github.com/clubsync/clubsync/internal/repository"
)

// Runner owns the background goroutines.  Stop them by cancelling the
// context passed to Start.
type Runner struct {
	Tokens   *auth.Manager
	Sessions *repository.SessionRepo
	Syncer   *calendar.Syncer // nil disables the sync job
	SyncEach time.Duration
	Log      *zap.Logger
}

// Start launches the job goroutines and returns immediately.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx, "token-sweep", time.Hour, r.sweepCredentials)
	if r.Syncer != nil && r.SyncEach > 0 {
		go r.loop(ctx, "calendar-sync", r.SyncEach, r.syncCalendar)
	}
}

func (r *Runner) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Log.Info("background job stopped", zap.String("job", name))
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

// runOnce isolates one tick so a panic cannot kill the schedule.
func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Log.Error("background job panicked",
				zap.String("job", name), zap.Any("panic", rec))
		}
	}()
	fn(ctx)
}

// sweepCredentials deletes expired refresh tokens, stale revocation
// rows and expired sessions.
func (r *Runner) sweepCredentials(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	removed, err := r.Tokens.CleanupExpired(ctx)
	if err != nil {
		r.Log.Error("credential sweep failed", zap.Error(err))
		return
	}
	sessions, err := r.Sessions.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		r.Log.Error("session sweep failed", zap.Error(err))
		return
	}
	if removed > 0 || sessions > 0 {
		r.Log.Info("credential sweep finished",
			zap.Int64("tokens_removed", removed),
			zap.Int64("sessions_removed", sessions))
	}
}

func (r *Runner) syncCalendar(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	started, err := r.Syncer.TryRun(ctx)
	if !started {
		r.Log.Info("calendar sync skipped, previous run still active")
		return
	}
	if err != nil {
		// already logged and reported by the syncer
		return
	}
}
