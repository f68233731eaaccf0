// Package jobs runs periodic background sweeps against the session and
// idempotency stores.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/store"
)

const idempotencyKeyRetention = 7 * 24 * time.Hour

type CleanupJob struct {
	sessionStore      store.SessionStore
	idempotencyStore  store.IdempotencyStore
	escalationTimeout time.Duration // 0 disables the sweep
	interval          time.Duration
	done              chan struct{}
}

func NewCleanupJob(
	sessionStore store.SessionStore,
	idempotencyStore store.IdempotencyStore,
	escalationTimeout time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		sessionStore:      sessionStore,
		idempotencyStore:  idempotencyStore,
		escalationTimeout: escalationTimeout,
		interval:          interval,
		done:              make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.escalationTimeout > 0 {
		j.runCleanup(ctx, "stale escalations", func(ctx context.Context) (int64, error) {
			cutoff := time.Now().Add(-j.escalationTimeout)
			return j.sessionStore.CloseStaleEscalations(ctx, cutoff)
		})
	}

	j.runCleanup(ctx, "idempotency keys", func(ctx context.Context) (int64, error) {
		return j.idempotencyStore.Prune(ctx, time.Now().Add(-idempotencyKeyRetention))
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
