package jobs

import (
	"time"

	"github.com/rs/zerolog/log"
)

// SessionSweeper is the registry surface the job needs. RemoveExpired checks
// deadlines under the registry's own lock, so the sweep cannot destroy a
// session whose deadline was pushed out by a concurrent transition.
type SessionSweeper interface {
	RemoveExpired(now time.Time) int
}

// CleanupJob periodically removes sessions whose deadline has passed. The
// per-session timers are the primary removal path; this sweep is the backstop
// that keeps a missed timer from leaking a socket or directory.
type CleanupJob struct {
	store    SessionSweeper
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(store SessionSweeper, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
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

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *CleanupJob) sweep() {
	if removed := j.store.RemoveExpired(time.Now()); removed > 0 {
		log.Info().Int("count", removed).Msg("cleaned up expired sessions")
	}
}
