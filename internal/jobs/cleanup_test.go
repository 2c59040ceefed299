package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockSweeper struct {
	mu      sync.Mutex
	expired int
	sweeps  int
}

func (m *mockSweeper) RemoveExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	n := m.expired
	m.expired = 0
	return n
}

func (m *mockSweeper) sweepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweeps
}

func TestCleanupJob(t *testing.T) {
	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewCleanupJob(&mockSweeper{}, 5*time.Minute)

		assert.NotNil(t, job)
		assert.Equal(t, 5*time.Minute, job.interval)
	})

	t.Run("starts and stops without panic", func(t *testing.T) {
		job := NewCleanupJob(&mockSweeper{}, 100*time.Millisecond)

		job.Start()
		time.Sleep(50 * time.Millisecond)
		job.Stop()
	})

	t.Run("sweeps expired sessions on start", func(t *testing.T) {
		sweeper := &mockSweeper{expired: 2}
		job := NewCleanupJob(sweeper, time.Hour)

		job.Start()
		assert.Eventually(t, func() bool {
			return sweeper.sweepCount() >= 1
		}, time.Second, 5*time.Millisecond)
		job.Stop()
	})
}
