package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/capforge/api/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore keeps jobs in process memory. Terminal jobs older than the TTL
// are evicted by the sweeper; running jobs are never evicted.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore creates an in-memory store. ttl <= 0 disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Create stores a new running job.
func (s *MemoryStore) Create(_ context.Context, in NewJob) (*models.Job, error) {
	j := newJob(in, s.now())

	s.mu.Lock()
	s.jobs[j.ID] = j
	n := len(s.jobs)
	s.mu.Unlock()
	storedJobs.Set(float64(n))

	return clone(j), nil
}

// Update merges p into the job.
func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, p Patch) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.apply(j, s.now())
	return clone(j), nil
}

// Get returns a snapshot of the job.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep evicts terminal jobs last updated more than the TTL ago and returns
// how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done. The returned
// channel is closed once the sweeper goroutine has exited.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					storedJobs.Set(float64(s.Len()))
					logger.Debug("evicted expired jobs", zap.Int("count", n))
				}
			}
		}
	}()
	return done
}
