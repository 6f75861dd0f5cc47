package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felipemaragno/hookline/internal/clock"
)

// Memory is an in-process Queue for tests and local development. Jobs are
// lost on restart.
type Memory struct {
	mu        sync.Mutex
	clock     clock.Clock
	lease     time.Duration
	jobs      map[string]*Job
	waiting   []string
	delayed   map[string]time.Time
	active    map[string]time.Time
	completed int64
	failed    int64
	paused    bool
}

func NewMemory(clk clock.Clock, lease time.Duration) *Memory {
	if lease <= 0 {
		lease = DefaultLeaseTimeout
	}
	return &Memory{
		clock:   clk,
		lease:   lease,
		jobs:    make(map[string]*Job),
		delayed: make(map[string]time.Time),
		active:  make(map[string]time.Time),
	}
}

func (m *Memory) Enqueue(_ context.Context, job Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return false, nil
	}
	j := job
	m.jobs[job.ID] = &j
	m.waiting = append(m.waiting, job.ID)
	return true, nil
}

func (m *Memory) Dequeue(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return nil, nil
	}

	now := m.clock.Now()
	m.promote(now)

	for len(m.waiting) > 0 {
		id := m.waiting[0]
		m.waiting = m.waiting[1:]
		j, ok := m.jobs[id]
		if !ok {
			continue
		}
		j.Attempt++
		j.Claim = uuid.NewString()
		m.active[id] = now.Add(m.lease)
		out := *j
		return &out, nil
	}
	return nil, nil
}

// promote moves due delayed jobs and expired leases to the waiting list.
func (m *Memory) promote(now time.Time) {
	type entry struct {
		id  string
		due time.Time
	}
	var ready []entry
	for id, due := range m.delayed {
		if !due.After(now) {
			ready = append(ready, entry{id, due})
			delete(m.delayed, id)
		}
	}
	for id, deadline := range m.active {
		if !deadline.After(now) {
			ready = append(ready, entry{id, deadline})
			delete(m.active, id)
			if j, ok := m.jobs[id]; ok {
				j.Claim = ""
			}
		}
	}
	sort.Slice(ready, func(i, k int) bool { return ready[i].due.Before(ready[k].due) })
	for _, e := range ready {
		m.waiting = append(m.waiting, e.id)
	}
}

func (m *Memory) Complete(_ context.Context, job *Job) error {
	return m.finish(job, &m.completed)
}

// claimed returns the stored job when job still holds its claim.
func (m *Memory) claimed(job *Job) (*Job, error) {
	j, ok := m.jobs[job.ID]
	if !ok {
		return nil, nil
	}
	if j.Claim == "" || j.Claim != job.Claim {
		return nil, ErrClaimLost
	}
	return j, nil
}

func (m *Memory) finish(job *Job, counter *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(job)
	if j == nil {
		return err
	}
	delete(m.active, job.ID)
	delete(m.jobs, job.ID)
	*counter++
	return nil
}

func (m *Memory) Retry(_ context.Context, job *Job, delay time.Duration, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(job)
	if j == nil {
		return err
	}
	delete(m.active, job.ID)
	j.Attempt = job.Attempt
	j.LastError = reason
	j.Claim = ""

	if delay <= 0 {
		m.waiting = append(m.waiting, job.ID)
		return nil
	}
	m.delayed[job.ID] = m.clock.Now().Add(delay)
	return nil
}

func (m *Memory) Fail(_ context.Context, job *Job, _ string) error {
	return m.finish(job, &m.failed)
}

func (m *Memory) Counts(_ context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Counts{
		Waiting:   int64(len(m.waiting)),
		Active:    int64(len(m.active)),
		Completed: m.completed,
		Failed:    m.failed,
		Delayed:   int64(len(m.delayed)),
	}, nil
}

func (m *Memory) Pause(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}

func (m *Memory) Resume(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	return nil
}

func (m *Memory) Drain(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.waiting {
		if _, claimed := m.active[id]; !claimed {
			delete(m.jobs, id)
		}
	}
	for id := range m.delayed {
		delete(m.jobs, id)
	}
	m.waiting = nil
	m.delayed = make(map[string]time.Time)
	return nil
}
