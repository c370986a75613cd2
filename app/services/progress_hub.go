package services

import (
	"context"
	"sync"
	"time"

	"github.com/amirphl/astro-dispatch/models"
	"github.com/google/uuid"
)

const defaultProgressBuffer = 16

// ProgressSnapshot is the aggregate state of one job as seen by observers
type ProgressSnapshot struct {
	JobID     uuid.UUID                 `json:"job_id"`
	Status    models.BroadcastJobStatus `json:"status"`
	Total     int                       `json:"total"`
	Sent      int                       `json:"sent"`
	Failed    int                       `json:"failed"`
	Pending   int                       `json:"pending"`
	LastError *string                   `json:"last_error,omitempty"`
	Deleted   bool                      `json:"deleted,omitempty"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// SnapshotFromJob captures the counters and status of a job
func SnapshotFromJob(job *models.BroadcastJob) ProgressSnapshot {
	return ProgressSnapshot{
		JobID:     job.UUID,
		Status:    job.Status,
		Total:     job.Total,
		Sent:      job.Sent,
		Failed:    job.Failed,
		Pending:   job.Pending(),
		LastError: job.LastError,
		UpdatedAt: job.UpdatedAt,
	}
}

// Final reports whether no further snapshot will follow this one
func (s ProgressSnapshot) Final() bool {
	return s.Deleted || s.Status.IsTerminal()
}

// ProgressPublisher accepts job snapshots. Publish never blocks on observers.
type ProgressPublisher interface {
	Publish(ctx context.Context, snapshot ProgressSnapshot)
}

// ProgressSubscriber hands out per-job snapshot streams
type ProgressSubscriber interface {
	Subscribe(jobID uuid.UUID, buffer int) (<-chan ProgressSnapshot, func())
}

// ProgressSnapshotReader returns the last snapshot published for a job, or nil
type ProgressSnapshotReader interface {
	LastSnapshot(ctx context.Context, jobID uuid.UUID) (*ProgressSnapshot, error)
}

// ProgressHub is the in-process fan-out of job snapshots keyed by job UUID.
// Once a final snapshot is delivered every channel of that job is closed.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*progressSub]struct{}
}

type progressSub struct {
	ch     chan ProgressSnapshot
	closed bool
}

// NewProgressHub creates an empty hub
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: map[uuid.UUID]map[*progressSub]struct{}{}}
}

// Subscribe registers a buffered stream for one job
func (h *ProgressHub) Subscribe(jobID uuid.UUID, buffer int) (<-chan ProgressSnapshot, func()) {
	if buffer <= 0 {
		buffer = defaultProgressBuffer
	}
	sub := &progressSub{ch: make(chan ProgressSnapshot, buffer)}

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = map[*progressSub]struct{}{}
	}
	h.subs[jobID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[jobID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		})
	}
	return sub.ch, unsub
}

// Publish delivers locally; it satisfies ProgressPublisher
func (h *ProgressHub) Publish(_ context.Context, snapshot ProgressSnapshot) {
	h.Deliver(snapshot)
}

// Deliver hands the snapshot to every subscriber of its job. A full buffer
// loses its oldest entry so the latest snapshot always lands.
func (h *ProgressHub) Deliver(snapshot ProgressSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[snapshot.JobID]
	for sub := range set {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- snapshot:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snapshot:
		default:
		}
	}

	if snapshot.Final() {
		for sub := range set {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		delete(h.subs, snapshot.JobID)
	}
}

// Subscribers returns the number of open streams of a job
func (h *ProgressHub) Subscribers(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
