package testing

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/repository"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of the broadcast repositories.
// WithTransaction serializes against Counts so observers never see a recipient
// update without its job counter delta.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	jobs        map[uint]*models.BroadcastJob
	recipients  map[uint]*models.BroadcastRecipient
	subscribers map[uint]*models.Subscriber

	nextJobID        uint
	nextRecipientID  uint
	nextSubscriberID uint

	// RecipientUpdateErr, when set, is returned by MarkSent and MarkFailed
	RecipientUpdateErr error
	// ClaimCalls counts Claim invocations
	ClaimCalls int
}

var _ repository.Transactor = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[uint]*models.BroadcastJob),
		recipients:  make(map[uint]*models.BroadcastRecipient),
		subscribers: make(map[uint]*models.Subscriber),
	}
}

// Jobs returns the job repository view
func (s *MemoryStore) Jobs() repository.BroadcastJobRepository { return &memoryJobs{s: s} }

// Recipients returns the recipient repository view
func (s *MemoryStore) Recipients() repository.BroadcastRecipientRepository {
	return &memoryRecipients{s: s}
}

// Subscribers returns the subscriber repository view
func (s *MemoryStore) Subscribers() repository.SubscriberRepository {
	return &memorySubscribers{s: s}
}

// WithTransaction runs fn while holding the transaction lock
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(repository.TxContextKey) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, repository.TxContextKey, "memory"))
}

// Job returns a copy of the stored job, or nil
func (s *MemoryStore) Job(id uint) *models.BroadcastJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		c := *j
		return &c
	}
	return nil
}

// JobRecipients returns copies of a job's recipients in creation order
func (s *MemoryStore) JobRecipients(jobID uint) []models.BroadcastRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BroadcastRecipient
	for _, r := range s.recipients {
		if r.JobID == jobID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Counts returns the job's counters together with the recipient tallies under the transaction lock
func (s *MemoryStore) Counts(jobID uint) (job models.BroadcastJob, counts models.RecipientCounts) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		job = *j
	}
	return job, s.countLocked(jobID)
}

// SetJob overwrites selected fields of a stored job
func (s *MemoryStore) SetJob(id uint, mutate func(j *models.BroadcastJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		mutate(j)
	}
}

// AddJob stores a job with its recipients, assigning ids and a creation time
func (s *MemoryStore) AddJob(job *models.BroadcastJob, createdAt time.Time) *models.BroadcastJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertJobLocked(job, createdAt)
	return job
}

func (s *MemoryStore) insertJobLocked(job *models.BroadcastJob, createdAt time.Time) {
	_ = job.BeforeCreate(nil)
	s.nextJobID++
	job.ID = s.nextJobID
	job.CreatedAt = createdAt
	job.UpdatedAt = createdAt
	job.Total = len(job.Recipients)

	for i := range job.Recipients {
		s.nextRecipientID++
		r := job.Recipients[i]
		r.ID = s.nextRecipientID
		r.JobID = job.ID
		if r.Status == "" {
			r.Status = models.RecipientStatusPending
		}
		r.CreatedAt = createdAt
		r.UpdatedAt = createdAt
		job.Recipients[i] = r
		stored := r
		s.recipients[r.ID] = &stored
	}

	stored := *job
	stored.Recipients = nil
	s.jobs[job.ID] = &stored
}

func (s *MemoryStore) countLocked(jobID uint) models.RecipientCounts {
	var c models.RecipientCounts
	for _, r := range s.recipients {
		if r.JobID != jobID {
			continue
		}
		switch r.Status {
		case models.RecipientStatusPending:
			c.Pending++
		case models.RecipientStatusSent:
			c.Sent++
		case models.RecipientStatusFailed:
			c.Failed++
		}
	}
	return c
}

func page[T any](rows []*T, limit, offset int) []*T {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func descending(orderBy string) bool {
	return strings.Contains(strings.ToUpper(orderBy), "DESC")
}

type memoryJobs struct {
	s *MemoryStore
}

func (m *memoryJobs) matches(j *models.BroadcastJob, f models.BroadcastJobFilter) bool {
	if f.ID != nil && j.ID != *f.ID {
		return false
	}
	if f.UUID != nil && j.UUID != *f.UUID {
		return false
	}
	if f.Status != nil && j.Status != *f.Status {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, j.Status) {
		return false
	}
	if f.CreatedAfter != nil && j.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !j.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func (m *memoryJobs) sortedLocked(f models.BroadcastJobFilter) []*models.BroadcastJob {
	var out []*models.BroadcastJob
	for _, j := range m.s.jobs {
		if m.matches(j, f) {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

func (m *memoryJobs) ByID(_ context.Context, id uint) (*models.BroadcastJob, error) {
	return m.s.Job(id), nil
}

func (m *memoryJobs) ByUUID(_ context.Context, id uuid.UUID) (*models.BroadcastJob, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rows := m.sortedLocked(models.BroadcastJobFilter{UUID: &id})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (m *memoryJobs) ByFilter(_ context.Context, f models.BroadcastJobFilter, orderBy string, limit, offset int) ([]*models.BroadcastJob, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rows := m.sortedLocked(f)
	if descending(orderBy) {
		slices.Reverse(rows)
	}
	return page(rows, limit, offset), nil
}

func (m *memoryJobs) Save(_ context.Context, job *models.BroadcastJob) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.insertJobLocked(job, utils.UTCNow())
	return nil
}

func (m *memoryJobs) Count(_ context.Context, f models.BroadcastJobFilter) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return int64(len(m.sortedLocked(f))), nil
}

func (m *memoryJobs) Exists(ctx context.Context, f models.BroadcastJobFilter) (bool, error) {
	c, err := m.Count(ctx, f)
	return c > 0, err
}

func (m *memoryJobs) NextActionable(_ context.Context) (*models.BroadcastJob, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rows := m.sortedLocked(models.BroadcastJobFilter{Statuses: models.ActionableJobStatuses})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (m *memoryJobs) Claim(_ context.Context, id uint, now time.Time, guardWindow time.Duration) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.ClaimCalls++
	j, ok := m.s.jobs[id]
	if !ok {
		return false, nil
	}
	switch j.Status {
	case models.BroadcastJobStatusQueued:
	case models.BroadcastJobStatusRunning:
		if j.ClaimedAt != nil && !j.ClaimedAt.Before(now.Add(-guardWindow)) {
			return false, nil
		}
	default:
		return false, nil
	}
	j.Status = models.BroadcastJobStatusRunning
	j.ClaimedAt = utils.ToPtr(now)
	if j.StartedAt == nil {
		j.StartedAt = utils.ToPtr(now)
	}
	j.UpdatedAt = now
	return true, nil
}

func (m *memoryJobs) ReleaseClaim(_ context.Context, id uint, claimedAt time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok || j.ClaimedAt == nil || !j.ClaimedAt.Equal(claimedAt) {
		return false, nil
	}
	j.ClaimedAt = nil
	return true, nil
}

func (m *memoryJobs) ApplyDelta(_ context.Context, id uint, sentDelta, failedDelta int) error {
	m.s.SetJob(id, func(j *models.BroadcastJob) {
		j.Sent += sentDelta
		j.Failed += failedDelta
	})
	return nil
}

func (m *memoryJobs) TransitionStatus(_ context.Context, id uint, from []models.BroadcastJobStatus, to models.BroadcastJobStatus, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok || !slices.Contains(from, j.Status) || !j.Status.CanTransitionTo(to) {
		return false, nil
	}
	j.Status = to
	j.UpdatedAt = now
	switch {
	case to.IsTerminal():
		j.FinishedAt = utils.ToPtr(now)
		j.ClaimedAt = nil
	case to == models.BroadcastJobStatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = utils.ToPtr(now)
		}
	}
	return true, nil
}

func (m *memoryJobs) Finalize(ctx context.Context, id uint, counts models.RecipientCounts, now time.Time) (bool, error) {
	m.s.SetJob(id, func(j *models.BroadcastJob) {
		j.Sent = counts.Sent
		j.Failed = counts.Failed
		j.UpdatedAt = now
	})
	if counts.Pending > 0 {
		return false, nil
	}
	return m.TransitionStatus(ctx, id, []models.BroadcastJobStatus{models.BroadcastJobStatusRunning}, models.BroadcastJobStatusDone, now)
}

func (m *memoryJobs) MarkFailed(_ context.Context, id uint, reason string, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok || j.Status != models.BroadcastJobStatusRunning {
		return false, nil
	}
	j.Status = models.BroadcastJobStatusFailed
	j.LastError = utils.ToPtr(reason)
	j.FinishedAt = utils.ToPtr(now)
	j.ClaimedAt = nil
	j.UpdatedAt = now
	return true, nil
}

func (m *memoryJobs) SetDeliveryWarning(_ context.Context, id uint, warning string) error {
	m.s.SetJob(id, func(j *models.BroadcastJob) { j.DeliveryWarning = utils.ToPtr(warning) })
	return nil
}

func (m *memoryJobs) ListIDs(_ context.Context, statuses []models.BroadcastJobStatus, createdBefore *time.Time) ([]uint, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rows := m.sortedLocked(models.BroadcastJobFilter{Statuses: statuses, CreatedBefore: createdBefore})
	ids := make([]uint, 0, len(rows))
	for _, j := range rows {
		ids = append(ids, j.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *memoryJobs) DeleteWithRecipients(_ context.Context, id uint) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.jobs[id]; !ok {
		return false, nil
	}
	for rid, r := range m.s.recipients {
		if r.JobID == id {
			delete(m.s.recipients, rid)
		}
	}
	delete(m.s.jobs, id)
	return true, nil
}

type memoryRecipients struct {
	s *MemoryStore
}

func (m *memoryRecipients) filteredLocked(f models.BroadcastRecipientFilter) []*models.BroadcastRecipient {
	var out []*models.BroadcastRecipient
	for _, r := range m.s.recipients {
		if f.ID != nil && r.ID != *f.ID {
			continue
		}
		if f.JobID != nil && r.JobID != *f.JobID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.ExternalRecipientID != nil && r.ExternalRecipientID != *f.ExternalRecipientID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (m *memoryRecipients) ByID(_ context.Context, id uint) (*models.BroadcastRecipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if r, ok := m.s.recipients[id]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (m *memoryRecipients) ByFilter(_ context.Context, f models.BroadcastRecipientFilter, orderBy string, limit, offset int) ([]*models.BroadcastRecipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rows := m.filteredLocked(f)
	if descending(orderBy) {
		slices.Reverse(rows)
	}
	return page(rows, limit, offset), nil
}

func (m *memoryRecipients) Save(_ context.Context, r *models.BroadcastRecipient) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextRecipientID++
	r.ID = m.s.nextRecipientID
	if r.Status == "" {
		r.Status = models.RecipientStatusPending
	}
	now := utils.UTCNow()
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	m.s.recipients[r.ID] = &c
	return nil
}

func (m *memoryRecipients) Count(_ context.Context, f models.BroadcastRecipientFilter) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return int64(len(m.filteredLocked(f))), nil
}

func (m *memoryRecipients) Exists(ctx context.Context, f models.BroadcastRecipientFilter) (bool, error) {
	c, err := m.Count(ctx, f)
	return c > 0, err
}

func (m *memoryRecipients) ListPending(ctx context.Context, jobID uint, limit int) ([]*models.BroadcastRecipient, error) {
	status := models.RecipientStatusPending
	return m.ByFilter(ctx, models.BroadcastRecipientFilter{JobID: &jobID, Status: &status}, "id ASC", limit, 0)
}

func (m *memoryRecipients) MarkSent(_ context.Context, id uint, providerMessageID *int64, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.RecipientUpdateErr != nil {
		return false, m.s.RecipientUpdateErr
	}
	r, ok := m.s.recipients[id]
	if !ok || r.Status != models.RecipientStatusPending {
		return false, nil
	}
	r.Status = models.RecipientStatusSent
	r.SentAt = utils.ToPtr(now)
	r.ProviderMessageID = providerMessageID
	r.Error = nil
	r.UpdatedAt = now
	return true, nil
}

func (m *memoryRecipients) MarkFailed(_ context.Context, id uint, reason string, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.RecipientUpdateErr != nil {
		return false, m.s.RecipientUpdateErr
	}
	r, ok := m.s.recipients[id]
	if !ok || r.Status != models.RecipientStatusPending {
		return false, nil
	}
	r.Status = models.RecipientStatusFailed
	r.Error = utils.ToPtr(reason)
	r.UpdatedAt = now
	return true, nil
}

func (m *memoryRecipients) CountByStatus(_ context.Context, jobID uint) (models.RecipientCounts, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.countLocked(jobID), nil
}

type memorySubscribers struct {
	s *MemoryStore
}

// AddSubscriber stores a subscriber and assigns its id
func (s *MemoryStore) AddSubscriber(sub *models.Subscriber) *models.Subscriber {
	_ = s.Subscribers().Save(context.Background(), sub)
	return sub
}

func boolMatches(want *bool, got *bool) bool {
	if want == nil {
		return true
	}
	return utils.IsTrue(got) == *want
}

func (m *memorySubscribers) filteredLocked(f models.SubscriberFilter) []*models.Subscriber {
	var out []*models.Subscriber
	for _, sub := range m.s.subscribers {
		if f.ID != nil && sub.ID != *f.ID {
			continue
		}
		if len(f.ChatIDs) > 0 && !slices.Contains(f.ChatIDs, sub.ChatID) {
			continue
		}
		if len(f.ZodiacSigns) > 0 && !slices.Contains(f.ZodiacSigns, utils.Deref(sub.ZodiacSign)) {
			continue
		}
		if len(f.PlanCodes) > 0 && !slices.Contains(f.PlanCodes, utils.Deref(sub.PlanCode)) {
			continue
		}
		if len(f.LanguageCodes) > 0 && !slices.Contains(f.LanguageCodes, utils.Deref(sub.LanguageCode)) {
			continue
		}
		if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(t string) bool { return slices.Contains(sub.Tags, t) }) {
			continue
		}
		if !boolMatches(f.IsActive, sub.IsActive) || !boolMatches(f.IsBlocked, sub.IsBlocked) {
			continue
		}
		c := *sub
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (m *memorySubscribers) ByID(_ context.Context, id uint) (*models.Subscriber, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if sub, ok := m.s.subscribers[id]; ok {
		c := *sub
		return &c, nil
	}
	return nil, nil
}

func (m *memorySubscribers) ByChatID(_ context.Context, chatID string) (*models.Subscriber, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rows := m.filteredLocked(models.SubscriberFilter{ChatIDs: []string{chatID}})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (m *memorySubscribers) ByFilter(_ context.Context, f models.SubscriberFilter, orderBy string, limit, offset int) ([]*models.Subscriber, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rows := m.filteredLocked(f)
	if descending(orderBy) {
		slices.Reverse(rows)
	}
	return page(rows, limit, offset), nil
}

func (m *memorySubscribers) Save(_ context.Context, sub *models.Subscriber) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextSubscriberID++
	sub.ID = m.s.nextSubscriberID
	if sub.IsActive == nil {
		sub.IsActive = utils.ToPtr(true)
	}
	if sub.IsBlocked == nil {
		sub.IsBlocked = utils.ToPtr(false)
	}
	now := utils.UTCNow()
	sub.CreatedAt, sub.UpdatedAt = now, now
	c := *sub
	m.s.subscribers[sub.ID] = &c
	return nil
}

func (m *memorySubscribers) Count(_ context.Context, f models.SubscriberFilter) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return int64(len(m.filteredLocked(f))), nil
}

func (m *memorySubscribers) Exists(ctx context.Context, f models.SubscriberFilter) (bool, error) {
	c, err := m.Count(ctx, f)
	return c > 0, err
}
