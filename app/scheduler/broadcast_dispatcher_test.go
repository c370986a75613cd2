package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/astro-dispatch/app/services"
	"github.com/amirphl/astro-dispatch/config"
	"github.com/amirphl/astro-dispatch/models"
	testingutil "github.com/amirphl/astro-dispatch/testing"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records sends and answers from a per-chat table
type fakeSender struct {
	mu         sync.Mutex
	configured bool
	results    map[string]services.SendResult
	dropped    []services.DroppedButton
	onSend     func(chatID string)
	sent       []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{configured: true, results: map[string]services.SendResult{}}
}

func (f *fakeSender) Configured() bool { return f.configured }

func (f *fakeSender) Compose(text string, _ models.DeliveryConfig) (*services.OutboundMessage, []services.DroppedButton) {
	return &services.OutboundMessage{Method: "sendMessage", Text: text}, f.dropped
}

func (f *fakeSender) Send(_ context.Context, _ *services.OutboundMessage, chatID string) services.SendResult {
	if f.onSend != nil {
		f.onSend(chatID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID)
	if res, ok := f.results[chatID]; ok {
		return res
	}
	id := int64(len(f.sent))
	return services.SendResult{OK: true, MessageID: &id}
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type dispatchFixture struct {
	store      *testingutil.MemoryStore
	sender     *fakeSender
	hub        *services.ProgressHub
	dispatcher *BroadcastDispatcher
}

func newDispatchFixture(batchSize int) *dispatchFixture {
	store := testingutil.NewMemoryStore()
	sender := newFakeSender()
	hub := services.NewProgressHub()
	d := NewBroadcastDispatcher(store.Jobs(), store.Recipients(), store, sender, hub,
		config.DispatchConfig{BatchSize: batchSize, GuardWindow: 2 * time.Minute}, zerolog.Nop())
	return &dispatchFixture{store: store, sender: sender, hub: hub, dispatcher: d}
}

func (f *dispatchFixture) addJob(chatIDs ...string) *models.BroadcastJob {
	return f.store.AddJob(testingutil.NewJob("hello", chatIDs...), utils.UTCNow())
}

func (f *dispatchFixture) assertInvariant(t *testing.T, jobID uint) {
	t.Helper()
	job, counts := f.store.Counts(jobID)
	assert.Equal(t, job.Total, job.Sent+job.Failed+counts.Pending, "sent+failed+pending must equal total")
	assert.Equal(t, counts.Sent, job.Sent)
	assert.Equal(t, counts.Failed, job.Failed)
}

func TestTriggerScenarioMixedOutcomes(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3")
	f.sender.results["2"] = services.SendResult{Error: "Forbidden: bot was blocked by the user", StatusCode: 403}

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, OutcomeProcessed, res.Message)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, models.BroadcastJobStatusDone, res.Status)

	stored := f.store.Job(job.ID)
	assert.Equal(t, 2, stored.Sent)
	assert.Equal(t, 1, stored.Failed)
	assert.Equal(t, models.BroadcastJobStatusDone, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.FinishedAt)
	assert.Nil(t, stored.ClaimedAt)

	rows := f.store.JobRecipients(job.ID)
	require.Len(t, rows, 3)
	assert.Equal(t, models.RecipientStatusSent, rows[0].Status)
	assert.NotNil(t, rows[0].ProviderMessageID)
	assert.NotNil(t, rows[0].SentAt)
	assert.Equal(t, models.RecipientStatusFailed, rows[1].Status)
	assert.Equal(t, "Forbidden: bot was blocked by the user", *rows[1].Error)
	assert.Equal(t, models.RecipientStatusSent, rows[2].Status)
}

func TestTriggerWithoutTokenMutatesNothing(t *testing.T) {
	f := newDispatchFixture(50)
	f.sender.configured = false
	job := f.addJob("1", "2")

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, res)

	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusQueued, stored.Status)
	assert.Nil(t, stored.StartedAt)
	assert.Zero(t, f.store.ClaimCalls)
	assert.Zero(t, f.sender.calls())
	for _, r := range f.store.JobRecipients(job.ID) {
		assert.Equal(t, models.RecipientStatusPending, r.Status)
	}
}

func TestTriggerCancelledJobIsNotProcessable(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1")
	f.store.SetJob(job.ID, func(j *models.BroadcastJob) { j.Status = models.BroadcastJobStatusCancelled })

	res, err := f.dispatcher.Trigger(context.Background(), &job.UUID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, OutcomeJobNotProcessable, res.Message)

	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusCancelled, stored.Status)
	assert.Nil(t, stored.StartedAt, "job never became running")
	assert.Zero(t, f.sender.calls())
}

func TestTriggerTargetOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  models.BroadcastJobStatus
		outcome string
	}{
		{name: "done", status: models.BroadcastJobStatusDone, outcome: OutcomeJobAlreadyCompleted},
		{name: "failed", status: models.BroadcastJobStatusFailed, outcome: OutcomeJobAlreadyCompleted},
		{name: "paused", status: models.BroadcastJobStatusPaused, outcome: OutcomeJobNotProcessable},
		{name: "cancelled", status: models.BroadcastJobStatusCancelled, outcome: OutcomeJobNotProcessable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(50)
			job := f.addJob("1")
			f.store.SetJob(job.ID, func(j *models.BroadcastJob) { j.Status = tt.status })

			res, err := f.dispatcher.Trigger(context.Background(), &job.UUID)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Message)
			assert.Equal(t, tt.status, f.store.Job(job.ID).Status)
			assert.Zero(t, f.sender.calls())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		f := newDispatchFixture(50)
		missing := uuid.New()
		_, err := f.dispatcher.Trigger(context.Background(), &missing)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestTriggerNoJobs(t *testing.T) {
	f := newDispatchFixture(50)
	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, OutcomeNoJobs, res.Message)
}

func TestTriggerPicksOldestActionableJob(t *testing.T) {
	f := newDispatchFixture(50)
	now := utils.UTCNow()
	newer := f.store.AddJob(testingutil.NewJob("newer", "1"), now)
	older := f.store.AddJob(testingutil.NewJob("older", "2"), now.Add(-time.Hour))

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, older.UUID, res.JobID)
	assert.Equal(t, models.BroadcastJobStatusQueued, f.store.Job(newer.ID).Status)
}

func TestTriggerInvariantHoldsDuringBatch(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3", "4", "5", "6")
	f.sender.results["3"] = services.SendResult{Error: "Bad Request: chat not found"}
	f.sender.results["5"] = services.SendResult{Error: "Bad Request: chat not found"}
	observations := 0
	f.sender.onSend = func(string) {
		f.assertInvariant(t, job.ID)
		observations++
	}

	_, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	f.assertInvariant(t, job.ID)
	assert.Equal(t, 6, observations)
}

func TestTriggerIsIdempotentOnProcessedJob(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2")

	_, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	before := f.store.Job(job.ID)
	calls := f.sender.calls()

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoJobs, res.Message)

	res, err = f.dispatcher.Trigger(context.Background(), &job.UUID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeJobAlreadyCompleted, res.Message)

	after := f.store.Job(job.ID)
	assert.Equal(t, before.Sent, after.Sent)
	assert.Equal(t, before.Failed, after.Failed)
	assert.Equal(t, before.FinishedAt, after.FinishedAt)
	assert.Equal(t, calls, f.sender.calls())
}

func TestTriggerSecondCallWhileClaimedIsAlreadyProcessing(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.sender.onSend = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan *TriggerResult, 1)
	go func() {
		res, _ := f.dispatcher.Trigger(context.Background(), nil)
		done <- res
	}()
	<-entered

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessing, res.Message)

	res, err = f.dispatcher.Trigger(context.Background(), &job.UUID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessing, res.Message)
	assert.Equal(t, 1, f.sender.calls(), "second trigger sends nothing")

	close(release)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, OutcomeProcessed, first.Message)
	assert.Equal(t, models.BroadcastJobStatusDone, f.store.Job(job.ID).Status)
}

func TestTriggerTakesOverExpiredClaim(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1")
	stale := utils.UTCNow().Add(-3 * time.Minute)
	f.store.SetJob(job.ID, func(j *models.BroadcastJob) {
		j.Status = models.BroadcastJobStatusRunning
		j.ClaimedAt = &stale
		j.StartedAt = &stale
	})

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Message)
	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusDone, stored.Status)
	assert.WithinDuration(t, stale, *stored.StartedAt, time.Millisecond, "started_at keeps the first claim")
}

func TestTriggerLiveClaimBlocks(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1")
	recent := utils.UTCNow().Add(-30 * time.Second)
	f.store.SetJob(job.ID, func(j *models.BroadcastJob) {
		j.Status = models.BroadcastJobStatusRunning
		j.ClaimedAt = &recent
	})

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessing, res.Message)
	assert.Zero(t, f.sender.calls())
}

func TestTriggerProcessesOneBatchPerCall(t *testing.T) {
	f := newDispatchFixture(2)
	job := f.addJob("1", "2", "3", "4", "5")

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, models.BroadcastJobStatusRunning, res.Status)
	assert.Nil(t, f.store.Job(job.ID).ClaimedAt, "claim released after the batch")

	for i := 0; i < 2; i++ {
		_, err = f.dispatcher.Trigger(context.Background(), nil)
		require.NoError(t, err)
	}
	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusDone, stored.Status)
	assert.Equal(t, 5, stored.Sent)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, f.sender.sent, "oldest pending first")
}

func TestTriggerSystemicFailureFailsJob(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3")
	f.sender.results["1"] = services.SendResult{Error: "Unauthorized", StatusCode: 401, Systemic: true}

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Unauthorized", res.Error)
	assert.Equal(t, models.BroadcastJobStatusFailed, res.Status)
	assert.Equal(t, 3, res.Remaining)

	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "Unauthorized", *stored.LastError)
	assert.NotNil(t, stored.FinishedAt)
	for _, r := range f.store.JobRecipients(job.ID) {
		assert.Equal(t, models.RecipientStatusPending, r.Status)
	}
	assert.Equal(t, 1, f.sender.calls(), "batch stops at the systemic failure")

	res, err = f.dispatcher.Trigger(context.Background(), &job.UUID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeJobAlreadyCompleted, res.Message)
}

func TestTriggerPersistenceErrorLeavesRecipientsPending(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3")
	f.store.RecipientUpdateErr = errors.New("connection reset")

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, 3, f.sender.calls(), "batch continues past persistence errors")

	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusRunning, stored.Status)
	assert.Zero(t, stored.Sent)
	f.assertInvariant(t, job.ID)

	f.store.RecipientUpdateErr = nil
	res, err = f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, models.BroadcastJobStatusDone, f.store.Job(job.ID).Status)
}

func TestTriggerFinalizesEmptyJobWithoutSending(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob()

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Message)
	assert.Equal(t, models.BroadcastJobStatusDone, res.Status)
	assert.Zero(t, f.sender.calls())
	assert.Equal(t, models.BroadcastJobStatusDone, f.store.Job(job.ID).Status)
}

func TestTriggerPauseDuringBatchIsKept(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3")
	var once sync.Once
	f.sender.onSend = func(string) {
		once.Do(func() {
			_, err := f.store.Jobs().TransitionStatus(context.Background(), job.ID,
				[]models.BroadcastJobStatus{models.BroadcastJobStatusRunning}, models.BroadcastJobStatusPaused, utils.UTCNow())
			require.NoError(t, err)
		})
	}

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed, "in-flight batch finishes its selected recipients")

	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusPaused, stored.Status, "finalize leaves a paused job alone")
	assert.Equal(t, 3, stored.Sent)
	assert.Nil(t, stored.FinishedAt)
}

func TestTriggerResumeDuringBatchKeepsLease(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.sender.onSend = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan *TriggerResult, 1)
	go func() {
		res, _ := f.dispatcher.Trigger(context.Background(), nil)
		done <- res
	}()
	<-entered

	jobs := f.store.Jobs()
	paused, err := jobs.TransitionStatus(context.Background(), job.ID,
		[]models.BroadcastJobStatus{models.BroadcastJobStatusRunning}, models.BroadcastJobStatusPaused, utils.UTCNow())
	require.NoError(t, err)
	require.True(t, paused)
	resumed, err := jobs.TransitionStatus(context.Background(), job.ID,
		[]models.BroadcastJobStatus{models.BroadcastJobStatusPaused}, models.BroadcastJobStatusRunning, utils.UTCNow())
	require.NoError(t, err)
	require.True(t, resumed)
	assert.NotNil(t, f.store.Job(job.ID).ClaimedAt, "resume keeps the in-flight lease")

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessing, res.Message)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, f.sender.calls(), "second trigger sends nothing")

	close(release)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, 3, first.Processed)
	assert.Equal(t, []string{"1", "2", "3"}, f.sender.sent, "each recipient is sent once")
	assert.Equal(t, models.BroadcastJobStatusDone, f.store.Job(job.ID).Status)
	f.assertInvariant(t, job.ID)
}

func TestTriggerReleaseLeavesTakenOverLease(t *testing.T) {
	f := newDispatchFixture(1)
	job := f.addJob("1", "2")
	takeover := utils.UTCNow().Add(time.Minute)
	var once sync.Once
	f.sender.onSend = func(string) {
		once.Do(func() {
			f.store.SetJob(job.ID, func(j *models.BroadcastJob) { j.ClaimedAt = &takeover })
		})
	}

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)

	stored := f.store.Job(job.ID)
	assert.Equal(t, models.BroadcastJobStatusRunning, stored.Status)
	require.NotNil(t, stored.ClaimedAt, "a drive only clears its own lease")
	assert.True(t, takeover.Equal(*stored.ClaimedAt))
}

func TestTriggerProgressReportsPauseDuringBatch(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3")
	ch, unsub := f.hub.Subscribe(job.UUID, 16)
	defer unsub()

	var once sync.Once
	f.sender.onSend = func(string) {
		once.Do(func() {
			_, err := f.store.Jobs().TransitionStatus(context.Background(), job.ID,
				[]models.BroadcastJobStatus{models.BroadcastJobStatusRunning}, models.BroadcastJobStatusPaused, utils.UTCNow())
			require.NoError(t, err)
		})
	}

	res, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastJobStatusPaused, res.Status)

	var snapshots []services.ProgressSnapshot
	for len(ch) > 0 {
		snapshots = append(snapshots, <-ch)
	}
	require.Len(t, snapshots, 4, "one per recipient plus the reconciled one")
	for i, s := range snapshots {
		assert.Equal(t, models.BroadcastJobStatusPaused, s.Status, "snapshot %d", i)
	}
	assert.Equal(t, 1, snapshots[0].Sent)
	assert.Equal(t, 3, snapshots[len(snapshots)-1].Sent)
}

func TestTriggerStopsOnContextCancellation(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2", "3")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sender.onSend = func(string) { cancel() }

	res, err := f.dispatcher.Trigger(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Remaining)
	assert.Nil(t, f.store.Job(job.ID).ClaimedAt, "claim released on shutdown")
	f.assertInvariant(t, job.ID)
}

func TestTriggerRecordsDroppedButtons(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1")
	f.sender.dropped = []services.DroppedButton{{Text: "Bad", URL: "no-dot-no-local", Reason: "invalid host"}}

	_, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)

	stored := f.store.Job(job.ID)
	require.NotNil(t, stored.DeliveryWarning)
	assert.Contains(t, *stored.DeliveryWarning, "no-dot-no-local")
	assert.Equal(t, 1, f.sender.calls(), "valid parts are still sent")
}

func TestTriggerPublishesProgress(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1", "2")
	ch, unsub := f.hub.Subscribe(job.UUID, 16)
	defer unsub()

	_, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)

	var snapshots []services.ProgressSnapshot
	for s := range ch {
		snapshots = append(snapshots, s)
	}
	require.Len(t, snapshots, 3, "one per recipient plus the final one")
	assert.Equal(t, 1, snapshots[0].Sent)
	assert.Equal(t, 1, snapshots[0].Pending)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, models.BroadcastJobStatusDone, last.Status)
	assert.Equal(t, 2, last.Sent)
}

func TestFinishedJobCannotBeRevived(t *testing.T) {
	f := newDispatchFixture(50)
	job := f.addJob("1")
	_, err := f.dispatcher.Trigger(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, models.BroadcastJobStatusDone, f.store.Job(job.ID).Status)

	moved, err := f.store.Jobs().TransitionStatus(context.Background(), job.ID,
		[]models.BroadcastJobStatus{models.BroadcastJobStatusDone}, models.BroadcastJobStatusRunning, utils.UTCNow())
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, models.BroadcastJobStatusDone, f.store.Job(job.ID).Status)
}

func TestDroppedButtonsWarning(t *testing.T) {
	warning := DroppedButtonsWarning([]services.DroppedButton{
		{Text: "A", URL: "ftp://x.com", Reason: "bad scheme"},
		{Text: "", URL: "x.com", Reason: "button text is empty"},
	})
	assert.Equal(t, `dropped invalid buttons: "A" (ftp://x.com): bad scheme; "" (x.com): button text is empty`, warning)
}
