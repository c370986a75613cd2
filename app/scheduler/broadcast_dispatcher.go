// Package scheduler runs the broadcast dispatch engine and its background workers
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/astro-dispatch/app/services"
	"github.com/amirphl/astro-dispatch/config"
	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/repository"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Trigger outcomes
const (
	OutcomeNoJobs              = "no_jobs"
	OutcomeAlreadyProcessing   = "already_processing"
	OutcomeJobAlreadyCompleted = "job_already_completed"
	OutcomeJobNotProcessable   = "job_not_processable"
	OutcomeProcessed           = "processed"
)

var (
	// ErrNotConfigured is returned when the sender has no bot token
	ErrNotConfigured = errors.New("broadcast dispatch is not configured")
	// ErrJobNotFound is returned by a targeted trigger for an unknown job
	ErrJobNotFound = errors.New("broadcast job not found")
)

// TriggerResult is the outcome of one trigger call
type TriggerResult struct {
	Success      bool                      `json:"success"`
	Message      string                    `json:"message"`
	Error        string                    `json:"error,omitempty"`
	JobID        uuid.UUID                 `json:"job_id,omitempty"`
	Status       models.BroadcastJobStatus `json:"status,omitempty"`
	Processed    int                       `json:"processed"`
	SuccessCount int                       `json:"success_count"`
	ErrorCount   int                       `json:"errors"`
	Remaining    int                       `json:"remaining"`
}

// BroadcastDispatcher processes at most one batch of one job per Trigger call.
// It holds no state between calls; the claim lease on the job row serializes drives.
type BroadcastDispatcher struct {
	jobs       repository.BroadcastJobRepository
	recipients repository.BroadcastRecipientRepository
	tx         repository.Transactor
	sender     services.MessageSender
	progress   services.ProgressPublisher
	batchSize  int
	guard      time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewBroadcastDispatcher creates the dispatch engine
func NewBroadcastDispatcher(
	jobs repository.BroadcastJobRepository,
	recipients repository.BroadcastRecipientRepository,
	tx repository.Transactor,
	sender services.MessageSender,
	progress services.ProgressPublisher,
	cfg config.DispatchConfig,
	logger zerolog.Logger,
) *BroadcastDispatcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = utils.DefaultBatchSize
	}
	guard := cfg.GuardWindow
	if guard <= 0 {
		guard = utils.DefaultGuardWindow
	}
	return &BroadcastDispatcher{
		jobs:       jobs,
		recipients: recipients,
		tx:         tx,
		sender:     sender,
		progress:   progress,
		batchSize:  batchSize,
		guard:      guard,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
		now:        utils.UTCNow,
	}
}

// Trigger picks the oldest actionable job, or the target when given, and runs one batch of it
func (d *BroadcastDispatcher) Trigger(ctx context.Context, target *uuid.UUID) (*TriggerResult, error) {
	if !d.sender.Configured() {
		dispatchTriggersTotal.WithLabelValues("not_configured").Inc()
		d.logger.Error().Msg("dispatch trigger refused: bot token is not configured")
		return nil, ErrNotConfigured
	}

	job, err := d.pick(ctx, target)
	if err != nil {
		dispatchTriggersTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if job == nil {
		dispatchTriggersTotal.WithLabelValues(OutcomeNoJobs).Inc()
		d.logger.Debug().Msg("dispatch trigger: no jobs")
		return &TriggerResult{Success: true, Message: OutcomeNoJobs}, nil
	}

	if outcome := d.blockedOutcome(job); outcome != "" {
		return d.skipped(job, outcome), nil
	}

	claimedAt := d.now()
	claimed, err := d.jobs.Claim(ctx, job.ID, claimedAt, d.guard)
	if err != nil {
		dispatchTriggersTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to claim job %s: %w", job.UUID, err)
	}
	if !claimed {
		current, err := d.jobs.ByID(ctx, job.ID)
		if err != nil {
			dispatchTriggersTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to reload job %s: %w", job.UUID, err)
		}
		if current == nil {
			if target != nil {
				return nil, ErrJobNotFound
			}
			return d.skipped(job, OutcomeNoJobs), nil
		}
		outcome := d.blockedOutcome(current)
		if outcome == "" {
			outcome = OutcomeAlreadyProcessing
		}
		return d.skipped(current, outcome), nil
	}
	defer func() {
		released, err := d.jobs.ReleaseClaim(context.WithoutCancel(ctx), job.ID, claimedAt)
		if err != nil {
			d.logger.Error().Err(err).Str("job_id", job.UUID.String()).Msg("failed to release claim")
			return
		}
		if !released {
			d.logger.Debug().Str("job_id", job.UUID.String()).Msg("claim already cleared or taken over")
		}
	}()

	claimedJob, err := d.jobs.ByID(ctx, job.ID)
	if err != nil {
		dispatchTriggersTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load claimed job %s: %w", job.UUID, err)
	}
	if claimedJob == nil {
		return d.skipped(job, OutcomeNoJobs), nil
	}

	start := time.Now()
	res := d.processBatch(ctx, claimedJob)
	dispatchBatchDuration.Observe(time.Since(start).Seconds())

	outcome := OutcomeProcessed
	if !res.Success {
		outcome = "failed"
	}
	dispatchTriggersTotal.WithLabelValues(outcome).Inc()
	d.logger.Info().
		Str("job_id", res.JobID.String()).
		Str("status", res.Status.String()).
		Int("processed", res.Processed).
		Int("success_count", res.SuccessCount).
		Int("errors", res.ErrorCount).
		Int("remaining", res.Remaining).
		Bool("success", res.Success).
		Msg("dispatch trigger processed a batch")
	return res, nil
}

func (d *BroadcastDispatcher) pick(ctx context.Context, target *uuid.UUID) (*models.BroadcastJob, error) {
	if target == nil {
		job, err := d.jobs.NextActionable(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to pick next job: %w", err)
		}
		return job, nil
	}
	job, err := d.jobs.ByUUID(ctx, *target)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", *target, err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// blockedOutcome returns the reason a job cannot be driven now, or "" when it can
func (d *BroadcastDispatcher) blockedOutcome(job *models.BroadcastJob) string {
	switch job.Status {
	case models.BroadcastJobStatusDone, models.BroadcastJobStatusFailed:
		return OutcomeJobAlreadyCompleted
	case models.BroadcastJobStatusCancelled, models.BroadcastJobStatusPaused:
		return OutcomeJobNotProcessable
	case models.BroadcastJobStatusRunning:
		if job.ClaimedAt != nil && job.ClaimedAt.After(d.now().Add(-d.guard)) {
			return OutcomeAlreadyProcessing
		}
	}
	return ""
}

func (d *BroadcastDispatcher) skipped(job *models.BroadcastJob, outcome string) *TriggerResult {
	dispatchTriggersTotal.WithLabelValues(outcome).Inc()
	d.logger.Info().Str("job_id", job.UUID.String()).Str("status", job.Status.String()).Str("outcome", outcome).Msg("dispatch trigger skipped job")
	return &TriggerResult{
		Success:   true,
		Message:   outcome,
		JobID:     job.UUID,
		Status:    job.Status,
		Remaining: job.Pending(),
	}
}

// processBatch drives up to batchSize pending recipients of a claimed job
func (d *BroadcastDispatcher) processBatch(ctx context.Context, job *models.BroadcastJob) *TriggerResult {
	res := &TriggerResult{Success: true, Message: OutcomeProcessed, JobID: job.UUID, Status: job.Status}
	log := d.logger.With().Str("job_id", job.UUID.String()).Logger()

	msg, dropped := d.sender.Compose(job.Message, job.Delivery)
	if len(dropped) > 0 {
		d.recordDroppedButtons(ctx, job, dropped, log)
	}

	pending, err := d.recipients.ListPending(ctx, job.ID, d.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list pending recipients")
		res.Success = false
		res.Error = err.Error()
		res.Remaining = job.Pending()
		return res
	}

	for _, r := range pending {
		if ctx.Err() != nil {
			log.Info().Msg("dispatch batch interrupted by shutdown")
			break
		}

		send := d.sender.Send(ctx, msg, r.ExternalRecipientID)
		if send.Systemic {
			reason := send.Error
			if reason == "" {
				reason = "provider rejected the bot token"
			}
			log.Error().Str("reason", reason).Int("status_code", send.StatusCode).Msg("systemic provider failure, failing job")
			if _, err := d.jobs.MarkFailed(ctx, job.ID, reason, d.now()); err != nil {
				log.Error().Err(err).Msg("failed to mark job failed")
			} else {
				dispatchJobsFinishedTotal.WithLabelValues(models.BroadcastJobStatusFailed.String()).Inc()
			}
			d.publishCurrent(ctx, job.ID)
			res.Success = false
			res.Error = reason
			res.Status = models.BroadcastJobStatusFailed
			res.Remaining = d.remaining(ctx, job)
			return res
		}
		if !send.OK && ctx.Err() != nil {
			break
		}

		moved, err := d.record(ctx, job.ID, r, send)
		if err != nil {
			dispatchRecipientsTotal.WithLabelValues("persist_error").Inc()
			log.Error().Err(err).Uint("recipient_id", r.ID).Msg("failed to record delivery outcome, recipient stays pending")
			continue
		}
		if !moved {
			continue
		}

		res.Processed++
		if send.OK {
			res.SuccessCount++
			job.Sent++
			dispatchRecipientsTotal.WithLabelValues("sent").Inc()
		} else {
			res.ErrorCount++
			job.Failed++
			dispatchRecipientsTotal.WithLabelValues("failed").Inc()
			log.Warn().Uint("recipient_id", r.ID).Str("chat_id", r.ExternalRecipientID).Str("error", send.Error).Msg("recipient delivery failed")
		}
		d.publishProgress(ctx, job, log)
	}

	counts, err := d.recipients.CountByStatus(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to count recipients after batch")
		res.Remaining = job.Pending()
		return res
	}
	res.Remaining = counts.Pending
	res.Status = job.Status
	if counts.Pending == 0 {
		res.Status = d.finalize(ctx, job, counts, log)
	}
	return res
}

// record moves one recipient out of pending together with the job counter delta
func (d *BroadcastDispatcher) record(ctx context.Context, jobID uint, r *models.BroadcastRecipient, send services.SendResult) (bool, error) {
	var moved bool
	err := d.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		now := d.now()
		if send.OK {
			moved, err = d.recipients.MarkSent(txCtx, r.ID, send.MessageID, now)
		} else {
			moved, err = d.recipients.MarkFailed(txCtx, r.ID, send.Error, now)
		}
		if err != nil || !moved {
			return err
		}
		if send.OK {
			return d.jobs.ApplyDelta(txCtx, jobID, 1, 0)
		}
		return d.jobs.ApplyDelta(txCtx, jobID, 0, 1)
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// finalize reconciles the counters and completes the job when it is still running
func (d *BroadcastDispatcher) finalize(ctx context.Context, job *models.BroadcastJob, counts models.RecipientCounts, log zerolog.Logger) models.BroadcastJobStatus {
	done, err := d.jobs.Finalize(ctx, job.ID, counts, d.now())
	if err != nil {
		log.Error().Err(err).Msg("failed to finalize job")
		return job.Status
	}
	if done {
		dispatchJobsFinishedTotal.WithLabelValues(models.BroadcastJobStatusDone.String()).Inc()
		log.Info().Int("sent", counts.Sent).Int("failed", counts.Failed).Msg("broadcast job completed")
	}
	current := d.publishCurrent(ctx, job.ID)
	if current == nil {
		return job.Status
	}
	return current.Status
}

func (d *BroadcastDispatcher) remaining(ctx context.Context, job *models.BroadcastJob) int {
	counts, err := d.recipients.CountByStatus(ctx, job.ID)
	if err != nil {
		return job.Pending()
	}
	return counts.Pending
}

// publishCurrent reloads the job and publishes its snapshot
func (d *BroadcastDispatcher) publishCurrent(ctx context.Context, jobID uint) *models.BroadcastJob {
	current, err := d.jobs.ByID(ctx, jobID)
	if err != nil || current == nil {
		return nil
	}
	d.progress.Publish(ctx, services.SnapshotFromJob(current))
	return current
}

// publishProgress reports the stored job so admin status changes made during
// the batch reach observers. The in-memory counters are the fallback.
func (d *BroadcastDispatcher) publishProgress(ctx context.Context, job *models.BroadcastJob, log zerolog.Logger) {
	current, err := d.jobs.ByID(ctx, job.ID)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("failed to reload job for progress, publishing local counters")
		job.UpdatedAt = d.now()
		d.progress.Publish(ctx, services.SnapshotFromJob(job))
	case current == nil:
		// deleted mid-batch; the delete already published the final frame
	default:
		job.Status = current.Status
		d.progress.Publish(ctx, services.SnapshotFromJob(current))
	}
}

func (d *BroadcastDispatcher) recordDroppedButtons(ctx context.Context, job *models.BroadcastJob, dropped []services.DroppedButton, log zerolog.Logger) {
	warning := DroppedButtonsWarning(dropped)
	log.Warn().Int("dropped", len(dropped)).Str("warning", warning).Msg("invalid buttons dropped from keyboard")
	if job.DeliveryWarning != nil && *job.DeliveryWarning == warning {
		return
	}
	if err := d.jobs.SetDeliveryWarning(ctx, job.ID, warning); err != nil {
		log.Error().Err(err).Msg("failed to store delivery warning")
		return
	}
	job.DeliveryWarning = &warning
}

// DroppedButtonsWarning renders dropped buttons as the job's delivery warning
func DroppedButtonsWarning(dropped []services.DroppedButton) string {
	parts := make([]string, 0, len(dropped))
	for _, b := range dropped {
		parts = append(parts, fmt.Sprintf("%q (%s): %s", b.Text, b.URL, b.Reason))
	}
	return "dropped invalid buttons: " + strings.Join(parts, "; ")
}
