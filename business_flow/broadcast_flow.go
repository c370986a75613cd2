package businessflow

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/app/scheduler"
	"github.com/amirphl/astro-dispatch/app/services"
	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/repository"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/rs/zerolog"
)

// Broadcast management actions
const (
	ActionCancel = "cancel"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionDelete = "delete"
)

// DeletedStatus is reported as the new status of a deleted job
const DeletedStatus = "deleted"

// MessageComposer renders the outbound message of a job
type MessageComposer interface {
	Compose(text string, delivery models.DeliveryConfig) (*services.OutboundMessage, []services.DroppedButton)
}

// DispatchKicker wakes the dispatch worker pool
type DispatchKicker interface {
	Kick()
}

// BroadcastFlow handles creation and lifecycle management of broadcast jobs
type BroadcastFlow interface {
	CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.CreateBroadcastResponse, error)
	GetBroadcast(ctx context.Context, jobID string) (*dto.BroadcastJobResponse, error)
	ManageBroadcast(ctx context.Context, req *dto.BroadcastActionRequest) (*dto.BroadcastActionResponse, error)
	PreviewAudience(ctx context.Context, req *dto.BroadcastAudienceRequest) (*dto.AudiencePreviewResponse, error)
	CurrentProgress(ctx context.Context, jobID string) (*services.ProgressSnapshot, error)
}

// BroadcastFlowImpl implements BroadcastFlow
type BroadcastFlowImpl struct {
	jobRepo        repository.BroadcastJobRepository
	subscriberRepo repository.SubscriberRepository
	tx             repository.Transactor
	composer       MessageComposer
	progress       services.ProgressPublisher
	kicker         DispatchKicker
	kickOnCreate   bool
	logger         zerolog.Logger
}

// NewBroadcastFlow creates a new broadcast flow. kicker may be nil when no worker pool runs.
func NewBroadcastFlow(
	jobRepo repository.BroadcastJobRepository,
	subscriberRepo repository.SubscriberRepository,
	tx repository.Transactor,
	composer MessageComposer,
	progress services.ProgressPublisher,
	kicker DispatchKicker,
	kickOnCreate bool,
	logger zerolog.Logger,
) BroadcastFlow {
	return &BroadcastFlowImpl{
		jobRepo:        jobRepo,
		subscriberRepo: subscriberRepo,
		tx:             tx,
		composer:       composer,
		progress:       progress,
		kicker:         kicker,
		kickOnCreate:   kickOnCreate,
		logger:         logger.With().Str("component", "broadcast_flow").Logger(),
	}
}

// CreateBroadcast resolves the audience and stores the job with its recipient snapshot
func (f *BroadcastFlowImpl) CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.CreateBroadcastResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, NewBusinessError("BROADCAST_MESSAGE_REQUIRED", "Broadcast message is required", ErrBroadcastMessageRequired)
	}

	delivery := models.DeliveryConfig{
		ButtonText:         strings.TrimSpace(req.ButtonText),
		ButtonURL:          strings.TrimSpace(req.ButtonURL),
		ParseMode:          strings.TrimSpace(req.ParseMode),
		ImageURL:           strings.TrimSpace(req.ImageURL),
		DisableLinkPreview: req.DisableLinkPreview,
	}
	for _, b := range req.CustomButtons {
		delivery.CustomButtons = append(delivery.CustomButtons, models.BroadcastButton{Text: b.Text, URL: b.URL})
	}

	limit := utils.TelegramMessageMaxLength
	if delivery.HasImage() {
		limit = utils.TelegramCaptionMaxLength
	}
	if utf8.RuneCountInString(message) > limit {
		return nil, NewBusinessErrorf("BROADCAST_MESSAGE_TOO_LONG", "Broadcast message exceeds %d characters", ErrBroadcastMessageTooLong, limit)
	}

	audience := audienceFromRequest(req.Audience)
	subscribers, err := f.subscriberRepo.ByFilter(ctx, models.SubscriberFilterFromAudience(audience), "id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("AUDIENCE_RESOLVE_FAILED", "Failed to resolve broadcast audience", err)
	}
	if len(subscribers) == 0 {
		return nil, NewBusinessError("BROADCAST_AUDIENCE_EMPTY", "Audience resolved to no recipients", ErrBroadcastAudienceEmpty)
	}

	job := &models.BroadcastJob{
		Title:     req.Title,
		Message:   message,
		Delivery:  delivery,
		Audience:  audience,
		Status:    models.BroadcastJobStatusQueued,
		CreatedBy: nilIfEmpty(req.CreatedBy),
	}
	seen := make(map[string]struct{}, len(subscribers))
	for _, s := range subscribers {
		if _, dup := seen[s.ChatID]; dup {
			continue
		}
		seen[s.ChatID] = struct{}{}
		id := s.ID
		job.Recipients = append(job.Recipients, models.BroadcastRecipient{
			SubscriberID:        &id,
			ExternalRecipientID: s.ChatID,
			DisplayName:         s.DisplayName(),
			Status:              models.RecipientStatusPending,
		})
	}
	job.Total = len(job.Recipients)

	_, dropped := f.composer.Compose(message, delivery)
	if len(dropped) > 0 {
		warning := scheduler.DroppedButtonsWarning(dropped)
		job.DeliveryWarning = &warning
		f.logger.Warn().Int("dropped", len(dropped)).Str("warning", warning).Msg("invalid buttons dropped from new broadcast")
	}

	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return f.jobRepo.Save(txCtx, job)
	})
	if err != nil {
		return nil, NewBusinessError("BROADCAST_CREATE_FAILED", "Failed to create broadcast job", err)
	}

	f.logger.Info().
		Str("job_id", job.UUID.String()).
		Int("total", job.Total).
		Str("created_by", utils.Deref(job.CreatedBy)).
		Msg("broadcast job created")

	f.progress.Publish(ctx, services.SnapshotFromJob(job))
	if f.kickOnCreate && f.kicker != nil {
		f.kicker.Kick()
	}

	resp := &dto.CreateBroadcastResponse{
		JobID:          job.UUID.String(),
		Total:          job.Total,
		Status:         job.Status.String(),
		DroppedButtons: make([]dto.DroppedButtonResponse, 0, len(dropped)),
	}
	for _, b := range dropped {
		resp.DroppedButtons = append(resp.DroppedButtons, dto.DroppedButtonResponse{Text: b.Text, URL: b.URL, Reason: b.Reason})
	}
	return resp, nil
}

// GetBroadcast returns one job with its counters
func (f *BroadcastFlowImpl) GetBroadcast(ctx context.Context, jobID string) (*dto.BroadcastJobResponse, error) {
	job, err := findJob(ctx, f.jobRepo, jobID)
	if err != nil {
		return nil, err
	}
	resp := jobToResponse(job)
	return &resp, nil
}

type actionRule struct {
	from []models.BroadcastJobStatus
	to   models.BroadcastJobStatus
}

var actionRules = map[string]actionRule{
	ActionCancel: {
		from: []models.BroadcastJobStatus{models.BroadcastJobStatusQueued, models.BroadcastJobStatusRunning, models.BroadcastJobStatusPaused},
		to:   models.BroadcastJobStatusCancelled,
	},
	ActionPause: {
		from: []models.BroadcastJobStatus{models.BroadcastJobStatusRunning},
		to:   models.BroadcastJobStatusPaused,
	},
	ActionResume: {
		from: []models.BroadcastJobStatus{models.BroadcastJobStatusPaused},
		to:   models.BroadcastJobStatusRunning,
	},
}

// ManageBroadcast applies cancel, pause, resume or delete to one job
func (f *BroadcastFlowImpl) ManageBroadcast(ctx context.Context, req *dto.BroadcastActionRequest) (*dto.BroadcastActionResponse, error) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if _, ok := actionRules[action]; !ok && action != ActionDelete {
		return nil, NewBusinessErrorf("INVALID_BROADCAST_ACTION", "Unknown broadcast action %q", ErrBroadcastInvalidAction, req.Action)
	}

	job, err := findJob(ctx, f.jobRepo, req.JobID)
	if err != nil {
		return nil, err
	}
	log := f.logger.With().Str("job_id", job.UUID.String()).Str("action", action).Logger()

	if action == ActionDelete {
		deleted, err := f.jobRepo.DeleteWithRecipients(ctx, job.ID)
		if err != nil {
			return nil, NewBusinessError("BROADCAST_DELETE_FAILED", "Failed to delete broadcast job", err)
		}
		if !deleted {
			return nil, NewBusinessError("BROADCAST_NOT_FOUND", "Broadcast job not found", ErrBroadcastNotFound)
		}
		snap := services.SnapshotFromJob(job)
		snap.Deleted = true
		snap.UpdatedAt = utils.UTCNow()
		f.progress.Publish(ctx, snap)
		log.Info().Msg("broadcast job deleted")
		return &dto.BroadcastActionResponse{JobID: job.UUID.String(), NewStatus: DeletedStatus}, nil
	}

	rule := actionRules[action]
	moved, err := f.jobRepo.TransitionStatus(ctx, job.ID, rule.from, rule.to, utils.UTCNow())
	if err != nil {
		return nil, NewBusinessError("BROADCAST_ACTION_FAILED", "Failed to update broadcast job", err)
	}
	if !moved {
		current, err := f.jobRepo.ByID(ctx, job.ID)
		if err != nil {
			return nil, NewBusinessError("BROADCAST_ACTION_FAILED", "Failed to update broadcast job", err)
		}
		if current == nil {
			return nil, NewBusinessError("BROADCAST_NOT_FOUND", "Broadcast job not found", ErrBroadcastNotFound)
		}
		return nil, NewBusinessErrorf("INVALID_STATUS_TRANSITION", "Cannot %s a %s job", ErrBroadcastInvalidTransition, action, current.Status)
	}

	current, err := f.jobRepo.ByID(ctx, job.ID)
	if err == nil && current != nil {
		f.progress.Publish(ctx, services.SnapshotFromJob(current))
	}
	log.Info().Str("new_status", rule.to.String()).Msg("broadcast job status changed")

	if action == ActionResume && f.kicker != nil {
		f.kicker.Kick()
	}
	return &dto.BroadcastActionResponse{JobID: job.UUID.String(), NewStatus: rule.to.String()}, nil
}

// PreviewAudience counts the subscribers a filter resolves to
func (f *BroadcastFlowImpl) PreviewAudience(ctx context.Context, req *dto.BroadcastAudienceRequest) (*dto.AudiencePreviewResponse, error) {
	filter := models.SubscriberFilterFromAudience(audienceFromRequest(*req))
	count, err := f.subscriberRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("AUDIENCE_RESOLVE_FAILED", "Failed to resolve broadcast audience", err)
	}
	return &dto.AudiencePreviewResponse{Count: count}, nil
}

// CurrentProgress returns the snapshot a new progress observer starts from
func (f *BroadcastFlowImpl) CurrentProgress(ctx context.Context, jobID string) (*services.ProgressSnapshot, error) {
	job, err := findJob(ctx, f.jobRepo, jobID)
	if err != nil {
		return nil, err
	}
	snap := services.SnapshotFromJob(job)
	return &snap, nil
}

func nilIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
