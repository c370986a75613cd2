package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/app/services"
	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/repository"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/rs/zerolog"
)

// Bulk maintenance actions
const (
	MaintenanceCancelOld        = "cancel_old"
	MaintenanceCleanupCompleted = "cleanup_completed"
	MaintenancePauseAllRunning  = "pause_all_running"
)

// BroadcastMaintenanceFlow runs bulk operations over many jobs
type BroadcastMaintenanceFlow interface {
	Run(ctx context.Context, req *dto.BroadcastMaintenanceRequest) (*dto.BroadcastMaintenanceResponse, error)
	CancelOld(ctx context.Context, days int) (*dto.BroadcastMaintenanceResponse, error)
	CleanupCompleted(ctx context.Context, days int) (*dto.BroadcastMaintenanceResponse, error)
	PauseAllRunning(ctx context.Context) (*dto.BroadcastMaintenanceResponse, error)
}

// BroadcastMaintenanceFlowImpl implements BroadcastMaintenanceFlow
type BroadcastMaintenanceFlowImpl struct {
	jobRepo  repository.BroadcastJobRepository
	progress services.ProgressPublisher
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBroadcastMaintenanceFlow creates a new maintenance flow
func NewBroadcastMaintenanceFlow(jobRepo repository.BroadcastJobRepository, progress services.ProgressPublisher, logger zerolog.Logger) BroadcastMaintenanceFlow {
	return &BroadcastMaintenanceFlowImpl{
		jobRepo:  jobRepo,
		progress: progress,
		logger:   logger.With().Str("component", "maintenance_flow").Logger(),
		now:      utils.UTCNow,
	}
}

// Run dispatches one maintenance request to its operation
func (f *BroadcastMaintenanceFlowImpl) Run(ctx context.Context, req *dto.BroadcastMaintenanceRequest) (*dto.BroadcastMaintenanceResponse, error) {
	days := 0
	if req.Days != nil {
		if *req.Days < 1 {
			return nil, NewBusinessError("INVALID_MAINTENANCE_DAYS", "Days must be at least 1", ErrInvalidMaintenanceDays)
		}
		days = *req.Days
	}

	switch req.Action {
	case MaintenanceCancelOld:
		return f.CancelOld(ctx, days)
	case MaintenanceCleanupCompleted:
		return f.CleanupCompleted(ctx, days)
	case MaintenancePauseAllRunning:
		return f.PauseAllRunning(ctx)
	default:
		return nil, NewBusinessErrorf("INVALID_MAINTENANCE_ACTION", "Unknown maintenance action %q", ErrInvalidMaintenanceAction, req.Action)
	}
}

// CancelOld cancels queued and running jobs created more than days ago
func (f *BroadcastMaintenanceFlowImpl) CancelOld(ctx context.Context, days int) (*dto.BroadcastMaintenanceResponse, error) {
	if days <= 0 {
		days = utils.DefaultCancelStaleDays
	}
	now := f.now()
	cutoff := utils.DaysAgo(now, days)
	from := models.ActionableJobStatuses

	ids, err := f.jobRepo.ListIDs(ctx, from, &cutoff)
	if err != nil {
		return nil, NewBusinessError("MAINTENANCE_LIST_FAILED", "Failed to list jobs for cancellation", err)
	}
	res := f.eachJob(ctx, MaintenanceCancelOld, ids, func(ctx context.Context, id uint) (bool, error) {
		return f.jobRepo.TransitionStatus(ctx, id, from, models.BroadcastJobStatusCancelled, now)
	})
	res.Message = fmt.Sprintf("cancelled %d jobs older than %d days", res.Affected, days)
	return res, nil
}

// CleanupCompleted deletes terminal jobs created more than days ago, with their recipients
func (f *BroadcastMaintenanceFlowImpl) CleanupCompleted(ctx context.Context, days int) (*dto.BroadcastMaintenanceResponse, error) {
	if days <= 0 {
		days = utils.DefaultCleanupDays
	}
	cutoff := utils.DaysAgo(f.now(), days)

	ids, err := f.jobRepo.ListIDs(ctx, models.TerminalJobStatuses, &cutoff)
	if err != nil {
		return nil, NewBusinessError("MAINTENANCE_LIST_FAILED", "Failed to list jobs for cleanup", err)
	}
	res := f.eachJob(ctx, MaintenanceCleanupCompleted, ids, func(ctx context.Context, id uint) (bool, error) {
		job, err := f.jobRepo.ByID(ctx, id)
		if err != nil || job == nil {
			return false, err
		}
		deleted, err := f.jobRepo.DeleteWithRecipients(ctx, id)
		if err != nil || !deleted {
			return false, err
		}
		snap := services.SnapshotFromJob(job)
		snap.Deleted = true
		snap.UpdatedAt = f.now()
		f.progress.Publish(ctx, snap)
		return true, nil
	})
	res.Message = fmt.Sprintf("deleted %d completed jobs older than %d days", res.Affected, days)
	return res, nil
}

// PauseAllRunning pauses every running job
func (f *BroadcastMaintenanceFlowImpl) PauseAllRunning(ctx context.Context) (*dto.BroadcastMaintenanceResponse, error) {
	now := f.now()
	running := []models.BroadcastJobStatus{models.BroadcastJobStatusRunning}

	ids, err := f.jobRepo.ListIDs(ctx, running, nil)
	if err != nil {
		return nil, NewBusinessError("MAINTENANCE_LIST_FAILED", "Failed to list running jobs", err)
	}
	res := f.eachJob(ctx, MaintenancePauseAllRunning, ids, func(ctx context.Context, id uint) (bool, error) {
		return f.jobRepo.TransitionStatus(ctx, id, running, models.BroadcastJobStatusPaused, now)
	})
	res.Message = fmt.Sprintf("paused %d running jobs", res.Affected)
	return res, nil
}

// eachJob applies op row by row. A failing row is logged and counted without
// stopping the rest. Rows op reports as unchanged are neither affected nor failed.
func (f *BroadcastMaintenanceFlowImpl) eachJob(ctx context.Context, action string, ids []uint, op func(ctx context.Context, id uint) (bool, error)) *dto.BroadcastMaintenanceResponse {
	res := &dto.BroadcastMaintenanceResponse{Action: action}
	log := f.logger.With().Str("action", action).Logger()

	for i, id := range ids {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int("remaining", len(ids)-i).Msg("maintenance interrupted")
			break
		}
		changed, err := op(ctx, id)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Uint("job_db_id", id).Msg("maintenance failed for job")
			continue
		}
		if !changed {
			continue
		}
		res.Affected++
		if action == MaintenanceCleanupCompleted {
			continue
		}
		if job, err := f.jobRepo.ByID(ctx, id); err == nil && job != nil {
			f.progress.Publish(ctx, services.SnapshotFromJob(job))
		}
	}

	log.Info().Int("candidates", len(ids)).Int("affected", res.Affected).Int("failed", res.Failed).Msg("maintenance finished")
	return res
}
