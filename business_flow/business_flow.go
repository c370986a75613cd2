package businessflow

import (
	"context"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/repository"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/google/uuid"
)

const RequestIDKey = "X-Request-ID"

// normalizePage applies the paging defaults; zero values mean "use default"
func normalizePage(page, pageSize int) (int, int, error) {
	if page < 0 {
		return 0, 0, NewBusinessError("INVALID_PAGE", "Page must be at least 1", ErrInvalidPage)
	}
	if pageSize < 0 || pageSize > utils.MaxPageSize {
		return 0, 0, NewBusinessError("INVALID_PAGE_SIZE", "Page size must be between 1 and 100", ErrInvalidPageSize)
	}
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = utils.DefaultPageSize
	}
	return page, pageSize, nil
}

// parseJobID turns a public job id into a uuid; malformed ids are reported as unknown jobs
func parseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewBusinessError("BROADCAST_NOT_FOUND", "Broadcast job not found", ErrBroadcastNotFound)
	}
	return id, nil
}

func findJob(ctx context.Context, repo repository.BroadcastJobRepository, jobID string) (*models.BroadcastJob, error) {
	id, err := parseJobID(jobID)
	if err != nil {
		return nil, err
	}
	job, err := repo.ByUUID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_FETCH_FAILED", "Failed to fetch broadcast job", err)
	}
	if job == nil {
		return nil, NewBusinessError("BROADCAST_NOT_FOUND", "Broadcast job not found", ErrBroadcastNotFound)
	}
	return job, nil
}

func audienceFromRequest(req dto.BroadcastAudienceRequest) models.AudienceFilter {
	return models.AudienceFilter{
		ZodiacSigns:     req.ZodiacSigns,
		PlanCodes:       req.PlanCodes,
		LanguageCodes:   req.LanguageCodes,
		Tags:            req.Tags,
		ChatIDs:         req.ChatIDs,
		IncludeInactive: req.IncludeInactive,
	}
}

func audienceToResponse(a models.AudienceFilter) dto.BroadcastAudienceRequest {
	return dto.BroadcastAudienceRequest{
		ZodiacSigns:     a.ZodiacSigns,
		PlanCodes:       a.PlanCodes,
		LanguageCodes:   a.LanguageCodes,
		Tags:            a.Tags,
		ChatIDs:         a.ChatIDs,
		IncludeInactive: a.IncludeInactive,
	}
}

func jobToResponse(job *models.BroadcastJob) dto.BroadcastJobResponse {
	resp := dto.BroadcastJobResponse{
		JobID:              job.UUID.String(),
		Title:              job.Title,
		Message:            job.Message,
		Status:             job.Status.String(),
		Total:              job.Total,
		Sent:               job.Sent,
		Failed:             job.Failed,
		Pending:            job.Pending(),
		ParseMode:          job.Delivery.ParseMode,
		ImageURL:           job.Delivery.ImageURL,
		ButtonText:         job.Delivery.ButtonText,
		ButtonURL:          job.Delivery.ButtonURL,
		DisableLinkPreview: job.Delivery.DisableLinkPreview,
		Audience:           audienceToResponse(job.Audience),
		CreatedBy:          job.CreatedBy,
		DeliveryWarning:    job.DeliveryWarning,
		LastError:          job.LastError,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
		StartedAt:          job.StartedAt,
		FinishedAt:         job.FinishedAt,
	}
	for _, b := range job.Delivery.CustomButtons {
		resp.CustomButtons = append(resp.CustomButtons, dto.BroadcastButtonRequest{Text: b.Text, URL: b.URL})
	}
	return resp
}
