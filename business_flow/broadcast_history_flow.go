package businessflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/repository"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/xuri/excelize/v2"
)

const errorsSheetName = "errors"

// BroadcastHistoryFlow serves the job history and the per-job error reports
type BroadcastHistoryFlow interface {
	ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error)
	ListErrors(ctx context.Context, req *dto.ListBroadcastErrorsRequest) (*dto.ListBroadcastErrorsResponse, error)
	ExportErrors(ctx context.Context, jobID string) (string, []byte, error)
}

// BroadcastHistoryFlowImpl implements BroadcastHistoryFlow
type BroadcastHistoryFlowImpl struct {
	jobRepo       repository.BroadcastJobRepository
	recipientRepo repository.BroadcastRecipientRepository
}

// NewBroadcastHistoryFlow creates a new history flow
func NewBroadcastHistoryFlow(jobRepo repository.BroadcastJobRepository, recipientRepo repository.BroadcastRecipientRepository) BroadcastHistoryFlow {
	return &BroadcastHistoryFlowImpl{jobRepo: jobRepo, recipientRepo: recipientRepo}
}

// ListBroadcasts returns jobs newest first
func (f *BroadcastHistoryFlowImpl) ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error) {
	page, pageSize, err := normalizePage(req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}

	filter := models.BroadcastJobFilter{}
	if req.Status != "" {
		status := models.BroadcastJobStatus(req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("INVALID_STATUS", "Unknown job status %q", ErrInvalidJobStatus, req.Status)
		}
		filter.Status = &status
	}

	total, err := f.jobRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LIST_FAILED", "Failed to count broadcast jobs", err)
	}
	jobs, err := f.jobRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LIST_FAILED", "Failed to list broadcast jobs", err)
	}

	items := make([]dto.BroadcastJobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobToResponse(j))
	}
	return &dto.ListBroadcastsResponse{
		Items:      items,
		Pagination: dto.NewPaginationInfo(total, page, pageSize),
	}, nil
}

// ListErrors returns the failed recipients of one job in send order
func (f *BroadcastHistoryFlowImpl) ListErrors(ctx context.Context, req *dto.ListBroadcastErrorsRequest) (*dto.ListBroadcastErrorsResponse, error) {
	page, pageSize, err := normalizePage(req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	job, err := findJob(ctx, f.jobRepo, req.JobID)
	if err != nil {
		return nil, err
	}

	filter := failedRecipients(job.ID)
	total, err := f.recipientRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_ERRORS_FAILED", "Failed to count failed recipients", err)
	}
	rows, err := f.recipientRepo.ByFilter(ctx, filter, "id ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_ERRORS_FAILED", "Failed to list failed recipients", err)
	}

	items := make([]dto.BroadcastRecipientErrorResponse, 0, len(rows))
	for _, r := range rows {
		items = append(items, dto.BroadcastRecipientErrorResponse{
			RecipientID: r.ID,
			ChatID:      r.ExternalRecipientID,
			DisplayName: r.DisplayName,
			Error:       utils.Deref(r.Error),
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return &dto.ListBroadcastErrorsResponse{
		JobID:      job.UUID.String(),
		Items:      items,
		Pagination: dto.NewPaginationInfo(total, page, pageSize),
	}, nil
}

// ExportErrors renders every failed recipient of a job as an xlsx workbook
func (f *BroadcastHistoryFlowImpl) ExportErrors(ctx context.Context, jobID string) (string, []byte, error) {
	job, err := findJob(ctx, f.jobRepo, jobID)
	if err != nil {
		return "", nil, err
	}
	rows, err := f.recipientRepo.ByFilter(ctx, failedRecipients(job.ID), "id ASC", 0, 0)
	if err != nil {
		return "", nil, NewBusinessError("BROADCAST_ERRORS_FAILED", "Failed to list failed recipients", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()
	if err := xl.SetSheetName(xl.GetSheetName(0), errorsSheetName); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare Excel sheet", err)
	}

	header := []string{"recipient_id", "chat_id", "display_name", "error", "updated_at"}
	_ = xl.SetSheetRow(errorsSheetName, "A1", &header)
	for i, r := range rows {
		record := []string{
			strconv.FormatUint(uint64(r.ID), 10),
			r.ExternalRecipientID,
			utils.Deref(r.DisplayName),
			utils.Deref(r.Error),
			utils.FormatRFC3339Ptr(&r.UpdatedAt),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(errorsSheetName, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	return fmt.Sprintf("broadcast_%s_errors.xlsx", job.UUID), buf.Bytes(), nil
}

func failedRecipients(jobID uint) models.BroadcastRecipientFilter {
	status := models.RecipientStatusFailed
	return models.BroadcastRecipientFilter{JobID: &jobID, Status: &status}
}
