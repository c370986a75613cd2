package handlers

import (
	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/app/middleware"
	businessflow "github.com/amirphl/astro-dispatch/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// BroadcastAdminHandlerInterface defines the contract for broadcast admin handlers
type BroadcastAdminHandlerInterface interface {
	CreateBroadcast(c fiber.Ctx) error
	ListBroadcasts(c fiber.Ctx) error
	GetBroadcast(c fiber.Ctx) error
	ManageBroadcast(c fiber.Ctx) error
	RunMaintenance(c fiber.Ctx) error
	ListErrors(c fiber.Ctx) error
	ExportErrors(c fiber.Ctx) error
	PreviewAudience(c fiber.Ctx) error
}

// BroadcastAdminHandler handles broadcast management HTTP requests
type BroadcastAdminHandler struct {
	responder
	broadcastFlow   businessflow.BroadcastFlow
	historyFlow     businessflow.BroadcastHistoryFlow
	maintenanceFlow businessflow.BroadcastMaintenanceFlow
}

func NewBroadcastAdminHandler(
	broadcastFlow businessflow.BroadcastFlow,
	historyFlow businessflow.BroadcastHistoryFlow,
	maintenanceFlow businessflow.BroadcastMaintenanceFlow,
	logger zerolog.Logger,
) BroadcastAdminHandlerInterface {
	return &BroadcastAdminHandler{
		responder:       newResponder(logger),
		broadcastFlow:   broadcastFlow,
		historyFlow:     historyFlow,
		maintenanceFlow: maintenanceFlow,
	}
}

// CreateBroadcast creates a broadcast job
// @Summary Create Broadcast
// @Description Resolve the audience, snapshot the recipients and queue the job
// @Tags Admin Broadcasts
// @Accept json
// @Produce json
// @Param request body dto.CreateBroadcastRequest true "Broadcast payload"
// @Success 201 {object} dto.APIResponse{data=dto.CreateBroadcastResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/broadcasts [post]
func (h *BroadcastAdminHandler) CreateBroadcast(c fiber.Ctx) error {
	var req dto.CreateBroadcastRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	if subject, ok := middleware.GetAdminSubjectFromContext(c); ok {
		req.CreatedBy = subject
	}

	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.broadcastFlow.CreateBroadcast(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to create broadcast", "BROADCAST_CREATE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Broadcast created successfully", res)
}

// ListBroadcasts returns the broadcast history
// @Summary List Broadcasts
// @Tags Admin Broadcasts
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Param status query string false "Filter by status (queued|running|paused|cancelled|done|failed)"
// @Success 200 {object} dto.APIResponse{data=dto.ListBroadcastsResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/broadcasts [get]
func (h *BroadcastAdminHandler) ListBroadcasts(c fiber.Ctx) error {
	var req dto.ListBroadcastsRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.historyFlow.ListBroadcasts(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to list broadcasts", "BROADCAST_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcasts retrieved successfully", res)
}

// GetBroadcast returns one broadcast job
// @Summary Get Broadcast
// @Tags Admin Broadcasts
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastJobResponse}
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/admin/broadcasts/{id} [get]
func (h *BroadcastAdminHandler) GetBroadcast(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.broadcastFlow.GetBroadcast(ctx, c.Params("id"))
	if err != nil {
		return h.flowError(c, err, "Failed to get broadcast", "BROADCAST_FETCH_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast retrieved successfully", res)
}

// ManageBroadcast cancels, pauses, resumes or deletes a job
// @Summary Manage Broadcast
// @Tags Admin Broadcasts
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param request body dto.BroadcastActionRequest true "Action payload"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastActionResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Failure 409 {object} dto.APIResponse "Action not allowed in the current status"
// @Router /api/v1/admin/broadcasts/{id}/actions [post]
func (h *BroadcastAdminHandler) ManageBroadcast(c fiber.Ctx) error {
	var req dto.BroadcastActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.JobID = c.Params("id")

	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.broadcastFlow.ManageBroadcast(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to update broadcast", "BROADCAST_ACTION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast updated successfully", res)
}

// RunMaintenance runs one bulk maintenance operation
// @Summary Broadcast Maintenance
// @Description cancel_old (default 7 days), cleanup_completed (default 30 days) or pause_all_running
// @Tags Admin Broadcasts
// @Accept json
// @Produce json
// @Param request body dto.BroadcastMaintenanceRequest true "Maintenance payload"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastMaintenanceResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/admin/broadcasts/maintenance [post]
func (h *BroadcastAdminHandler) RunMaintenance(c fiber.Ctx) error {
	var req dto.BroadcastMaintenanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.maintenanceFlow.Run(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to run maintenance", "MAINTENANCE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// ListErrors returns the failed recipients of a job
// @Summary List Broadcast Errors
// @Tags Admin Broadcasts
// @Produce json
// @Param id path string true "Job ID"
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Success 200 {object} dto.APIResponse{data=dto.ListBroadcastErrorsResponse}
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/admin/broadcasts/{id}/errors [get]
func (h *BroadcastAdminHandler) ListErrors(c fiber.Ctx) error {
	var req dto.ListBroadcastErrorsRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	req.JobID = c.Params("id")

	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.historyFlow.ListErrors(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to list broadcast errors", "BROADCAST_ERRORS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast errors retrieved successfully", res)
}

// ExportErrors downloads the failed recipients of a job as xlsx
// @Summary Export Broadcast Errors
// @Tags Admin Broadcasts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Job ID"
// @Success 200 {file} file
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/admin/broadcasts/{id}/errors/export [get]
func (h *BroadcastAdminHandler) ExportErrors(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	filename, data, err := h.historyFlow.ExportErrors(ctx, c.Params("id"))
	if err != nil {
		return h.flowError(c, err, "Failed to export broadcast errors", "EXPORT_FAILED")
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// PreviewAudience counts the subscribers an audience filter selects
// @Summary Preview Broadcast Audience
// @Tags Admin Broadcasts
// @Accept json
// @Produce json
// @Param request body dto.BroadcastAudienceRequest true "Audience filter"
// @Success 200 {object} dto.APIResponse{data=dto.AudiencePreviewResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/admin/broadcasts/audience/preview [post]
func (h *BroadcastAdminHandler) PreviewAudience(c fiber.Ctx) error {
	var req dto.BroadcastAudienceRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.broadcastFlow.PreviewAudience(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to preview audience", "AUDIENCE_PREVIEW_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Audience resolved successfully", res)
}
