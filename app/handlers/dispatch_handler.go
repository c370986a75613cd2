package handlers

import (
	"github.com/amirphl/astro-dispatch/app/dto"
	businessflow "github.com/amirphl/astro-dispatch/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// DispatchHandlerInterface defines the contract for the dispatch trigger endpoints
type DispatchHandlerInterface interface {
	Trigger(c fiber.Ctx) error
	Kick(c fiber.Ctx) error
}

// DispatchHandler exposes batch processing to admins and external schedulers
type DispatchHandler struct {
	responder
	dispatchFlow businessflow.BroadcastDispatchFlow
}

func NewDispatchHandler(dispatchFlow businessflow.BroadcastDispatchFlow, logger zerolog.Logger) DispatchHandlerInterface {
	return &DispatchHandler{
		responder:    newResponder(logger),
		dispatchFlow: dispatchFlow,
	}
}

// Trigger processes at most one batch of one job
// @Summary Trigger Broadcast Batch
// @Description Claims the oldest actionable job (or the given one) and sends one batch
// @Tags Broadcast Dispatch
// @Accept json
// @Produce json
// @Param request body dto.BroadcastDispatchRequest false "Optional target job"
// @Success 200 {object} dto.BroadcastDispatchResult
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Failure 503 {object} dto.APIResponse "Dispatch not configured"
// @Router /api/v1/broadcasts/dispatch [post]
func (h *DispatchHandler) Trigger(c fiber.Ctx) error {
	var req dto.BroadcastDispatchRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if id := c.Query("job_id"); id != "" && req.JobID == nil {
		req.JobID = &id
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, 0)
	defer cancel()

	res, err := h.dispatchFlow.Trigger(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to dispatch broadcast", "DISPATCH_FAILED")
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// Kick wakes the background worker without waiting for it
// @Summary Kick Dispatch Worker
// @Tags Broadcast Dispatch
// @Produce json
// @Success 202 {object} dto.APIResponse
// @Router /api/v1/broadcasts/dispatch/kick [post]
func (h *DispatchHandler) Kick(c fiber.Ctx) error {
	h.dispatchFlow.Kick()
	return h.SuccessResponse(c, fiber.StatusAccepted, "Dispatch worker notified", nil)
}
