package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/astro-dispatch/app/services"
	businessflow "github.com/amirphl/astro-dispatch/business_flow"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BroadcastStreamHandlerInterface defines the contract for progress streaming
type BroadcastStreamHandlerInterface interface {
	StreamProgress(c fiber.Ctx) error
}

// BroadcastStreamHandler serves job progress as server-sent events
type BroadcastStreamHandler struct {
	responder
	broadcastFlow businessflow.BroadcastFlow
	subscriber    services.ProgressSubscriber
	pingInterval  time.Duration
	buffer        int
}

func NewBroadcastStreamHandler(
	broadcastFlow businessflow.BroadcastFlow,
	subscriber services.ProgressSubscriber,
	pingInterval time.Duration,
	buffer int,
	logger zerolog.Logger,
) BroadcastStreamHandlerInterface {
	if pingInterval <= 0 {
		pingInterval = utils.DefaultProgressPingInterval
	}
	return &BroadcastStreamHandler{
		responder:     newResponder(logger),
		broadcastFlow: broadcastFlow,
		subscriber:    subscriber,
		pingInterval:  pingInterval,
		buffer:        buffer,
	}
}

// StreamProgress streams job snapshots until the job reaches a final state
// @Summary Stream Broadcast Progress
// @Description Server-sent events. Each "progress" event carries a snapshot; "ping" events keep the connection alive.
// @Tags Admin Broadcasts
// @Produce text/event-stream
// @Param id path string true "Job ID"
// @Success 200 {string} string "event stream"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/admin/broadcasts/{id}/progress [get]
func (h *BroadcastStreamHandler) StreamProgress(c fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast job not found", "BROADCAST_NOT_FOUND", nil)
	}

	// subscribe before reading the current state so no update falls in between
	updates, unsubscribe := h.subscriber.Subscribe(jobID, h.buffer)

	ctx, cancel := h.requestContext(c, 0)
	current, err := h.broadcastFlow.CurrentProgress(ctx, jobID.String())
	if err != nil && !businessflow.IsBroadcastNotFound(err) {
		if cached := h.cachedProgress(ctx, jobID); cached != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("job store unavailable, starting stream from cached snapshot")
			current, err = cached, nil
		}
	}
	cancel()
	if err != nil {
		unsubscribe()
		return h.flowError(c, err, "Failed to read broadcast progress", "PROGRESS_FAILED")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With().Str("job_id", jobID.String()).Logger()
	interval := h.pingInterval

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		if err := writeProgressEvent(w, *current); err != nil {
			return
		}
		if current.Final() {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				if err := writeProgressEvent(w, snap); err != nil {
					logger.Debug().Err(err).Msg("progress stream closed")
					return
				}
				if snap.Final() {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString("event: ping\ndata: \n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					logger.Debug().Err(err).Msg("progress stream closed")
					return
				}
			}
		}
	})
}

// cachedProgress reads the last published snapshot when the subscriber keeps one
func (h *BroadcastStreamHandler) cachedProgress(ctx context.Context, jobID uuid.UUID) *services.ProgressSnapshot {
	reader, ok := h.subscriber.(services.ProgressSnapshotReader)
	if !ok {
		return nil
	}
	snap, err := reader.LastSnapshot(ctx, jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to read cached progress snapshot")
		return nil
	}
	return snap
}

func writeProgressEvent(w *bufio.Writer, snap services.ProgressSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}
