package businessflow

import (
	"context"
	"errors"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/app/scheduler"
	"github.com/google/uuid"
)

// BroadcastDispatchFlow exposes the dispatch engine to the admin and scheduler APIs
type BroadcastDispatchFlow interface {
	Trigger(ctx context.Context, req *dto.BroadcastDispatchRequest) (*dto.BroadcastDispatchResult, error)
	Kick()
}

// BroadcastDispatchFlowImpl implements BroadcastDispatchFlow
type BroadcastDispatchFlowImpl struct {
	dispatcher scheduler.Triggerer
	kicker     DispatchKicker
}

// NewBroadcastDispatchFlow creates a new dispatch flow. kicker may be nil when no worker pool runs.
func NewBroadcastDispatchFlow(dispatcher scheduler.Triggerer, kicker DispatchKicker) BroadcastDispatchFlow {
	return &BroadcastDispatchFlowImpl{dispatcher: dispatcher, kicker: kicker}
}

// Trigger runs one dispatch pass, optionally targeted at one job
func (f *BroadcastDispatchFlowImpl) Trigger(ctx context.Context, req *dto.BroadcastDispatchRequest) (*dto.BroadcastDispatchResult, error) {
	var target *uuid.UUID
	if req != nil && req.JobID != nil && *req.JobID != "" {
		id, err := parseJobID(*req.JobID)
		if err != nil {
			return nil, err
		}
		target = &id
	}

	res, err := f.dispatcher.Trigger(ctx, target)
	switch {
	case errors.Is(err, scheduler.ErrNotConfigured):
		return nil, NewBusinessError("DISPATCH_NOT_CONFIGURED", "Broadcast dispatch is not configured", errors.Join(ErrDispatchNotConfigured, err))
	case errors.Is(err, scheduler.ErrJobNotFound):
		return nil, NewBusinessError("BROADCAST_NOT_FOUND", "Broadcast job not found", errors.Join(ErrBroadcastNotFound, err))
	case err != nil:
		return nil, NewBusinessError("DISPATCH_FAILED", "Broadcast dispatch failed", err)
	}

	out := &dto.BroadcastDispatchResult{
		Success: res.Success,
		Message: res.Message,
		Error:   res.Error,
	}
	if res.Message == scheduler.OutcomeProcessed {
		out.Data = &dto.BroadcastDispatchResponse{
			JobID:        res.JobID.String(),
			Processed:    res.Processed,
			SuccessCount: res.SuccessCount,
			Errors:       res.ErrorCount,
			Remaining:    res.Remaining,
			Status:       res.Status.String(),
		}
	}
	return out, nil
}

// Kick wakes the worker pool without waiting for it
func (f *BroadcastDispatchFlowImpl) Kick() {
	if f.kicker != nil {
		f.kicker.Kick()
	}
}
