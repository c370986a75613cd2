package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/app/middleware"
	"github.com/amirphl/astro-dispatch/app/scheduler"
	"github.com/amirphl/astro-dispatch/app/services"
	businessflow "github.com/amirphl/astro-dispatch/business_flow"
	"github.com/amirphl/astro-dispatch/config"
	"github.com/amirphl/astro-dispatch/models"
	testingutil "github.com/amirphl/astro-dispatch/testing"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const (
	adminToken   = "admin-token"
	schedulerKey = "scheduler-key"
)

type stubTokens struct{}

func (stubTokens) ValidateAdminToken(token string) (*services.AdminTokenClaims, error) {
	switch token {
	case adminToken:
		return &services.AdminTokenClaims{Subject: "admin-7", Role: "admin"}, nil
	case "viewer-token":
		return nil, services.ErrTokenForbidden
	case "stale-token":
		return nil, services.ErrTokenExpired
	}
	return nil, services.ErrTokenInvalid
}

type stubTriggerer struct {
	res *scheduler.TriggerResult
	err error
}

func (s *stubTriggerer) Trigger(context.Context, *uuid.UUID) (*scheduler.TriggerResult, error) {
	return s.res, s.err
}

type countingKicker struct{ n atomic.Int32 }

func (k *countingKicker) Kick() { k.n.Add(1) }

type testServer struct {
	app     *fiber.App
	store   *testingutil.MemoryStore
	hub     *services.ProgressHub
	trigger *stubTriggerer
	kicker  *countingKicker
}

func newTestServer(t *testing.T, pingInterval time.Duration) *testServer {
	t.Helper()
	store := testingutil.NewMemoryStore()
	hub := services.NewProgressHub()
	logger := zerolog.Nop()
	composer := services.NewTelegramService(config.TelegramConfig{}, logger)
	trigger := &stubTriggerer{res: &scheduler.TriggerResult{Success: true, Message: scheduler.OutcomeNoJobs}}
	kicker := &countingKicker{}

	broadcastFlow := businessflow.NewBroadcastFlow(store.Jobs(), store.Subscribers(), store, composer, hub, kicker, false, logger)
	historyFlow := businessflow.NewBroadcastHistoryFlow(store.Jobs(), store.Recipients())
	maintenanceFlow := businessflow.NewBroadcastMaintenanceFlow(store.Jobs(), hub, logger)
	dispatchFlow := businessflow.NewBroadcastDispatchFlow(trigger, kicker)

	adminH := NewBroadcastAdminHandler(broadcastFlow, historyFlow, maintenanceFlow, logger)
	streamH := NewBroadcastStreamHandler(broadcastFlow, hub, pingInterval, 0, logger)
	dispatchH := NewDispatchHandler(dispatchFlow, logger)
	auth := middleware.NewAuthMiddleware(stubTokens{}, "", []string{schedulerKey})

	app := fiber.New()
	admin := app.Group("/api/v1/admin/broadcasts", auth.AdminAuthenticate())
	admin.Post("/", adminH.CreateBroadcast)
	admin.Get("/", adminH.ListBroadcasts)
	admin.Post("/audience/preview", adminH.PreviewAudience)
	admin.Post("/maintenance", adminH.RunMaintenance)
	admin.Post("/dispatch", dispatchH.Trigger)
	admin.Post("/dispatch/kick", dispatchH.Kick)
	admin.Get("/:id", adminH.GetBroadcast)
	admin.Post("/:id/actions", adminH.ManageBroadcast)
	admin.Get("/:id/progress", streamH.StreamProgress)
	admin.Get("/:id/errors", adminH.ListErrors)
	admin.Get("/:id/errors/export", adminH.ExportErrors)
	dispatch := app.Group("/api/v1/dispatch", auth.SchedulerOrAdmin())
	dispatch.Post("/trigger", dispatchH.Trigger)
	dispatch.Post("/kick", dispatchH.Kick)

	return &testServer{app: app, store: store, hub: hub, trigger: trigger, kicker: kicker}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers == nil {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	resp, raw := s.do(t, method, path, body, nil)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func (s *testServer) seedAudience() {
	s.store.AddSubscriber(testingutil.NewSubscriber("100", "aries"))
	s.store.AddSubscriber(testingutil.NewSubscriber("200", "aries"))
	s.store.AddSubscriber(testingutil.NewSubscriber("300", "leo"))
}

func TestCreateBroadcastEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	s.seedAudience()

	status, env := s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts", fiber.Map{
		"message":  "Mercury is in retrograde",
		"audience": fiber.Map{"zodiac_signs": []string{"aries"}},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, env.Success)

	var data dto.CreateBroadcastResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 2, data.Total)
	assert.Equal(t, "queued", data.Status)
	assert.Empty(t, data.DroppedButtons)

	id, err := uuid.Parse(data.JobID)
	require.NoError(t, err)
	jobs, err := s.store.Jobs().ByFilter(context.Background(), models.BroadcastJobFilter{UUID: &id}, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].CreatedBy)
	assert.Equal(t, "admin-7", *jobs[0].CreatedBy)
}

func TestCreateBroadcastRejectsBadInput(t *testing.T) {
	s := newTestServer(t, 0)
	s.seedAudience()

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{name: "missing message", body: fiber.Map{"audience": fiber.Map{}}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "bad parse mode", body: fiber.Map{"message": "hi", "parse_mode": "BBCode"}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "blank message", body: fiber.Map{"message": "   "}, status: http.StatusBadRequest, code: "BROADCAST_MESSAGE_REQUIRED"},
		{name: "empty audience", body: fiber.Map{"message": "hi", "audience": fiber.Map{"zodiac_signs": []string{"pisces"}}}, status: http.StatusBadRequest, code: "BROADCAST_AUDIENCE_EMPTY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts", tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, 0)
	tests := []struct {
		name    string
		headers map[string]string
		status  int
		code    string
	}{
		{name: "no header", headers: map[string]string{}, status: http.StatusUnauthorized, code: "MISSING_AUTHORIZATION_HEADER"},
		{name: "not bearer", headers: map[string]string{"Authorization": "Basic abc"}, status: http.StatusUnauthorized, code: "INVALID_AUTHORIZATION_FORMAT"},
		{name: "expired", headers: map[string]string{"Authorization": "Bearer stale-token"}, status: http.StatusUnauthorized, code: "TOKEN_EXPIRED"},
		{name: "not admin", headers: map[string]string{"Authorization": "Bearer viewer-token"}, status: http.StatusForbidden, code: "ADMIN_ROLE_REQUIRED"},
		{name: "api key is not enough", headers: map[string]string{"X-API-Key": schedulerKey}, status: http.StatusUnauthorized, code: "MISSING_AUTHORIZATION_HEADER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := s.do(t, http.MethodGet, "/api/v1/admin/broadcasts", nil, tt.headers)
			assert.Equal(t, tt.status, resp.StatusCode)
			var env envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestManageBroadcastEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	job := s.store.AddJob(testingutil.NewJob("hi", "1", "2"), utils.UTCNow())
	path := "/api/v1/admin/broadcasts/" + job.UUID.String() + "/actions"

	status, env := s.doJSON(t, http.MethodPost, path, fiber.Map{"action": "pause"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", env.Error.Code)

	status, env = s.doJSON(t, http.MethodPost, path, fiber.Map{"action": "cancel"})
	require.Equal(t, http.StatusOK, status)
	var data dto.BroadcastActionResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, dto.BroadcastActionResponse{JobID: job.UUID.String(), NewStatus: "cancelled"}, data)

	status, env = s.doJSON(t, http.MethodPost, path, fiber.Map{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, env = s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts/"+uuid.NewString()+"/actions", fiber.Map{"action": "cancel"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "BROADCAST_NOT_FOUND", env.Error.Code)
}

func TestGetAndListBroadcasts(t *testing.T) {
	s := newTestServer(t, 0)
	now := utils.UTCNow()
	older := s.store.AddJob(testingutil.NewJob("older", "1"), now.Add(-time.Hour))
	newer := s.store.AddJob(testingutil.NewJob("newer", "1", "2"), now)

	status, env := s.doJSON(t, http.MethodGet, "/api/v1/admin/broadcasts/"+older.UUID.String(), nil)
	require.Equal(t, http.StatusOK, status)
	var job dto.BroadcastJobResponse
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, "older", job.Message)
	assert.Equal(t, 1, job.Pending)

	status, _ = s.doJSON(t, http.MethodGet, "/api/v1/admin/broadcasts/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = s.doJSON(t, http.MethodGet, "/api/v1/admin/broadcasts?page=1&page_size=1", nil)
	require.Equal(t, http.StatusOK, status)
	var page dto.ListBroadcastsResponse
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, newer.UUID.String(), page.Items[0].JobID)
	assert.Equal(t, int64(2), page.Pagination.Total)

	status, env = s.doJSON(t, http.MethodGet, "/api/v1/admin/broadcasts?page_size=500", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PAGE_SIZE", env.Error.Code)

	status, env = s.doJSON(t, http.MethodGet, "/api/v1/admin/broadcasts?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestErrorsAndExportEndpoints(t *testing.T) {
	s := newTestServer(t, 0)
	job := s.store.AddJob(testingutil.NewJob("hi", "10", "20"), utils.UTCNow())
	rows := s.store.JobRecipients(job.ID)
	_, err := s.store.Recipients().MarkFailed(context.Background(), rows[1].ID, "Forbidden: bot was blocked by the user", utils.UTCNow())
	require.NoError(t, err)

	status, env := s.doJSON(t, http.MethodGet, "/api/v1/admin/broadcasts/"+job.UUID.String()+"/errors", nil)
	require.Equal(t, http.StatusOK, status)
	var list dto.ListBroadcastErrorsResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "20", list.Items[0].ChatID)

	resp, raw := s.do(t, http.MethodGet, "/api/v1/admin/broadcasts/"+job.UUID.String()+"/errors/export", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "broadcast_"+job.UUID.String()+"_errors.xlsx")

	xl, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()
	sheetRows, err := xl.GetRows("errors")
	require.NoError(t, err)
	assert.Len(t, sheetRows, 2)
}

func TestPreviewAudienceEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	s.seedAudience()

	status, env := s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts/audience/preview", fiber.Map{"zodiac_signs": []string{"leo"}})
	require.Equal(t, http.StatusOK, status)
	var data dto.AudiencePreviewResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(1), data.Count)

	status, env = s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts/audience/preview", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(3), data.Count)
}

func TestMaintenanceEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	old := testingutil.NewJob("old", "1")
	old.Status = models.BroadcastJobStatusDone
	s.store.AddJob(old, utils.UTCNow().Add(-40*24*time.Hour))

	status, env := s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts/maintenance", fiber.Map{"action": "cleanup_completed"})
	require.Equal(t, http.StatusOK, status)
	var data dto.BroadcastMaintenanceResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "cleanup_completed", data.Action)
	assert.Equal(t, 1, data.Affected)

	status, env = s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts/maintenance", fiber.Map{"action": "cancel_old", "days": 0})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, env = s.doJSON(t, http.MethodPost, "/api/v1/admin/broadcasts/maintenance", fiber.Map{"action": "vacuum"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestDispatchTriggerEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	jobID := uuid.New()
	s.trigger.res = &scheduler.TriggerResult{
		Success:      true,
		Message:      scheduler.OutcomeProcessed,
		JobID:        jobID,
		Status:       models.BroadcastJobStatusDone,
		Processed:    3,
		SuccessCount: 2,
		ErrorCount:   1,
	}

	resp, raw := s.do(t, http.MethodPost, "/api/v1/dispatch/trigger", nil, map[string]string{"X-API-Key": schedulerKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res dto.BroadcastDispatchResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "processed", res.Message)
	require.NotNil(t, res.Data)
	assert.Equal(t, 2, res.Data.SuccessCount)
	assert.Equal(t, 1, res.Data.Errors)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/dispatch/trigger", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/admin/broadcasts/dispatch", fiber.Map{"job_id": "not-a-uuid"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.trigger.err = scheduler.ErrNotConfigured
	resp, raw = s.do(t, http.MethodPost, "/api/v1/admin/broadcasts/dispatch", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.False(t, env.Success)
	assert.Equal(t, "DISPATCH_NOT_CONFIGURED", env.Error.Code)

	s.trigger.err = scheduler.ErrJobNotFound
	resp, _ = s.do(t, http.MethodPost, "/api/v1/admin/broadcasts/dispatch", fiber.Map{"job_id": uuid.NewString()}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKickEndpoints(t *testing.T) {
	s := newTestServer(t, 0)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/dispatch/kick", nil, map[string]string{"X-API-Key": schedulerKey})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/admin/broadcasts/dispatch/kick", nil, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int32(2), s.kicker.n.Load())
}

func progressFrames(t *testing.T, body string) []services.ProgressSnapshot {
	t.Helper()
	var out []services.ProgressSnapshot
	for _, frame := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(frame, "event: progress\n") {
			continue
		}
		var snap services.ProgressSnapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "event: progress\ndata: ")), &snap))
		out = append(out, snap)
	}
	return out
}

func TestStreamProgressTerminalJobEndsAfterFirstFrame(t *testing.T) {
	s := newTestServer(t, 0)
	job := testingutil.NewJob("hi", "1")
	job.Status = models.BroadcastJobStatusDone
	s.store.AddJob(job, utils.UTCNow())

	resp, raw := s.do(t, http.MethodGet, "/api/v1/admin/broadcasts/"+job.UUID.String()+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := progressFrames(t, string(raw))
	require.Len(t, frames, 1)
	assert.Equal(t, models.BroadcastJobStatusDone, frames[0].Status)
	assert.Zero(t, s.hub.Subscribers(job.UUID))
}

func TestStreamProgressFollowsUpdates(t *testing.T) {
	s := newTestServer(t, 20*time.Millisecond)
	job := testingutil.NewJob("hi", "1", "2")
	job.Status = models.BroadcastJobStatusRunning
	s.store.AddJob(job, utils.UTCNow())

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for s.hub.Subscribers(job.UUID) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(60 * time.Millisecond)
		snap := services.SnapshotFromJob(job)
		snap.Sent, snap.Pending = 1, 1
		s.hub.Publish(context.Background(), snap)
		snap.Status, snap.Failed, snap.Pending = models.BroadcastJobStatusDone, 1, 0
		s.hub.Publish(context.Background(), snap)
	}()

	resp, raw := s.do(t, http.MethodGet, "/api/v1/admin/broadcasts/"+job.UUID.String()+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := string(raw)
	assert.Contains(t, body, "event: ping\ndata: \n\n")
	frames := progressFrames(t, body)
	require.Len(t, frames, 3)
	assert.Equal(t, models.BroadcastJobStatusRunning, frames[0].Status)
	assert.Equal(t, 1, frames[1].Sent)
	assert.Equal(t, models.BroadcastJobStatusDone, frames[2].Status)
	for _, f := range frames {
		assert.Equal(t, f.Total, f.Sent+f.Failed+f.Pending)
	}
}

func TestStreamProgressUnknownJob(t *testing.T) {
	s := newTestServer(t, 0)
	id := uuid.New()
	resp, _ := s.do(t, http.MethodGet, "/api/v1/admin/broadcasts/"+id.String()+"/progress", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, s.hub.Subscribers(id))

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/broadcasts/garbage/progress", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type unavailableProgressFlow struct {
	businessflow.BroadcastFlow
}

func (unavailableProgressFlow) CurrentProgress(context.Context, string) (*services.ProgressSnapshot, error) {
	return nil, businessflow.NewBusinessError("BROADCAST_FETCH_FAILED", "Failed to fetch broadcast job", context.DeadlineExceeded)
}

type cachedHub struct {
	*services.ProgressHub
	last map[uuid.UUID]services.ProgressSnapshot
}

func (h cachedHub) LastSnapshot(_ context.Context, jobID uuid.UUID) (*services.ProgressSnapshot, error) {
	snap, ok := h.last[jobID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func TestStreamProgressFallsBackToCachedSnapshot(t *testing.T) {
	jobID := uuid.New()
	hub := cachedHub{ProgressHub: services.NewProgressHub(), last: map[uuid.UUID]services.ProgressSnapshot{
		jobID: {JobID: jobID, Status: models.BroadcastJobStatusDone, Total: 2, Sent: 2},
	}}
	h := NewBroadcastStreamHandler(unavailableProgressFlow{}, hub, 0, 0, zerolog.Nop())
	app := fiber.New()
	app.Get("/:id/progress", h.StreamProgress)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+jobID.String()+"/progress", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frames := progressFrames(t, string(raw))
	require.Len(t, frames, 1)
	assert.Equal(t, 2, frames[0].Sent)
	assert.Equal(t, models.BroadcastJobStatusDone, frames[0].Status)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/"+uuid.NewString()+"/progress", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "no cached snapshot keeps the store error")
}
