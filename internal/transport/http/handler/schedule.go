package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/queue"
	"github.com/ErlanBelekov/backup-agent/internal/source"
	"github.com/ErlanBelekov/backup-agent/internal/usecase"
	"github.com/gin-gonic/gin"
)

type ScheduleHandler struct {
	uc     *usecase.ScheduleUsecase
	logger *slog.Logger
}

func NewScheduleHandler(uc *usecase.ScheduleUsecase, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{uc: uc, logger: logger.With("component", "schedule_handler")}
}

type createScheduleRequest struct {
	Type  string   `json:"type"  binding:"required,oneof=daily weekly monthly"`
	Time  []int    `json:"time"  binding:"required,len=2"`
	Files []string `json:"files" binding:"omitempty,max=1000"`
	DB    []string `json:"db"    binding:"omitempty,max=1000"`
	Day   *int     `json:"day"`
	Days  *int     `json:"days"`
}

type scheduleResponse struct {
	Key         string     `json:"key"`
	ID          string     `json:"id,omitempty"`
	Type        string     `json:"type"`
	Time        string     `json:"time"`
	Files       []string   `json:"files"`
	Databases   []string   `json:"db"`
	Day         *int       `json:"day,omitempty"`
	Days        *int       `json:"days,omitempty"`
	Weekdays    string     `json:"weekdays,omitempty"`
	NextRun     time.Time  `json:"next_run"`
	PreviousRun *time.Time `json:"previous_run,omitempty"`
	Excluded    bool       `json:"excluded"`
	Running     bool       `json:"running"`
}

func toScheduleResponse(e queue.Entry) scheduleResponse {
	s := e.Schedule
	rec := source.FromSchedule(s)
	resp := scheduleResponse{
		Key:       e.Key,
		ID:        s.ID,
		Type:      rec.Type,
		Time:      s.Time.String(),
		Files:     nonNil(s.Files),
		Databases: nonNil(s.Databases),
		Day:       rec.Day,
		Days:      rec.Days,
		NextRun:   s.NextRun(),
		Excluded:  s.Excluded(),
		Running:   e.InFlight,
	}
	if rule, ok := s.Rule().(domain.WeeklyRule); ok {
		resp.Weekdays = rule.Days.String()
	}
	if prev, ok := s.PreviousRun(); ok {
		resp.PreviousRun = &prev
	}
	return resp
}

type runResponse struct {
	ID          string     `json:"id"`
	Attempt     int        `json:"attempt"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
}

func (h *ScheduleHandler) Create(ctx *gin.Context) {
	var req createScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, err := h.uc.CreateSchedule(ctx.Request.Context(), source.Record{
		Type:  req.Type,
		Time:  req.Time,
		Files: req.Files,
		DB:    req.DB,
		Day:   req.Day,
		Days:  req.Days,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRule) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRule, "detail": err.Error()})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "create schedule", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	h.logger.InfoContext(ctx.Request.Context(), "local schedule created", "schedule_key", e.Key, "operator", ctx.GetString("operator"))
	ctx.JSON(http.StatusCreated, toScheduleResponse(e))
}

func (h *ScheduleHandler) List(ctx *gin.Context) {
	entries := h.uc.ListSchedules(ctx.Request.Context())

	items := make([]scheduleResponse, len(entries))
	for i, e := range entries {
		items[i] = toScheduleResponse(e)
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": items})
}

func (h *ScheduleHandler) GetByKey(ctx *gin.Context) {
	key := ctx.Param("key")

	e, err := h.uc.GetSchedule(ctx.Request.Context(), key)
	if err != nil {
		h.writeError(ctx, "get schedule", key, err)
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(e))
}

func (h *ScheduleHandler) Delete(ctx *gin.Context) {
	key := ctx.Param("key")

	if err := h.uc.DeleteSchedule(ctx.Request.Context(), key); err != nil {
		h.writeError(ctx, "delete schedule", key, err)
		return
	}
	h.logger.InfoContext(ctx.Request.Context(), "schedule deleted", "schedule_key", key, "operator", ctx.GetString("operator"))
	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) Exclude(ctx *gin.Context) {
	h.setExcluded(ctx, true)
}

func (h *ScheduleHandler) Include(ctx *gin.Context) {
	h.setExcluded(ctx, false)
}

func (h *ScheduleHandler) setExcluded(ctx *gin.Context, excluded bool) {
	key := ctx.Param("key")

	if err := h.uc.SetExcluded(ctx.Request.Context(), key, excluded); err != nil {
		h.writeError(ctx, "set excluded", key, err)
		return
	}
	h.logger.InfoContext(ctx.Request.Context(), "schedule exclusion changed",
		"schedule_key", key,
		"excluded", excluded,
		"operator", ctx.GetString("operator"),
	)
	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) ListRuns(ctx *gin.Context) {
	key := ctx.Param("key")
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	runs, err := h.uc.ListRuns(ctx.Request.Context(), key, limit)
	if err != nil {
		h.writeError(ctx, "list runs", key, err)
		return
	}

	items := make([]runResponse, len(runs))
	for i, r := range runs {
		items[i] = runResponse{
			ID:          r.ID,
			Attempt:     r.Attempt,
			Status:      string(r.Status),
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			Error:       r.Error,
			DurationMS:  r.DurationMS,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"runs": items})
}

func (h *ScheduleHandler) writeError(ctx *gin.Context, op, key string, err error) {
	if errors.Is(err, domain.ErrScheduleNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
		return
	}
	h.logger.ErrorContext(ctx.Request.Context(), op, "schedule_key", key, "error", err)
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
