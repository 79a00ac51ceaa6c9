package controller

import (
	"context"
	"io"
	"strconv"
	"strings"

	"ejsubmit/internal/submit/queue"
	"ejsubmit/internal/submit/service"
	appErr "ejsubmit/pkg/errors"
	"ejsubmit/pkg/utils/contextkey"
	"ejsubmit/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// maxUploadBytes caps the multipart file read; the service enforces the
// per-problem limit.
const maxUploadBytes = 16*1024*1024 + 1

// SubmitAPI is the service surface used by the controller.
type SubmitAPI interface {
	Submit(ctx context.Context, input service.SubmitInput) (int64, error)
	Rejudge(ctx context.Context, runID int64) (queue.Job, error)
	QueueStats(ctx context.Context) (queue.Stats, error)
}

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService SubmitAPI
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService SubmitAPI) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Register mounts the routes on r.
func (h *SubmitController) Register(r gin.IRouter) {
	r.POST("/problem/trusted/:problem_id/submit_v2", h.Submit)
	r.POST("/problem/run/:run_id/action/rejudge", h.Rejudge)
	r.GET("/queue/stats", h.QueueStats)
}

// Submit handles trusted multipart submissions.
func (h *SubmitController) Submit(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("problem_id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}

	var form SubmitForm
	if err := c.ShouldBind(&form); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErr.ValidationError("file", "required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "Invalid file")
		return
	}
	defer file.Close()
	source, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		response.BadRequest(c, "Invalid file")
		return
	}

	input := service.SubmitInput{
		UserID:        form.UserID,
		ProblemID:     problemID,
		LanguageID:    form.LanguageID,
		StatementID:   form.StatementID,
		ContextID:     form.ContextID,
		ContextSource: form.ContextSource,
		Filename:      fileHeader.Filename,
		Source:        source,
		ClientIP:      c.ClientIP(),
	}
	if raw := strings.TrimSpace(form.IsVisible); raw != "" {
		visible, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErr.ValidationError("is_visible", "must be a boolean"))
			return
		}
		input.IsVisible = &visible
	}

	ctx := context.WithValue(c.Request.Context(), contextkey.UserID, form.UserID)
	runID, err := h.submitService.Submit(ctx, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{RunID: runID})
}

// Rejudge queues an existing run again.
func (h *SubmitController) Rejudge(c *gin.Context) {
	runID, err := strconv.ParseInt(c.Param("run_id"), 10, 64)
	if err != nil || runID <= 0 {
		response.BadRequest(c, "Invalid run id")
		return
	}
	job, err := h.submitService.Rejudge(c.Request.Context(), runID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RejudgeResponse{RunID: runID, SequenceID: job.SequenceID})
}

// QueueStats reports the submit queue counters.
func (h *SubmitController) QueueStats(c *gin.Context) {
	stats, err := h.submitService.QueueStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// SubmitForm defines the multipart fields of a trusted submission.
type SubmitForm struct {
	LanguageID    int64  `form:"lang_id" binding:"required"`
	UserID        int64  `form:"user_id" binding:"required"`
	StatementID   int64  `form:"statement_id"`
	ContextID     int64  `form:"context_id"`
	ContextSource int    `form:"context_source"`
	IsVisible     string `form:"is_visible"`
}

// SubmitResponse defines submission response payload.
type SubmitResponse struct {
	RunID int64 `json:"run_id"`
}

// RejudgeResponse defines rejudge response payload.
type RejudgeResponse struct {
	RunID      int64 `json:"run_id"`
	SequenceID int64 `json:"sequence_id"`
}
