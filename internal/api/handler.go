// Package api exposes the admission pipeline over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
	"emergency-admission/internal/pipeline"
)

// Service is the part of the pipeline the HTTP layer drives.
type Service interface {
	Submit(ctx context.Context, sub models.Submission) (models.AdmissionResult, error)
	GetQueue(facilityID string) ([]models.QueueEntry, error)
	Facilities() []models.FacilityRecord
	CompleteCase(ctx context.Context, submissionID, outcome, actor string) (models.QueueEntry, error)
	MoveInQueue(ctx context.Context, submissionID, direction, actor string) (models.QueueEntry, error)
	StartTreatment(ctx context.Context, submissionID, actor string) (models.QueueEntry, error)
	Retract(ctx context.Context, submissionID, actor string) (pipeline.RetractResult, error)
	OverrideTriage(ctx context.Context, submissionID string, tier models.Tier, actor, reason string, recompute bool) (pipeline.OverrideResult, error)
	Pending() []models.PendingSubmission
	History(ctx context.Context, submissionID string) ([]models.Event, error)
}

type Handler struct {
	service Service
	logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log.WithFields(map[string]interface{}{"component": "http-api"}),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	v1 := r.Group("/api/v1")
	v1.POST("/submissions", h.submit)
	v1.GET("/submissions/pending", h.pending)
	v1.GET("/facilities", h.facilities)
	v1.GET("/facilities/:id/queue", h.queue)
	v1.POST("/cases/:id/complete", h.complete)
	v1.POST("/cases/:id/move", h.move)
	v1.POST("/cases/:id/start", h.start)
	v1.POST("/cases/:id/retract", h.retract)
	v1.POST("/cases/:id/override", h.override)
	v1.GET("/cases/:id/events", h.events)
}

type completeRequest struct {
	Outcome string `json:"outcome"`
	Actor   string `json:"actor"`
}

type moveRequest struct {
	Direction string `json:"direction"`
	Actor     string `json:"actor"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type overrideRequest struct {
	Tier      string `json:"tier"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
	Recompute bool   `json:"recompute"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) submit(c *gin.Context) {
	var sub models.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		h.fail(c, apperrors.NewValidationError(err.Error()))
		return
	}

	res, err := h.service.Submit(c.Request.Context(), sub)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) pending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": h.service.Pending()})
}

func (h *Handler) facilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"facilities": h.service.Facilities()})
}

func (h *Handler) queue(c *gin.Context) {
	facilityID := c.Param("id")
	entries, err := h.service.GetQueue(facilityID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"facilityId": facilityID, "entries": entries})
}

func (h *Handler) complete(c *gin.Context) {
	var req completeRequest
	if !h.bindOptional(c, &req) {
		return
	}
	entry, err := h.service.CompleteCase(c.Request.Context(), c.Param("id"), req.Outcome, req.Actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.NewValidationError(err.Error()))
		return
	}
	entry, err := h.service.MoveInQueue(c.Request.Context(), c.Param("id"), req.Direction, req.Actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) start(c *gin.Context) {
	var req actorRequest
	if !h.bindOptional(c, &req) {
		return
	}
	entry, err := h.service.StartTreatment(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) retract(c *gin.Context) {
	var req actorRequest
	if !h.bindOptional(c, &req) {
		return
	}
	res, err := h.service.Retract(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) override(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.NewValidationError(err.Error()))
		return
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		h.fail(c, apperrors.NewValidationError(err.Error()))
		return
	}
	res, err := h.service.OverrideTriage(c.Request.Context(), c.Param("id"), tier, req.Actor, req.Reason, req.Recompute)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) events(c *gin.Context) {
	events, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissionId": c.Param("id"), "events": events})
}

// bindOptional accepts an empty body.
func (h *Handler) bindOptional(c *gin.Context, dest interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		h.fail(c, apperrors.NewValidationError(err.Error()))
		return false
	}
	return true
}
