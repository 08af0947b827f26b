package handler

import (
	"errors"
	"go-lookflow/internal/api/dto"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type WorkflowHandler struct {
	service service.LookService
}

func NewWorkflowHandler(svc service.LookService) *WorkflowHandler {
	return &WorkflowHandler{service: svc}
}

// Register mounts the routes on an /api/v1 group.
func (h *WorkflowHandler) Register(api *gin.RouterGroup) {
	api.POST("/runs/look-generation", h.StartLookGeneration)
	api.GET("/runs/:id", h.GetRun)
	api.POST("/looks/images", h.GenerateImages)
}

func (h *WorkflowHandler) StartLookGeneration(c *gin.Context) {
	var req dto.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	runID, err := h.service.StartLookGenerationRun(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(statusFor(err), dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.StartRunResponse{ID: runID})
}

func (h *WorkflowHandler) GenerateImages(c *gin.Context) {
	var req dto.GenerateImagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.service.GenerateImagesForLooks(c.Request.Context(), req.LookIDs)
	if err != nil {
		c.JSON(statusFor(err), dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *WorkflowHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid run id"})
		return
	}

	view, err := h.service.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(statusFor(err), dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, view)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrLookNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
