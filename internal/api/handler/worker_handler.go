package handler

import (
	"net/http"

	"github.com/cuongbtq/pyrx-compute/internal/api/dto"
	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/gin-gonic/gin"
)

// Assigned handles POST /api/v1/worker/jobs/:job_id/assigned
func (h *WorkerHandler) Assigned(c *gin.Context) {
	var req dto.AssignedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "worker_ref is required")
		return
	}

	job, err := h.engine.Assigned(c.Request.Context(), c.Param("job_id"), req.WorkerRef)
	h.respond(c, job, err)
}

// Started handles POST /api/v1/worker/jobs/:job_id/started
func (h *WorkerHandler) Started(c *gin.Context) {
	job, err := h.engine.Started(c.Request.Context(), c.Param("job_id"))
	h.respond(c, job, err)
}

// Completed handles POST /api/v1/worker/jobs/:job_id/completed
func (h *WorkerHandler) Completed(c *gin.Context) {
	var req dto.CompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "actual_cost is required")
		return
	}

	job, err := h.engine.Completed(c.Request.Context(), c.Param("job_id"), req.Output, *req.ActualCost)
	h.respond(c, job, err)
}

// Failed handles POST /api/v1/worker/jobs/:job_id/failed
func (h *WorkerHandler) Failed(c *gin.Context) {
	var req dto.FailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	job, err := h.engine.Failed(c.Request.Context(), c.Param("job_id"), req.Reason)
	h.respond(c, job, err)
}

func (h *WorkerHandler) respond(c *gin.Context, job *domain.Job, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}
