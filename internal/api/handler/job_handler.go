package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/pyrx-compute/internal/api/dto"
	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SubmitJob handles POST /api/v1/jobs
// Admits a job against the wallet's balance and queues it for execution
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	wallet, err := domain.NormalizeWallet(req.WalletAddress)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if !h.limiter.Allow(wallet) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
			Error: "too many submissions, slow down",
			Code:  domain.CodeRateLimited,
		})
		return
	}

	job, err := h.engine.Submit(c.Request.Context(), engine.SubmitRequest{
		Wallet: wallet,
		Type:   req.Type,
		Model:  req.Model,
		Input:  req.Input,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// EstimateJob handles POST /api/v1/jobs/estimate
// Prices a request without admitting it
func (h *JobHandler) EstimateJob(c *gin.Context) {
	var req dto.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	quote, err := h.engine.Estimate(engine.SubmitRequest{
		Wallet: req.WalletAddress,
		Type:   req.Type,
		Model:  req.Model,
		Input:  req.Input,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.NewEstimateResponse(quote)
	if req.WalletAddress != "" {
		ok, err := h.engine.CheckSufficient(c.Request.Context(), req.WalletAddress, quote.Estimated)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		resp.Sufficient = &ok
	}

	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id?wallet=
// Only the owning wallet can read a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		badRequest(c, "job_id must be a valid UUID")
		return
	}

	var req dto.GetJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "wallet query parameter is required")
		return
	}

	job, err := h.engine.JobForWallet(c.Request.Context(), req.Wallet, jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		badRequest(c, "invalid cursor")
		return
	}

	filter := storage.JobFilter{
		Wallet:   req.Wallet,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}
	if req.Type != "" {
		category, err := domain.ParseCategory(req.Type)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		filter.Category = category
	}
	if req.Status != "" {
		status, err := domain.ParseStatus(strings.ToUpper(req.Status))
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		filter.Status = status
	}

	jobs, err := h.engine.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, 0, len(jobs))}
	if len(jobs) > req.PageSize {
		jobs = jobs[:req.PageSize]
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, dto.NewJobDTO(j))
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not been handed to a worker and refunds its reservation
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		badRequest(c, "job_id must be a valid UUID")
		return
	}

	var req dto.CancelJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "wallet_address is required")
		return
	}

	job, err := h.engine.Cancel(c.Request.Context(), req.WalletAddress, jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job cancelled",
		slog.String("job_id", job.ID),
		slog.String("wallet", job.Wallet),
	)

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}
