package handler

import (
	"log/slog"

	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
)

// Limiter admits requests per key.
type Limiter interface {
	Allow(key string) bool
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Engine  *engine.Engine
	Limiter Limiter // per-wallet submission limit, nil disables it
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	engine  *engine.Engine
	limiter Limiter
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = allowAll{}
	}
	return &JobHandler{
		logger:  deps.Logger,
		engine:  deps.Engine,
		limiter: limiter,
	}
}

// AccountHandler serves balances, ledgers, pricing and credit grants
type AccountHandler struct {
	logger *slog.Logger
	engine *engine.Engine
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(deps *Dependencies) *AccountHandler {
	return &AccountHandler{logger: deps.Logger, engine: deps.Engine}
}

// WorkerHandler receives execution reports from workers
type WorkerHandler struct {
	logger *slog.Logger
	engine *engine.Engine
}

// NewWorkerHandler creates a new WorkerHandler instance
func NewWorkerHandler(deps *Dependencies) *WorkerHandler {
	return &WorkerHandler{logger: deps.Logger, engine: deps.Engine}
}
