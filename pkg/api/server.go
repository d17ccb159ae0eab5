// Package api exposes the HTTP facade described in spec.md §6: submit a
// goal, poll its status, cancel it, and inspect fleet/resource state.
// It depends only on the narrow read/write interfaces declared below,
// satisfied by pkg/orchestrator.Orchestrator, pkg/scheduler.Scheduler,
// pkg/agentmgr.Manager, and pkg/resource.Monitor.
//
// The gin-based Server{...}/NewServer shape, ShouldBindJSON/gin.H
// response pattern, and GET /health handler are grounded on the
// teacher's pkg/api/handlers.go and cmd/tarsy/main.go -- the only part
// of the teacher's api layer that is actually consistent with its own
// go.mod (the sibling echo/v5-based files import a dependency the
// teacher's module graph never requires).
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/resource"
)

// GoalOrchestrator is the subset of pkg/orchestrator.Orchestrator the
// facade depends on: run a goal to terminal state in the background,
// and cancel one in flight.
type GoalOrchestrator interface {
	Orchestrate(ctx context.Context, goal domain.Goal) (OrchestrateResult, error)
	Cancel(goalID ids.GoalID) error
}

// OrchestrateResult mirrors pkg/orchestrator.Result so this package
// does not need to import pkg/orchestrator just for a struct shape.
type OrchestrateResult struct {
	GoalID ids.GoalID
	Status domain.GoalStatus
}

// TaskLister is the subset of pkg/scheduler.Scheduler the facade needs
// to render a goal's per-task summary.
type TaskLister interface {
	Tasks(goalID ids.GoalID) ([]domain.Task, error)
}

// FleetLister is the subset of pkg/agentmgr.Manager the facade needs
// for GET /agents.
type FleetLister interface {
	Fleet() []domain.Agent
}

// UsageReporter is the subset of pkg/resource.Monitor the facade needs
// for GET /system/stats.
type UsageReporter interface {
	Report() map[ids.OwnerID]resource.Usage
}

// goalRecord is the facade's own bookkeeping for a submitted goal. None
// of C4-C6 retains a Goal record once it has handed tasks off to the
// scheduler, so the facade keeps the thin envelope (the goal, with its
// status, and its cancel function) that GET /goals/{id} reports on.
type goalRecord struct {
	goal   domain.Goal
	cancel context.CancelFunc
}

// Server is the HTTP facade. It is constructed once in main with every
// dependency already wired; it holds no package-level state.
type Server struct {
	orchestrator GoalOrchestrator
	tasks        TaskLister
	fleet        FleetLister
	usage        UsageReporter

	startedAt time.Time

	mu    sync.RWMutex
	goals map[ids.GoalID]*goalRecord

	ready bool
}

// NewServer creates a Server bound to the given components.
func NewServer(orchestrator GoalOrchestrator, tasks TaskLister, fleet FleetLister, usage UsageReporter) *Server {
	return &Server{
		orchestrator: orchestrator,
		tasks:        tasks,
		fleet:        fleet,
		usage:        usage,
		startedAt:    time.Now().UTC(),
		goals:        make(map[ids.GoalID]*goalRecord),
	}
}

// MarkReady flips the readiness flag GET /health reports on, once the
// caller considers the runtime fully initialized (components started,
// config validated).
func (s *Server) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
}

// Routes builds the gin engine and registers every endpoint spec.md §6
// names. Callers run it with engine.Run(addr) or plug it into an
// http.Server of their own.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), gin.Logger(), securityHeaders())

	router.POST("/goals", s.CreateGoal)
	router.GET("/goals/:id", s.GetGoal)
	router.POST("/goals/:id/cancel", s.CancelGoal)
	router.GET("/agents", s.ListAgents)
	router.GET("/uptime", s.Uptime)
	router.GET("/system/stats", s.SystemStats)
	router.GET("/health", s.Health)

	return router
}

// securityHeaders mirrors the teacher's echo-based middleware of the
// same name, translated to gin's handler signature.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// Goals returns a copy of every goal the facade has submitted,
// satisfying pkg/snapshot's GoalSource so the periodic checkpoint
// includes goal state alongside the tasks, plugins, and agents their
// owning components already expose.
func (s *Server) Goals() []domain.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Goal, 0, len(s.goals))
	for _, rec := range s.goals {
		out = append(out, rec.goal)
	}
	return out
}

// Health handles GET /health: 200 once the runtime has been marked
// ready, 503 otherwise (spec.md §6).
func (s *Server) Health(c *gin.Context) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
