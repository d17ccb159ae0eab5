// Handlers implement the seven endpoints spec.md §6 names. The
// ShouldBindJSON-then-gin.H-response shape is grounded on the teacher's
// pkg/api/handlers.go CreateAlert/GetSession/CancelSession handlers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
)

// CreateGoal handles POST /goals: registers the goal and runs it to
// terminal state in the background, returning immediately with its id
// and pending status.
func (s *Server) CreateGoal(c *gin.Context) {
	var req CreateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	goalID := ids.NewGoalID()
	goal := domain.Goal{
		ID:          string(goalID),
		Description: req.Description,
		Priority:    req.Priority,
		Deadline:    req.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      domain.GoalPending,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.goals[goalID] = &goalRecord{goal: goal, cancel: cancel}
	s.mu.Unlock()

	go s.runGoal(ctx, goalID, goal)

	c.JSON(http.StatusAccepted, CreateGoalResponse{
		GoalID: string(goalID),
		Status: string(domain.GoalPending),
	})
}

// runGoal drives one goal through the orchestrator and records its
// terminal status, off the request goroutine.
func (s *Server) runGoal(ctx context.Context, goalID ids.GoalID, goal domain.Goal) {
	s.setGoalStatus(goalID, domain.GoalRunning)

	result, err := s.orchestrator.Orchestrate(ctx, goal)
	if err != nil {
		s.setGoalStatus(goalID, domain.GoalFailed)
		return
	}
	s.setGoalStatus(goalID, result.Status)
}

func (s *Server) setGoalStatus(goalID ids.GoalID, status domain.GoalStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.goals[goalID]
	if !ok {
		return
	}
	rec.goal.Status = status
	rec.goal.UpdatedAt = time.Now().UTC()
}

// GetGoal handles GET /goals/{id}: current status plus a per-task
// summary pulled from the scheduler, if tasks have been registered yet.
func (s *Server) GetGoal(c *gin.Context) {
	goalID := ids.GoalID(c.Param("id"))

	s.mu.RLock()
	rec, ok := s.goals[goalID]
	s.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "goal not found"})
		return
	}

	resp := GetGoalResponse{
		GoalID:      rec.goal.ID,
		Description: rec.goal.Description,
		Status:      string(rec.goal.Status),
		Priority:    rec.goal.Priority,
		CreatedAt:   rec.goal.CreatedAt,
		UpdatedAt:   rec.goal.UpdatedAt,
		Tasks:       []TaskSummary{},
	}

	tasks, err := s.tasks.Tasks(goalID)
	if err == nil {
		for _, t := range tasks {
			resp.Tasks = append(resp.Tasks, TaskSummary{
				TaskID:     t.ID,
				Type:       t.Type,
				Status:     string(t.Status),
				ClaimedBy:  t.ClaimedBy,
				RetryCount: t.RetryCount,
				Error:      t.Error,
			})
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CancelGoal handles POST /goals/{id}/cancel. It is idempotent: a
// goal already in a terminal state is reported as-is rather than
// erroring.
func (s *Server) CancelGoal(c *gin.Context) {
	goalID := ids.GoalID(c.Param("id"))

	s.mu.Lock()
	rec, ok := s.goals[goalID]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "goal not found"})
		return
	}
	if rec.goal.Status.IsTerminal() {
		status := rec.goal.Status
		s.mu.Unlock()
		c.JSON(http.StatusOK, CancelGoalResponse{GoalID: string(goalID), Status: string(status)})
		return
	}
	rec.goal.Status = domain.GoalCancelled
	rec.goal.UpdatedAt = time.Now().UTC()
	cancel := rec.cancel
	s.mu.Unlock()

	if err := s.orchestrator.Cancel(goalID); err != nil {
		writeError(c, err)
		return
	}
	cancel()

	c.JSON(http.StatusOK, CancelGoalResponse{GoalID: string(goalID), Status: string(domain.GoalCancelled)})
}

// ListAgents handles GET /agents: a fleet-wide snapshot.
func (s *Server) ListAgents(c *gin.Context) {
	agents := s.fleet.Fleet()
	resp := ListAgentsResponse{Agents: make([]AgentSummary, 0, len(agents))}
	for _, a := range agents {
		resp.Agents = append(resp.Agents, AgentSummary{
			AgentID:       a.ID,
			Role:          string(a.Role),
			Status:        string(a.Status),
			GoalID:        a.GoalID,
			Capabilities:  a.Capabilities,
			CurrentTasks:  len(a.CurrentTasks),
			MaxConcurrent: a.MaxConcurrent,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Uptime handles GET /uptime.
func (s *Server) Uptime(c *gin.Context) {
	s.mu.RLock()
	total, active := 0, 0
	for _, rec := range s.goals {
		total++
		if !rec.goal.Status.IsTerminal() {
			active++
		}
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, UptimeResponse{
		StartTime:     s.startedAt,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Status:        "running",
		GoalsTotal:    total,
		GoalsActive:   active,
	})
}

// SystemStats handles GET /system/stats: resource usage across every
// owner the monitor has ever sampled.
func (s *Server) SystemStats(c *gin.Context) {
	report := s.usage.Report()
	resp := SystemStatsResponse{Owners: make([]OwnerUsage, 0, len(report))}
	for owner, usage := range report {
		axes := make(map[string]AxisUsage, len(usage.Current))
		for axis, current := range usage.Current {
			axes[string(axis)] = AxisUsage{
				Current: current,
				Peak:    usage.Peak[axis],
				Average: usage.Average[axis],
			}
		}
		resp.Owners = append(resp.Owners, OwnerUsage{
			OwnerKind: string(owner.Kind),
			OwnerID:   owner.ID,
			Usage:     axes,
		})
	}
	c.JSON(http.StatusOK, resp)
}
