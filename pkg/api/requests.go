package api

import "time"

// CreateGoalRequest is the body of POST /goals (spec.md §6).
type CreateGoalRequest struct {
	Description          string     `json:"description" binding:"required"`
	Priority             int        `json:"priority"`
	Deadline             *time.Time `json:"deadline"`
	RequiredCapabilities []string   `json:"required_capabilities"`
}
