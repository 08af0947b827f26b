package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WorkflowType string

const (
	WorkflowLookGeneration WorkflowType = "look_generation"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransition reports whether a run may move from s to next.
// Runs only move forward: running -> completed|failed.
func (s RunStatus) CanTransition(next RunStatus) bool {
	return s == RunRunning && next.IsTerminal()
}

// DetachedRunID scopes step executions that belong to no run, such as the
// chat-triggered image batch.
var DetachedRunID = uuid.Nil

type WorkflowRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key;"`
	WorkflowType WorkflowType   `gorm:"type:varchar(50);not null;index"`
	Args         datatypes.JSON `gorm:"type:jsonb;not null"`

	// State
	Status RunStatus `gorm:"type:varchar(20);index;default:'running'"`
	Cursor string    `gorm:"type:varchar(200)"`
	Error  string    `gorm:"type:text"`

	// Audit
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (WorkflowRun) TableName() string {
	return "workflow_runs"
}

// --- FACTORY ---
func NewWorkflowRun(workflowType WorkflowType, args datatypes.JSON) *WorkflowRun {
	return &WorkflowRun{
		ID:           uuid.New(),
		WorkflowType: workflowType,
		Args:         args,
		Status:       RunRunning,
		CreatedAt:    time.Now().UTC(),
	}
}

// --- METHODS ---
func (w *WorkflowRun) IsFinished() bool {
	return w.Status.IsTerminal()
}

// LookGenerationArgs is the immutable input of a look_generation run.
type LookGenerationArgs struct {
	UserID uuid.UUID `json:"userId"`
}
