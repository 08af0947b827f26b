package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type StepStatus string

const (
	StepPending         StepStatus = "pending"
	StepSucceeded       StepStatus = "succeeded"
	StepFailedRetryable StepStatus = "failed_retryable"
	StepFailedTerminal  StepStatus = "failed_terminal"
)

func (s StepStatus) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailedTerminal
}

// StepExecution is the checkpoint of one (run, step name, step key) triple.
// Attempt is 0 for a placeholder that has never been claimed.
type StepExecution struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;"`
	RunID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_step_identity"`
	StepName string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_step_identity"`
	StepKey  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_step_identity"`

	Attempt int        `gorm:"default:0"`
	Status  StepStatus `gorm:"type:varchar(20);index;default:'pending'"`
	Version int        `gorm:"default:1"`

	Result    datatypes.JSON `gorm:"type:jsonb"`
	Error     string         `gorm:"type:text"`
	ErrorKind ErrorKind      `gorm:"type:varchar(30)"`

	ClaimedBy      *string `gorm:"type:varchar(100)"`
	LeaseExpiresAt *time.Time

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (StepExecution) TableName() string {
	return "step_executions"
}

func NewStepExecution(runID uuid.UUID, stepName, stepKey string) *StepExecution {
	return &StepExecution{
		ID:        uuid.New(),
		RunID:     runID,
		StepName:  stepName,
		StepKey:   stepKey,
		Status:    StepPending,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
}

// Ref identifies the step for logs and the run cursor.
func (s *StepExecution) Ref() string {
	return fmt.Sprintf("%s/%s", s.StepName, s.StepKey)
}

// Claimable reports whether a new attempt may start at now.
func (s *StepExecution) Claimable(now time.Time) bool {
	switch s.Status {
	case StepFailedRetryable:
		return true
	case StepPending:
		return s.Attempt == 0 || s.LeaseExpiresAt == nil || !now.Before(*s.LeaseExpiresAt)
	default:
		return false
	}
}

// StepClaim starts attempt Attempt on a step held at ExpectedVersion.
type StepClaim struct {
	StepID          uuid.UUID
	ExpectedVersion int
	Attempt         int
	Owner           string
	StartedAt       time.Time
	LeaseExpiresAt  time.Time
}

// StepOutcome is the result of one attempt. It is written only if the step is
// still at ExpectedVersion, the version set by the matching claim.
type StepOutcome struct {
	StepID          uuid.UUID
	RunID           uuid.UUID
	StepName        string
	StepKey         string
	ExpectedVersion int
	Attempt         int
	Status          StepStatus
	Result          datatypes.JSON
	Error           string
	ErrorKind       ErrorKind
	FinishedAt      time.Time
}

// Apply returns a copy of step with the outcome written over it.
func (o StepOutcome) Apply(step StepExecution) StepExecution {
	finished := o.FinishedAt
	step.Attempt = o.Attempt
	step.Status = o.Status
	step.Result = o.Result
	step.Error = o.Error
	step.ErrorKind = o.ErrorKind
	step.Version = o.ExpectedVersion + 1
	step.FinishedAt = &finished
	step.LeaseExpiresAt = nil
	step.UpdatedAt = finished
	return step
}

// Apply returns a copy of step with the claim written over it.
func (c StepClaim) Apply(step StepExecution) StepExecution {
	started := c.StartedAt
	lease := c.LeaseExpiresAt
	owner := c.Owner
	step.Attempt = c.Attempt
	step.Status = StepPending
	step.Version = c.ExpectedVersion + 1
	step.ClaimedBy = &owner
	step.StartedAt = &started
	step.LeaseExpiresAt = &lease
	step.FinishedAt = nil
	step.UpdatedAt = started
	return step
}
