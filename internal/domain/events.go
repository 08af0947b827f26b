package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// StepFinishedEvent is published when an attempt records an outcome.
type StepFinishedEvent struct {
	RunID    uuid.UUID  `json:"run_id"`
	StepName string     `json:"step_name"`
	StepKey  string     `json:"step_key"`
	Attempt  int        `json:"attempt"`
	Status   StepStatus `json:"status"`
	Error    string     `json:"error,omitempty"`
}

// RunFinishedEvent is published once a run reaches a terminal status.
type RunFinishedEvent struct {
	RunID        uuid.UUID       `json:"run_id"`
	WorkflowType WorkflowType    `json:"workflow_type"`
	Status       RunStatus       `json:"status"`
	Args         json.RawMessage `json:"args"`
	Error        string          `json:"error,omitempty"`
}
