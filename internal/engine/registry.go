package engine

import (
	"context"
	"fmt"
	"sync"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/retry"
)

// StepHandler is the blueprint for any function that does work.
// Input and result are JSON documents.
type StepHandler func(ctx context.Context, input []byte) ([]byte, error)

// StepDefinition is a registered step.
type StepDefinition struct {
	Name    string
	Handler StepHandler
	Policy  retry.Policy

	// Expensive steps call a rate-limited model and hold a limiter token
	// for the whole handler call.
	Expensive bool

	// Project, when set, runs in the same store transaction as every claim
	// and outcome write of this step.
	Project ports.Projection
}

type StepOption func(*StepDefinition)

func Expensive() StepOption {
	return func(d *StepDefinition) { d.Expensive = true }
}

func WithProjection(p ports.Projection) StepOption {
	return func(d *StepDefinition) { d.Project = p }
}

// Workflow is a named multi-step business process. Run returning an error
// fails the run; returning nil completes it.
type Workflow interface {
	Type() domain.WorkflowType
	Run(ctx context.Context, rc *RunContext) error
}

// Registry holds the executable steps and workflows.
type Registry struct {
	mu        sync.RWMutex
	steps     map[string]StepDefinition
	workflows map[domain.WorkflowType]Workflow
}

func NewRegistry() *Registry {
	return &Registry{
		steps:     make(map[string]StepDefinition),
		workflows: make(map[domain.WorkflowType]Workflow),
	}
}

// Register adds a step. Zero policy fields take the defaults.
func (r *Registry) Register(name string, handler StepHandler, policy retry.Policy, opts ...StepOption) error {
	if name == "" || handler == nil {
		return fmt.Errorf("register step %q: name and handler are required", name)
	}

	def := StepDefinition{
		Name:    name,
		Handler: handler,
		Policy:  policy.WithDefaults(),
	}
	for _, opt := range opts {
		opt(&def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[name]; exists {
		return fmt.Errorf("register step %q: already registered", name)
	}
	r.steps[name] = def
	return nil
}

func (r *Registry) Step(name string) (StepDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.steps[name]
	return def, ok
}

func (r *Registry) RegisterWorkflow(wf Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workflows[wf.Type()]; exists {
		return fmt.Errorf("register workflow %q: already registered", wf.Type())
	}
	r.workflows[wf.Type()] = wf
	return nil
}

func (r *Registry) Workflow(t domain.WorkflowType) (Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[t]
	return wf, ok
}
