package task

import (
	"fmt"
	"strings"
)

// Status is the execution lifecycle state. pending is the only initial
// state; completed and failed are terminal and never left again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrorKind distinguishes why an execution failed.
type ErrorKind string

const (
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindExecutor       ErrorKind = "executor_error"
	ErrKindInfrastructure ErrorKind = "infrastructure"
	ErrKindValidation     ErrorKind = "validation"
)

// Template is a reusable task definition. It is never executed
// directly; executions are instantiated from it.
type Template struct {
	ID         string
	Name       string
	TaskType   string
	Prompt     string
	Extensions []string
	CreatedAt  int64
	UpdatedAt  int64
}

// Execution is one concrete run derived from a template and a context.
type Execution struct {
	ID               string
	UserID           string
	TemplateID       string
	TaskType         string
	Prompt           string
	Context          map[string]string
	Extensions       []string
	Result           string
	ExtensionsOutput map[string]interface{}
	Status           Status
	Error            string
	ErrorKind        ErrorKind
	CreatedAt        int64
	CompletedAt      int64
}

// TemplateRenderError reports placeholders with no context entry. A
// prompt is never partially rendered.
type TemplateRenderError struct {
	Missing []string
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("unresolved template placeholders: %s", strings.Join(e.Missing, ", "))
}
