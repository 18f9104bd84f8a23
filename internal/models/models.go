package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gorm.io/gorm"
)

type StepType string

const (
	StepNavigate StepType = "navigate"
	StepClick    StepType = "click"
	StepInput    StepType = "input"
	StepWait     StepType = "wait"
)

// Step is one recorded or replayable browser interaction.
type Step struct {
	Type      StepType `json:"type"`
	Selector  string   `json:"selector,omitempty"`
	Value     string   `json:"value,omitempty"`
	TagName   string   `json:"tagName,omitempty"`
	Text      string   `json:"text,omitempty"`
	InputType string   `json:"inputType,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Validate checks that a step carries what its type needs at replay time.
func (s Step) Validate() error {
	switch s.Type {
	case StepClick, StepInput:
		if s.Selector == "" {
			return fmt.Errorf("%s step requires a selector", s.Type)
		}
	case StepNavigate:
		u, err := url.Parse(s.Value)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("navigate step requires an absolute URL, got %q", s.Value)
		}
	case StepWait:
		if _, err := s.WaitDuration(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// WaitDuration parses the value of a wait step as milliseconds.
func (s Step) WaitDuration() (time.Duration, error) {
	ms, err := strconv.Atoi(s.Value)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("wait step requires a non-negative millisecond value, got %q", s.Value)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

type WorkflowStatus string

const (
	WorkflowDraft   WorkflowStatus = "draft"
	WorkflowActive  WorkflowStatus = "active"
	WorkflowHealthy WorkflowStatus = "healthy"
	WorkflowBroken  WorkflowStatus = "broken"
)

// Workflow is the persisted, ordered collection of steps.
type Workflow struct {
	ID            string         `json:"id" gorm:"primarykey;size:36"`
	Name          string         `json:"name" gorm:"size:200;not null"`
	StartURL      string         `json:"startUrl,omitempty" gorm:"size:1000"`
	Steps         []Step         `json:"steps" gorm:"-"`
	StepsJSON     string         `json:"-" gorm:"column:steps;type:longtext"`
	Status        WorkflowStatus `json:"status" gorm:"size:20;index"`
	SlowMode      bool           `json:"slowMode" gorm:"default:false"`
	UsageCount    int            `json:"usageCount" gorm:"default:0"`
	Schedule      string         `json:"schedule,omitempty" gorm:"size:100"`
	LastRunAt     *time.Time     `json:"lastRunAt,omitempty"`
	LastRunStatus RunStatus      `json:"lastRunStatus,omitempty" gorm:"size:20"`
	LastError     string         `json:"lastError,omitempty" gorm:"type:text"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

func (w *Workflow) BeforeSave(tx *gorm.DB) error {
	steps := w.Steps
	if steps == nil {
		steps = []Step{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	w.StepsJSON = string(data)
	return nil
}

func (w *Workflow) AfterFind(tx *gorm.DB) error {
	steps, err := DecodeSteps(w.StepsJSON)
	if err != nil {
		return err
	}
	w.Steps = steps
	return nil
}

// DecodeSteps parses a JSON step array; an empty string yields no steps.
func DecodeSteps(data string) ([]Step, error) {
	steps := make([]Step, 0)
	if data == "" {
		return steps, nil
	}
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return steps, nil
}

// Export is the import/export document for a workflow.
type Export struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	StartURL   string         `json:"startUrl,omitempty"`
	Steps      []Step         `json:"steps"`
	Status     WorkflowStatus `json:"status"`
	SlowMode   bool           `json:"slowMode"`
	UsageCount int            `json:"usageCount"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (w *Workflow) Export() Export {
	steps := w.Steps
	if steps == nil {
		steps = []Step{}
	}
	return Export{
		ID:         w.ID,
		Name:       w.Name,
		StartURL:   w.StartURL,
		Steps:      steps,
		Status:     w.Status,
		SlowMode:   w.SlowMode,
		UsageCount: w.UsageCount,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPassed    RunStatus = "passed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one replay of a workflow.
type Run struct {
	ID           uint       `json:"id" gorm:"primarykey"`
	WorkflowID   string     `json:"workflowId" gorm:"size:36;index;not null"`
	Trigger      string     `json:"trigger" gorm:"size:20"` // manual, schedule
	Status       RunStatus  `json:"status" gorm:"size:20;index"`
	FailedStep   int        `json:"failedStep,omitempty"` // 1-based, 0 when none failed
	ErrorMessage string     `json:"errorMessage,omitempty" gorm:"type:text"`
	Logs         []RunLog   `json:"logs" gorm:"-"`
	LogsJSON     string     `json:"-" gorm:"column:logs;type:longtext"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Duration     int64      `json:"duration"` // milliseconds
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (r *Run) BeforeSave(tx *gorm.DB) error {
	logs := r.Logs
	if logs == nil {
		logs = []RunLog{}
	}
	data, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encode run logs: %w", err)
	}
	r.LogsJSON = string(data)
	return nil
}

func (r *Run) AfterFind(tx *gorm.DB) error {
	r.Logs = make([]RunLog, 0)
	if r.LogsJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(r.LogsJSON), &r.Logs)
}

// RunLog is one log line of a run, optionally tied to a step.
type RunLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	StepIndex   int       `json:"stepIndex"` // 0-based, -1 for run-level lines
	StepType    StepType  `json:"stepType,omitempty"`
	StepStatus  string    `json:"stepStatus,omitempty"` // running, success, failed
	Selector    string    `json:"selector,omitempty"`
	Value       string    `json:"value,omitempty"`
	Duration    int64     `json:"duration,omitempty"` // milliseconds
	ErrorDetail string    `json:"errorDetail,omitempty"`
}
