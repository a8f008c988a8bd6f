// Package thread tracks the lifecycle of workflow runs in an in-process
// registry. Checkpoints are durable; thread status deliberately is not —
// recovery can derive a status from the newest checkpoint's metadata
// after a restart.
package thread

import (
	"maps"
	"time"

	"github.com/xraph/waypoint/id"
)

// Status represents the lifecycle state of a thread.
type Status string

const (
	// StatusActive means the workflow is currently executing.
	StatusActive Status = "active"
	// StatusCompleted means the workflow finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the workflow failed terminally.
	StatusFailed Status = "failed"
	// StatusRejected means a human approver rejected the workflow's
	// decision.
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status is one of the three end states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Thread represents one end-to-end workflow run.
type Thread struct {
	ID         id.ThreadID    `json:"id"`
	UserPrompt string         `json:"user_prompt"`
	Status     Status         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`

	// Result is set when the thread completes.
	Result any `json:"result,omitempty"`

	// Error and ErrorDetails are set when the thread fails.
	Error        string         `json:"error,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`

	// RejectionReason and RejectedBy are set when the thread is rejected.
	RejectionReason string `json:"rejection_reason,omitempty"`
	RejectedBy      string `json:"rejected_by,omitempty"`
}

// clone returns a copy detached from registry state: the maps are cloned
// so a caller mutating the returned thread cannot reach back into the
// registry's entry.
func (t *Thread) clone() *Thread {
	cp := *t
	cp.Metadata = maps.Clone(t.Metadata)
	cp.ErrorDetails = maps.Clone(t.ErrorDetails)
	return &cp
}
