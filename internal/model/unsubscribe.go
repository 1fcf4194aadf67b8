package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttemptStatus is the lifecycle state of an UnsubscribeAttempt.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// ExecutionMethod is the method an unsubscribe execution actually used.
type ExecutionMethod string

const (
	MethodHeader     ExecutionMethod = "header"
	MethodTier2Click ExecutionMethod = "tier2-click"
	MethodManual     ExecutionMethod = "manual"
)

// UnsubscribeAttempt records one automated unsubscribe invocation. The
// latest attempt by AttemptedAt is the current state for a message.
type UnsubscribeAttempt struct {
	ID        string          `json:"id" db:"id"`
	MessageID string          `json:"message_id" db:"message_id"`
	Status    AttemptStatus   `json:"status" db:"status"`
	Method    ExecutionMethod `json:"method" db:"method"`

	// Error is the human-readable failure text for failed attempts.
	Error *string `json:"error,omitempty" db:"error"`

	// ErrorKind classifies a failure, e.g. "blocked" or "ambiguous_result".
	ErrorKind *string `json:"error_kind,omitempty" db:"error_kind"`

	// Evidence is the final screenshot, relative to the artifact root.
	Evidence *string `json:"evidence,omitempty" db:"evidence"`

	// Artifacts lists every stored capture in the order it was taken.
	Artifacts ArtifactRefs `json:"artifacts" db:"artifacts"`

	AttemptedAt time.Time  `json:"attempted_at" db:"attempted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ArtifactRefs is stored as a JSON array.
type ArtifactRefs []string

func (a ArtifactRefs) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (a *ArtifactRefs) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = ArtifactRefs{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scanning artifact refs: unsupported type %T", src)
	}
	refs := ArtifactRefs{}
	if err := json.Unmarshal(data, &refs); err != nil {
		return fmt.Errorf("scanning artifact refs: %w", err)
	}
	*a = refs
	return nil
}
