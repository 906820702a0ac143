package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Hash field names of a job record.
const (
	FieldType           = "Type"
	FieldMethod         = "Method"
	FieldParameterTypes = "ParameterTypes"
	FieldArguments      = "Arguments"
	FieldCreatedAt      = "CreatedAt"
	FieldFetched        = "Fetched"
	FieldChecked        = "Checked"
	FieldState          = "State"
)

// Hash field names of a state record.
const (
	StateFieldName   = "State"
	StateFieldReason = "Reason"
)

// reserved lists fields that are not user parameters.
var reserved = map[string]struct{}{
	FieldType: {}, FieldMethod: {}, FieldParameterTypes: {}, FieldArguments: {},
	FieldCreatedAt: {}, FieldFetched: {}, FieldChecked: {}, FieldState: {},
}

// IsReserved reports whether name is a bookkeeping field rather than a
// job parameter.
func IsReserved(name string) bool {
	_, ok := reserved[name]
	return ok
}

// InvocationData describes what a job runs. All fields are opaque strings
// produced by the host framework's serializer.
type InvocationData struct {
	Type           string `json:"type"`
	Method         string `json:"method"`
	ParameterTypes string `json:"parameterTypes"`
	Arguments      string `json:"arguments"`
}

// Data is a job record as read back from storage.
type Data struct {
	ID         string
	Invocation InvocationData
	Parameters map[string]string
	CreatedAt  time.Time
	// Fetched is zero when the job is not currently claimed.
	Fetched time.Time
	State   string
	// LoadError is set when the invocation payload could not be decoded;
	// the rest of the record is still populated.
	LoadError *LoadError
}

// StateData is the current state record of a job.
type StateData struct {
	Name   string            `json:"name"`
	Reason string            `json:"reason,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
	// CreatedAt is only recorded in the state history.
	CreatedAt time.Time `json:"createdAt"`
}

// MarshalState encodes a state history entry.
func MarshalState(sd StateData) (string, error) {
	b, err := json.Marshal(sd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalState decodes a state history entry.
func UnmarshalState(s string) (StateData, error) {
	var sd StateData
	if err := json.Unmarshal([]byte(s), &sd); err != nil {
		return StateData{}, fmt.Errorf("decode state: %w", err)
	}
	return sd, nil
}

// ErrLoad is matched by every *LoadError.
var ErrLoad = errors.New("job load failed")

// LoadError records why a job's payload could not be decoded.
type LoadError struct {
	JobID string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("job %s: could not load invocation data: %v", e.JobID, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// NewID returns a fresh job id.
func NewID() string { return uuid.NewString() }

// FormatTime renders t as unix milliseconds in base 10, the storage format
// of every timestamp field.
func FormatTime(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// ParseTime is the inverse of FormatTime. ok is false for empty or
// malformed input.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
