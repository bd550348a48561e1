package pipeline

import "fmt"

const (
	CodeConfiguration       = "configuration"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeStoreUnavailable    = "store_unavailable"
	CodeMissingPrerequisite = "missing_prerequisite"
	CodeParseFailure        = "parse_failure"
	CodeValidation          = "validation"
	CodeInternal            = "internal"
)

type Error struct {
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, message string, transient bool) *Error {
	return &Error{Code: code, Message: message, Transient: transient}
}

func NewConfigurationError(message string) error {
	return newError(CodeConfiguration, message, false)
}

func NewUpstreamError(message string, cause error) error {
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	return newError(CodeUpstreamUnavailable, message, true)
}

func NewStoreError(cause error) error {
	return newError(CodeStoreUnavailable, cause.Error(), true)
}

func NewMissingPrerequisiteError(message string) error {
	return newError(CodeMissingPrerequisite, message, false)
}

func NewParseError(message string) error {
	return newError(CodeParseFailure, message, false)
}

func NewInternalError(message string) error {
	return newError(CodeInternal, message, true)
}

// CodeOf classifies any error into a taxonomy code. Unknown errors are
// reported as internal so the invoker never sees an unclassified fault.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*Error); ok {
		return pe.Code
	}
	return CodeInternal
}

// StageResult is what every stage entry point returns to its invoker.
// A stage never propagates an error past its boundary; invocation
// success means "accepted", not "completed".
type StageResult struct {
	Stage      string `json:"stage"`
	DocumentID string `json:"document_id"`
	RunID      string `json:"run_id"`
	Success    bool   `json:"success"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func SuccessResult(stage, documentID, runID, detail string) StageResult {
	return StageResult{Stage: stage, DocumentID: documentID, RunID: runID, Success: true, Detail: detail}
}

func FailureResult(stage, documentID, runID string, err error) StageResult {
	return StageResult{
		Stage:      stage,
		DocumentID: documentID,
		RunID:      runID,
		Success:    false,
		ErrorCode:  CodeOf(err),
		Error:      err.Error(),
	}
}
