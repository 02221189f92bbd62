// Package errors provides the admission error taxonomy and its BPMN mapping.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Admission errors
const (
	ErrCodeValidation              ErrorCode = "VALIDATION_ERROR"
	ErrCodeClassificationDegraded  ErrorCode = "CLASSIFICATION_DEGRADED"
	ErrCodeNoFacilityAvailable     ErrorCode = "NO_FACILITY_AVAILABLE"
	ErrCodeFacilityNotFound        ErrorCode = "FACILITY_NOT_FOUND"
	ErrCodeEntryNotFound           ErrorCode = "ENTRY_NOT_FOUND"
	ErrCodeQueueInvariantViolation ErrorCode = "QUEUE_INVARIANT_VIOLATION"
	ErrCodeAdmissionFailed         ErrorCode = "ADMISSION_FAILED"
	ErrCodeSubmissionRetracted     ErrorCode = "SUBMISSION_RETRACTED"
	ErrCodeMoveRejected            ErrorCode = "MOVE_REJECTED"
	ErrCodeInvalidTransition       ErrorCode = "INVALID_TRANSITION"
)

// Infrastructure errors
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeEventIndexFailed         ErrorCode = "EVENT_INDEX_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches any StandardError carrying the same code, so the sentinels
// below work with errors.Is regardless of details.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns a copy of e with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	cp := *e
	cp.Metadata = make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata[key] = value
	return &cp
}

// Sentinels for errors.Is checks.
var (
	ErrValidation              = &StandardError{Code: ErrCodeValidation}
	ErrNoFacilityAvailable     = &StandardError{Code: ErrCodeNoFacilityAvailable}
	ErrFacilityNotFound        = &StandardError{Code: ErrCodeFacilityNotFound}
	ErrEntryNotFound           = &StandardError{Code: ErrCodeEntryNotFound}
	ErrQueueInvariantViolation = &StandardError{Code: ErrCodeQueueInvariantViolation}
	ErrAdmissionFailed         = &StandardError{Code: ErrCodeAdmissionFailed}
	ErrSubmissionRetracted     = &StandardError{Code: ErrCodeSubmissionRetracted}
	ErrMoveRejected            = &StandardError{Code: ErrCodeMoveRejected}
	ErrInvalidTransition       = &StandardError{Code: ErrCodeInvalidTransition}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError rejects a malformed submission before it enters the pipeline.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidation, "Submission failed validation", details, false)
}

func NewClassificationDegradedError(details string) *StandardError {
	return newError(ErrCodeClassificationDegraded, "Classification fell back to degraded mode", details, false)
}

func NewNoFacilityAvailableError(details string) *StandardError {
	return newError(ErrCodeNoFacilityAvailable, "No active facility available", details, false)
}

func NewFacilityNotFoundError(facilityID string) *StandardError {
	return newError(ErrCodeFacilityNotFound, "Facility not found", fmt.Sprintf("facilityId: %s", facilityID), false)
}

func NewEntryNotFoundError(submissionID string) *StandardError {
	return newError(ErrCodeEntryNotFound, "Queue entry not found", fmt.Sprintf("submissionId: %s", submissionID), false)
}

func NewQueueInvariantViolationError(facilityID, details string) *StandardError {
	return newError(ErrCodeQueueInvariantViolation, "Queue ordering invariant violated",
		fmt.Sprintf("facilityId: %s, %s", facilityID, details), false)
}

// NewAdmissionFailedError reports a queue mutation that could not be committed.
// The submission stays pending for manual intervention.
func NewAdmissionFailedError(submissionID string, err error) *StandardError {
	details := fmt.Sprintf("submissionId: %s", submissionID)
	if err != nil {
		details = fmt.Sprintf("%s, error: %s", details, err.Error())
	}
	return newError(ErrCodeAdmissionFailed, "Admission could not be committed", details, true)
}

func NewSubmissionRetractedError(submissionID string) *StandardError {
	return newError(ErrCodeSubmissionRetracted, "Submission was retracted", fmt.Sprintf("submissionId: %s", submissionID), false)
}

func NewMoveRejectedError(submissionID, reason string) *StandardError {
	return newError(ErrCodeMoveRejected, "Queue move rejected", fmt.Sprintf("submissionId: %s, %s", submissionID, reason), false)
}

func NewInvalidTransitionError(submissionID, from, to string) *StandardError {
	return newError(ErrCodeInvalidTransition, "Invalid queue entry transition",
		fmt.Sprintf("submissionId: %s, %s -> %s", submissionID, from, to), false)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true)
}

func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true)
}

func NewQueryTimeoutError(queryType string) *StandardError {
	return newError(ErrCodeQueryTimeout, "Database query timeout", fmt.Sprintf("queryType: %s", queryType), true)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
}

func NewEventIndexFailedError(err error) *StandardError {
	return newError(ErrCodeEventIndexFailed, "Event indexing failed", err.Error(), true)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidation:               "VALIDATION_ERROR",
	ErrCodeClassificationDegraded:   "CLASSIFICATION_DEGRADED",
	ErrCodeNoFacilityAvailable:      "NO_FACILITY_AVAILABLE",
	ErrCodeFacilityNotFound:         "FACILITY_NOT_FOUND",
	ErrCodeEntryNotFound:            "ENTRY_NOT_FOUND",
	ErrCodeQueueInvariantViolation:  "QUEUE_INVARIANT_VIOLATION",
	ErrCodeAdmissionFailed:          "ADMISSION_FAILED",
	ErrCodeSubmissionRetracted:      "SUBMISSION_RETRACTED",
	ErrCodeMoveRejected:             "MOVE_REJECTED",
	ErrCodeInvalidTransition:        "INVALID_TRANSITION",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryExecutionFailed:     "QUERY_EXECUTION_FAILED",
	ErrCodeQueryTimeout:             "QUERY_TIMEOUT",
	ErrCodeNotificationSendFailed:   "NOTIFICATION_SEND_FAILED",
	ErrCodeEventIndexFailed:         "EVENT_INDEX_FAILED",
}

// GetRetryCount returns the job retry budget for a code. Zero means the
// error is thrown to the process as a BPMN error.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeEventIndexFailed:
		return 3

	case ErrCodeQueryTimeout,
		ErrCodeAdmissionFailed:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// CodeOf extracts the code of a StandardError anywhere in err's chain.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if se, ok := err.(*StandardError); ok {
			return se.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrCodeInternal
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INDEX"):
		return "SEARCH"
	case strings.Contains(codeStr, "FACILITY"):
		return "ROUTING"
	case strings.Contains(codeStr, "ENTRY") || strings.Contains(codeStr, "QUEUE") ||
		strings.Contains(codeStr, "MOVE") || strings.Contains(codeStr, "TRANSITION") ||
		strings.Contains(codeStr, "ADMISSION") || strings.Contains(codeStr, "RETRACTED"):
		return "QUEUE"
	case strings.Contains(codeStr, "CLASSIFICATION"):
		return "TRIAGE"
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
