// Package errors provides standardized error handling for the
// recommendation pipeline and its BPMN workflow integration.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Facet resolution. LOCATION_NOT_FOUND is the single fatal extraction
	// outcome; keyword extraction failures are soft-failed at the call site.
	ErrCodeLocationNotFound      ErrorCode = "LOCATION_NOT_FOUND"
	ErrCodeGeocodingFailed       ErrorCode = "GEOCODING_FAILED"
	ErrCodeFacetExtractionFailed ErrorCode = "FACET_EXTRACTION_FAILED"

	// Catalog service.
	ErrCodeCatalogQueryFailed ErrorCode = "CATALOG_QUERY_FAILED"
	ErrCodeCatalogTimeout     ErrorCode = "CATALOG_TIMEOUT"
	ErrCodeCatalogAuthFailed  ErrorCode = "CATALOG_AUTH_FAILED"

	// Oracle (completion API).
	ErrCodeOracleTimeout    ErrorCode = "ORACLE_TIMEOUT"
	ErrCodeCompletionFailed ErrorCode = "COMPLETION_FAILED"

	// Judging. Parse failures are recovered as error-marker records, never
	// surfaced as stage failures.
	ErrCodeJudgeParseFailed ErrorCode = "JUDGE_PARSE_FAILED"

	// Ranking.
	ErrCodeRankingFailed ErrorCode = "RANKING_FAILED"

	// Persistence.
	ErrCodeStateNotFound      ErrorCode = "STATE_NOT_FOUND"
	ErrCodeStateStoreFailed   ErrorCode = "STATE_STORE_FAILED"
	ErrCodeHistoryWriteFailed ErrorCode = "HISTORY_WRITE_FAILED"

	// Generic infrastructure.
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"
	ErrCodeNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeBusinessRule    ErrorCode = "BUSINESS_RULE_VIOLATION"
	ErrCodeAuthentication  ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
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
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

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

	if e.ErrorVariables != nil {
		for k, v := range e.ErrorVariables {
			vars[k] = v
		}
	}

	return vars
}

// ConvertToBPMNError maps a StandardError onto a BPMNError.
func ConvertToBPMNError(err *StandardError) *BPMNError {
	return &BPMNError{
		Code:      string(err.Code),
		Message:   err.Message,
		Details:   err.Details,
		Retryable: err.Retryable,
		Retries:   GetRetryCount(err.Code),
	}
}

// ==========================
// 3. Error Constructors
// ==========================

// NewLocationNotFoundError creates the non-retryable, user-facing error for
// requests with no recognizable location.
func NewLocationNotFoundError(userText string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLocationNotFound,
		Message:   "No location could be recognized in the request",
		Details:   fmt.Sprintf("userText: %s", userText),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGeocodingFailedError creates a non-retryable geocoding error. The
// pipeline treats it like a missing location: the terminal branch.
func NewGeocodingFailedError(location string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGeocodingFailed,
		Message:   "Location could not be geocoded",
		Details:   fmt.Sprintf("location: %s, error: %v", location, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewFacetExtractionFailedError creates a retryable extraction error.
func NewFacetExtractionFailedError(facet string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeFacetExtractionFailed,
		Message:   "Facet extraction call failed",
		Details:   fmt.Sprintf("facet: %s, error: %v", facet, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCatalogQueryFailedError creates a retryable catalog error.
func NewCatalogQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogQueryFailed,
		Message:   "Catalog query failed",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCatalogTimeoutError creates a retryable catalog timeout error.
func NewCatalogTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogTimeout,
		Message:   "Catalog query timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewOracleTimeoutError creates a retryable completion timeout error.
func NewOracleTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOracleTimeout,
		Message:   "Completion API timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCompletionFailedError creates a retryable completion error.
func NewCompletionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCompletionFailed,
		Message:   "Completion API call failed",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewJudgeParseFailedError creates a non-retryable judge parse error.
func NewJudgeParseFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeJudgeParseFailed,
		Message:   "Judge response could not be parsed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStateNotFoundError creates a non-retryable state lookup error.
func NewStateNotFoundError(requestID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStateNotFound,
		Message:   "No stored pipeline state for request",
		Details:   fmt.Sprintf("requestId: %s", requestID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStateStoreFailedError creates a retryable state store error.
func NewStateStoreFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStateStoreFailed,
		Message:   "Pipeline state store error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewHistoryWriteFailedError creates a retryable history persistence error.
func NewHistoryWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeHistoryWriteFailed,
		Message:   "Run history write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// --- Generic infra constructors, used by the Camunda client error mapping ---

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service %s error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Timeout calling %s", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewBusinessRuleError(details, message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBusinessRule,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewAuthenticationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthentication,
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Retry Policy
// ==========================

// GetRetryCount returns how many retries a given error code deserves when
// thrown back at the workflow engine.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCatalogTimeout, ErrCodeOracleTimeout, ErrCodeTimeout:
		return 1
	case ErrCodeCatalogQueryFailed, ErrCodeCompletionFailed,
		ErrCodeFacetExtractionFailed, ErrCodeExternalService,
		ErrCodeStateStoreFailed, ErrCodeHistoryWriteFailed:
		return 2
	default:
		return 0
	}
}

// GetErrorCategory buckets error codes for logging and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeLocationNotFound, ErrCodeGeocodingFailed:
		return "resolution"
	case ErrCodeCatalogQueryFailed, ErrCodeCatalogTimeout, ErrCodeCatalogAuthFailed:
		return "catalog"
	case ErrCodeOracleTimeout, ErrCodeCompletionFailed, ErrCodeFacetExtractionFailed:
		return "oracle"
	case ErrCodeJudgeParseFailed:
		return "judging"
	case ErrCodeStateNotFound, ErrCodeStateStoreFailed, ErrCodeHistoryWriteFailed:
		return "persistence"
	default:
		return "infrastructure"
	}
}
