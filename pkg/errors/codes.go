package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes follow the "<MODULE>_<NNN>" convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeMessageQueueError  ErrorCode = "COMMON_014"
	ErrCodeConfigInvalid      ErrorCode = "COMMON_015"
	ErrCodeCancelled          ErrorCode = "COMMON_016"
)

const (
	CodeUnknown = ErrorCode("UNKNOWN")
	CodeOK      = ErrorCode("OK")
)

// Tabular I/O Error Codes
const (
	ErrCodeFileUnreadable   ErrorCode = "TBL_001"
	ErrCodeMissingColumn    ErrorCode = "TBL_002"
	ErrCodeColumnType       ErrorCode = "TBL_003"
	ErrCodeDuplicateKey     ErrorCode = "TBL_004"
	ErrCodeRowWidth         ErrorCode = "TBL_005"
	ErrCodeColumnInference  ErrorCode = "TBL_006"
	ErrCodeDuplicateColumn  ErrorCode = "TBL_007"
	ErrCodeTableWriteFailed ErrorCode = "TBL_008"
)

// Growth Calibration Error Codes
const (
	ErrCodeInsufficientPoints ErrorCode = "CAL_001"
	ErrCodeFitNonConvergence  ErrorCode = "CAL_002"
	ErrCodeFitNumeric         ErrorCode = "CAL_003"
)

// Sensitivity Estimation Error Codes
const (
	ErrCodeInsufficientSamples  ErrorCode = "SEN_001"
	ErrCodeDegenerateRegression ErrorCode = "SEN_002"
)

// Composite Index Error Codes
const (
	ErrCodeSingularDesign    ErrorCode = "CMP_001"
	ErrCodeInsufficientRows  ErrorCode = "CMP_002"
	ErrCodeDimensionMismatch ErrorCode = "CMP_003"
)

// Scenario Generation Error Codes
const (
	ErrCodeUnknownPolicy   ErrorCode = "SCN_001"
	ErrCodeInvalidBaseline ErrorCode = "SCN_002"
)

// Projection Error Codes
const (
	ErrCodeMissingParameters ErrorCode = "PRJ_001"
	ErrCodeUnknownMode       ErrorCode = "PRJ_002"
	ErrCodeNoCommonYears     ErrorCode = "PRJ_003"
)

// Run / artifact Error Codes
const (
	ErrCodeRunNotFound         ErrorCode = "RUN_001"
	ErrCodeArtifactNotFound    ErrorCode = "RUN_002"
	ErrCodeArtifactWriteFailed ErrorCode = "RUN_003"
	ErrCodeStageFailed         ErrorCode = "RUN_004"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeMessageQueueError:  http.StatusInternalServerError,
	ErrCodeConfigInvalid:      http.StatusInternalServerError,
	ErrCodeCancelled:          http.StatusRequestTimeout,

	ErrCodeFileUnreadable:   http.StatusBadRequest,
	ErrCodeMissingColumn:    http.StatusUnprocessableEntity,
	ErrCodeColumnType:       http.StatusUnprocessableEntity,
	ErrCodeDuplicateKey:     http.StatusUnprocessableEntity,
	ErrCodeRowWidth:         http.StatusUnprocessableEntity,
	ErrCodeColumnInference:  http.StatusUnprocessableEntity,
	ErrCodeDuplicateColumn:  http.StatusUnprocessableEntity,
	ErrCodeTableWriteFailed: http.StatusInternalServerError,

	ErrCodeInsufficientPoints: http.StatusUnprocessableEntity,
	ErrCodeFitNonConvergence:  http.StatusUnprocessableEntity,
	ErrCodeFitNumeric:         http.StatusUnprocessableEntity,

	ErrCodeInsufficientSamples:  http.StatusUnprocessableEntity,
	ErrCodeDegenerateRegression: http.StatusUnprocessableEntity,

	ErrCodeSingularDesign:    http.StatusUnprocessableEntity,
	ErrCodeInsufficientRows:  http.StatusUnprocessableEntity,
	ErrCodeDimensionMismatch: http.StatusBadRequest,

	ErrCodeUnknownPolicy:   http.StatusBadRequest,
	ErrCodeInvalidBaseline: http.StatusUnprocessableEntity,

	ErrCodeMissingParameters: http.StatusUnprocessableEntity,
	ErrCodeUnknownMode:       http.StatusBadRequest,
	ErrCodeNoCommonYears:     http.StatusUnprocessableEntity,

	ErrCodeRunNotFound:         http.StatusNotFound,
	ErrCodeArtifactNotFound:    http.StatusNotFound,
	ErrCodeArtifactWriteFailed: http.StatusInternalServerError,
	ErrCodeStageFailed:         http.StatusUnprocessableEntity,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "operation timed out",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeMessageQueueError:  "message queue error",
	ErrCodeConfigInvalid:      "invalid configuration",
	ErrCodeCancelled:          "operation cancelled",

	ErrCodeFileUnreadable:   "input file unreadable",
	ErrCodeMissingColumn:    "required column missing",
	ErrCodeColumnType:       "column has wrong type",
	ErrCodeDuplicateKey:     "duplicate key",
	ErrCodeRowWidth:         "row width does not match header",
	ErrCodeColumnInference:  "could not infer column",
	ErrCodeDuplicateColumn:  "duplicate column name",
	ErrCodeTableWriteFailed: "failed to write table",

	ErrCodeInsufficientPoints: "insufficient points for curve fit",
	ErrCodeFitNonConvergence:  "curve fit did not converge",
	ErrCodeFitNumeric:         "curve fit produced non-finite values",

	ErrCodeInsufficientSamples:  "insufficient samples for sensitivity regression",
	ErrCodeDegenerateRegression: "sensitivity regression is degenerate",

	ErrCodeSingularDesign:    "composite design matrix is singular",
	ErrCodeInsufficientRows:  "insufficient rows for composite regression",
	ErrCodeDimensionMismatch: "pollutant vector dimension mismatch",

	ErrCodeUnknownPolicy:   "unknown scenario policy",
	ErrCodeInvalidBaseline: "invalid scenario baseline",

	ErrCodeMissingParameters: "projection parameters missing",
	ErrCodeUnknownMode:       "unknown projection mode",
	ErrCodeNoCommonYears:     "no common years across scenarios",

	ErrCodeRunNotFound:         "run not found",
	ErrCodeArtifactNotFound:    "artifact not found",
	ErrCodeArtifactWriteFailed: "failed to write artifact",
	ErrCodeStageFailed:         "pipeline stage failed",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
