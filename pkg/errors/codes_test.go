package errors

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "COMMON_001", ErrCodeInternal.String())
	assert.Equal(t, "CAL_002", ErrCodeFitNonConvergence.String())
}

func TestHTTPStatusForCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeInternal, 500},
		{ErrCodeBadRequest, 400},
		{ErrCodeNotFound, 404},
		{ErrCodeRunNotFound, 404},
		{ErrCodeValidation, 422},
		{ErrCodeInsufficientSamples, 422},
		{ErrCodeUnknownPolicy, 400},
		{ErrorCode("UNKNOWN"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatusForCode(tt.code), string(tt.code))
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "internal error", DefaultMessageForCode(ErrCodeInternal))
	assert.Equal(t, "curve fit did not converge", DefaultMessageForCode(ErrCodeFitNonConvergence))
	assert.Equal(t, "unknown error", DefaultMessageForCode(ErrorCode("UNKNOWN")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeBadRequest))
	assert.True(t, IsClientError(ErrCodeMissingColumn))
	assert.False(t, IsClientError(ErrCodeInternal))
}

func TestIsServerError(t *testing.T) {
	assert.True(t, IsServerError(ErrCodeInternal))
	assert.True(t, IsServerError(ErrCodeArtifactWriteFailed))
	assert.False(t, IsServerError(ErrCodeBadRequest))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
	assert.Equal(t, "TBL", ModuleForCode(ErrCodeMissingColumn))
	assert.Equal(t, "CAL", ModuleForCode(ErrCodeInsufficientPoints))
	assert.Equal(t, "SEN", ModuleForCode(ErrCodeInsufficientSamples))
	assert.Equal(t, "CMP", ModuleForCode(ErrCodeSingularDesign))
	assert.Equal(t, "SCN", ModuleForCode(ErrCodeUnknownPolicy))
	assert.Equal(t, "PRJ", ModuleForCode(ErrCodeMissingParameters))
	assert.Equal(t, "RUN", ModuleForCode(ErrCodeStageFailed))
	assert.Equal(t, "UNKNOWN", ModuleForCode(ErrorCode("")))
	assert.Equal(t, "UNKNOWN", ModuleForCode(CodeUnknown))
}

func TestErrorCodeFormat_Convention(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z]+_\d{3}$`)
	for code := range ErrorCodeHTTPStatus {
		assert.True(t, pattern.MatchString(string(code)), "ErrorCode %s does not match format", code)
	}
}

func TestErrorCodeMaps_Consistency(t *testing.T) {
	for code := range ErrorCodeHTTPStatus {
		_, ok := ErrorCodeMessage[code]
		assert.True(t, ok, "ErrorCode %s missing in message map", code)
	}
	for code := range ErrorCodeMessage {
		_, ok := ErrorCodeHTTPStatus[code]
		assert.True(t, ok, "ErrorCode %s missing in HTTP status map", code)
	}
}
