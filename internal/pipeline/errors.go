package pipeline

import (
	"errors"
	"net/http"

	"github.com/AdamLaszab/zadanie-skuska/internal/capability"
	"github.com/AdamLaszab/zadanie-skuska/internal/invoke"
	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
	"github.com/AdamLaszab/zadanie-skuska/internal/resolve"
	"github.com/AdamLaszab/zadanie-skuska/internal/workspace"
)

// Error codes returned to clients.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeWorkspaceCreation = "WORKSPACE_CREATION_FAILED"
	CodeStaging           = "STAGING_FAILED"
	CodeProcessing        = "PROCESSING_FAILED"
	CodeProcessingTimeout = "PROCESSING_TIMEOUT"
	CodeOutputMissing     = "PROCESSING_OUTPUT_MISSING"
	CodeTokenInvalid      = "DOWNLOAD_TOKEN_INVALID"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorInfo is how a pipeline error is presented.
type ErrorInfo struct {
	Status  int
	Code    string
	Message string
	// Outcome labels the batches_total metric.
	Outcome string
	Details map[string]any
}

// Classify maps err onto the client-facing taxonomy.
func Classify(err error) ErrorInfo {
	var (
		validationErr *operation.ValidationError
		creationErr   *workspace.CreationError
		stagingErr    *workspace.StagingError
		execErr       *invoke.ExecutionError
		missingErr    *resolve.OutputMissingError
	)

	switch {
	case errors.As(err, &validationErr):
		return ErrorInfo{
			Status:  http.StatusUnprocessableEntity,
			Code:    CodeValidation,
			Message: validationErr.Error(),
			Outcome: "invalid",
			Details: map[string]any{"field": validationErr.Field},
		}
	case errors.As(err, &creationErr):
		return ErrorInfo{
			Status:  http.StatusInternalServerError,
			Code:    CodeWorkspaceCreation,
			Message: "could not create batch workspace",
			Outcome: "workspace_error",
		}
	case errors.As(err, &stagingErr):
		return ErrorInfo{
			Status:  http.StatusInternalServerError,
			Code:    CodeStaging,
			Message: "could not stage uploaded file",
			Outcome: "staging_error",
			Details: map[string]any{"file": stagingErr.OriginalName},
		}
	case errors.As(err, &execErr):
		info := ErrorInfo{
			Status:  http.StatusInternalServerError,
			Code:    CodeProcessing,
			Message: execErr.Error(),
			Outcome: "tool_error",
			Details: map[string]any{"reason": string(execErr.Reason)},
		}
		switch execErr.Reason {
		case invoke.ReasonTimeout:
			info.Status = http.StatusGatewayTimeout
			info.Code = CodeProcessingTimeout
			info.Outcome = "timeout"
		case invoke.ReasonCanceled:
			info.Outcome = "canceled"
		case invoke.ReasonExit:
			info.Details["exit_code"] = execErr.ExitCode
			info.Details["exit_label"] = invoke.ExitLabel(execErr.ExitCode)
			info.Details["stderr"] = execErr.Stderr
			if len(execErr.Diagnostics) > 0 {
				info.Details["diagnostics"] = execErr.Diagnostics
			}
		}
		return info
	case errors.As(err, &missingErr):
		return ErrorInfo{
			Status:  http.StatusInternalServerError,
			Code:    CodeOutputMissing,
			Message: "output file was not created after processing",
			Outcome: "output_missing",
			Details: outputMissingDetails(missingErr),
		}
	case errors.Is(err, capability.ErrNotFound):
		return ErrorInfo{
			Status:  http.StatusNotFound,
			Code:    CodeTokenInvalid,
			Message: capability.ErrNotFound.Error(),
			Outcome: "not_found",
		}
	}
	return ErrorInfo{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "internal error",
		Outcome: "error",
	}
}

// outputMissingDetails names both candidate paths relative to the
// workspace.
func outputMissingDetails(e *resolve.OutputMissingError) map[string]any {
	hint, reported := e.Candidates()
	details := map[string]any{"expected_output": hint}
	if reported != "" {
		details["reported_output"] = reported
	}
	return details
}
