package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/healthlattice/healthengine/internal/errs"
	"github.com/healthlattice/healthengine/pkg/validation"
)

// ErrorResponse is the JSON body returned on any handler failure,
// grounded on services/code_buddy/types.go's ErrorResponse.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// writeError maps a core-service error to an HTTP status and JSON body.
// ConsentGateError always maps to 403 and additionally sets
// X-Consent-Error-Reason so the caller never has to parse the body to
// branch on it (§6). InvariantViolation and QualityRejection map to 400;
// BaselineUnavailable maps to 422, or 500 when it is not recoverable;
// AdapterError maps to 502; anything else is a 500.
func writeError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *errs.ConsentGateError:
		c.Header("X-Consent-Error-Reason", e.Code())
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "consent required", Code: e.Code(), Details: e.Error()})
	case *errs.InvariantViolation:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invariant violation", Code: e.Field, Details: e.Error()})
	case *errs.BaselineUnavailable:
		status := http.StatusUnprocessableEntity
		if !e.Recoverable {
			status = http.StatusInternalServerError
		}
		c.JSON(status, ErrorResponse{Error: "baseline unavailable", Code: string(e.ErrorType), Details: e.Error()})
	case *errs.QualityRejection:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "quality rejection", Code: e.Field, Details: e.Error()})
	case *errs.AdapterError:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "provider sync failed", Code: e.Provider, Details: e.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Details: err.Error()})
	}
}

func writeValidationError(c *gin.Context, fields []validation.FieldError) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
}
