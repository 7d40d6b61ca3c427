package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"dsr.gov.ph/registry/internal/api/middleware"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// submitter attributes a request. An authenticated subject always wins over
// a body-supplied name.
func submitter(c *gin.Context, fromBody string) string {
	if p, ok := middleware.PrincipalFrom(c.Request.Context()); ok {
		return p.Subject
	}
	if s := strings.TrimSpace(fromBody); s != "" {
		return s
	}
	return middleware.AnonymousActor
}

// bind decodes the JSON body into obj and reports binding failures as a 400
// with one field error per failed rule.
func bind(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]apperrors.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, apperrors.FieldError{
				Field:   lowerFirst(fe.Field()),
				Code:    fe.Tag(),
				Message: fieldMessage(fe),
			})
		}
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "Request validation failed").
			WithFieldErrors(fields))
		return false
	}

	_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidRequestField, "Malformed request body", http.StatusBadRequest))
	return false
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// queryTime parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
func queryTime(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField,
		fmt.Sprintf("Invalid %s: %q is not a date or RFC 3339 timestamp", name, raw))
}

// queryInt parses an optional non-negative integer.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.BadRequest(apperrors.CodeInvalidRequestField,
			fmt.Sprintf("Invalid %s: %q", name, raw))
	}
	return n, nil
}

func queryLimit(c *gin.Context) (int, error) {
	n, err := queryInt(c, "limit", defaultListLimit)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		n = defaultListLimit
	}
	return min(n, maxListLimit), nil
}

func entityTypeParam(raw string) domain.EntityType {
	return domain.EntityType(strings.ToUpper(strings.TrimSpace(raw)))
}

// responseStatus maps an ingestion outcome to the HTTP status. Processed
// submissions are 201 whatever their business status.
func responseStatus(resp *domain.IngestionResponse, ok int) int {
	if resp.Status == domain.StatusNotFound {
		return http.StatusNotFound
	}
	return ok
}
