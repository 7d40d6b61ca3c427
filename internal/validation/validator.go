// Package validation checks ingestion payloads against per-data-type rule
// sets and cleans accepted payloads into canonical form.
//
// Rules are go-playground/validator tags applied to single field values with
// Var, so rule sets stay data rather than struct definitions.
//
// Import Path: dsr.gov.ph/registry/internal/validation
package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// Validator checks a record payload.
type Validator interface {
	Validate(ctx context.Context, dataType domain.DataType, payload domain.Payload) domain.ValidationResult
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, dataType domain.DataType, payload domain.Payload) domain.ValidationResult

// Validate calls f.
func (f Func) Validate(ctx context.Context, dataType domain.DataType, payload domain.Payload) domain.ValidationResult {
	return f(ctx, dataType, payload)
}

// RuleEngine is the production Validator.
type RuleEngine struct {
	mu       sync.RWMutex
	rules    map[domain.DataType][]Rule
	validate *validator.Validate
	now      func() time.Time
}

// Option configures a RuleEngine.
type Option func(*RuleEngine)

// WithClock overrides the clock used by past_date.
func WithClock(now func() time.Time) Option {
	return func(e *RuleEngine) { e.now = now }
}

// WithRules replaces the default rule sets.
func WithRules(rules map[domain.DataType][]Rule) Option {
	return func(e *RuleEngine) { e.rules = rules }
}

// NewRuleEngine creates a RuleEngine with the default rule sets.
func NewRuleEngine(opts ...Option) *RuleEngine {
	e := &RuleEngine{
		rules: DefaultRules(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.validate = newValidate(func() time.Time { return e.now() })
	return e
}

// AddRule appends a rule to a data type's set.
func (e *RuleEngine) AddRule(dataType domain.DataType, rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[dataType] = append(e.rules[dataType], rule)
}

// RemoveRule drops a rule by name.
func (e *RuleEngine) RemoveRule(dataType domain.DataType, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.rules[dataType]
	out := rules[:0]
	for _, r := range rules {
		if r.Name != name {
			out = append(out, r)
		}
	}
	e.rules[dataType] = out
}

// RuleNames lists the rule names for a data type in evaluation order.
func (e *RuleEngine) RuleNames(dataType domain.DataType) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.rules[dataType]))
	for _, r := range e.rules[dataType] {
		names = append(names, r.Name)
	}
	return names
}

// Validate runs the rule set for dataType over payload. Errors are ordered by
// rule declaration.
func (e *RuleEngine) Validate(ctx context.Context, dataType domain.DataType, payload domain.Payload) domain.ValidationResult {
	e.mu.RLock()
	rules, ok := e.rules[dataType]
	rules = append([]Rule(nil), rules...)
	e.mu.RUnlock()

	result := domain.ValidationResult{
		Errors:   []domain.FieldIssue{},
		Warnings: []domain.FieldIssue{},
	}
	if !ok {
		result.Errors = append(result.Errors, domain.FieldIssue{Field: "dataType", Message: "unsupported data type"})
		return result
	}

	failed := make(map[string]bool)
	for _, r := range rules {
		if failed[r.Field] {
			continue
		}
		raw := strings.TrimSpace(payload.String(r.Field))
		if raw == "" && !r.required() {
			continue
		}
		if r.Normalize != nil {
			raw = r.Normalize(raw)
		}
		if e.check(r, raw) {
			continue
		}
		issue := domain.FieldIssue{Field: r.Field, Message: r.Message}
		if r.WarnIf != nil && r.WarnIf(raw) {
			result.Warnings = append(result.Warnings, issue)
			continue
		}
		failed[r.Field] = true
		result.Errors = append(result.Errors, issue)
	}

	result.Warnings = append(result.Warnings, e.crossFieldWarnings(dataType, payload)...)
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		logger.Debug("Record failed validation",
			zap.String("data_type", string(dataType)),
			zap.Int("error_count", len(result.Errors)),
		)
	}
	return result
}

func (e *RuleEngine) check(r Rule, raw string) bool {
	switch r.Kind {
	case KindNumber:
		f, err := ParseNumber(raw)
		if err != nil {
			return false
		}
		return r.Tag == "" || e.validate.Var(f, r.Tag) == nil
	case KindDate:
		t, ok := ParseDate(raw)
		if !ok {
			return false
		}
		return r.Tag == "" || e.validate.Var(t, r.Tag) == nil
	default:
		return r.Tag == "" || e.validate.Var(raw, r.Tag) == nil
	}
}

func (e *RuleEngine) crossFieldWarnings(dataType domain.DataType, payload domain.Payload) []domain.FieldIssue {
	var warnings []domain.FieldIssue
	switch dataType {
	case domain.DataTypeHousehold:
		if payload.Has("memberCount") && payload.Has("totalMembers") {
			mc, err1 := ParseNumber(payload.String("memberCount"))
			tm, err2 := ParseNumber(payload.String("totalMembers"))
			if err1 == nil && err2 == nil && mc != tm {
				warnings = append(warnings, domain.FieldIssue{
					Field:   "totalMembers",
					Message: fmt.Sprintf("Total members (%g) does not match member count (%g)", tm, mc),
				})
			}
		}
	case domain.DataTypeIndividual:
		if dob, ok := ParseDate(payload.String("dateOfBirth")); ok && dob.Before(e.now().AddDate(-120, 0, 0)) {
			warnings = append(warnings, domain.FieldIssue{
				Field:   "dateOfBirth",
				Message: "Date of birth implies an age over 120 years",
			})
		}
	}
	return warnings
}
