package modemcfg

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Global validator instance
var validate = validator.New()

// ValidationError represents a field-level validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "model validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("model validation failed: %s", strings.Join(messages, "; "))
}

// Validate checks the document's struct tags and cross-field rules.
// It returns a *ValidationErrors carrying every violation found.
func (m *Model) Validate() error {
	errs := &ValidationErrors{}

	if err := validate.Struct(m); err != nil {
		for _, e := range err.(validator.ValidationErrors) {
			errs.Errors = append(errs.Errors, ValidationError{
				Field:   toSnakeCase(e.Field()),
				Message: formatValidationMessage(e),
			})
		}
	}

	m.crossValidate(errs)

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

// crossValidate enforces rules that span fields: strategy blocks must
// match the declared strategy, paradigms must declare their data source,
// restart actions must carry their kind's target.
func (m *Model) crossValidate(errs *ValidationErrors) {
	add := func(field, message string) {
		errs.Errors = append(errs.Errors, ValidationError{Field: field, Message: message})
	}

	switch m.Auth.Strategy {
	case StrategyForm:
		if m.Auth.Form == nil {
			add("auth.form", "form block is required when strategy is form")
		}
	case StrategyHNAP:
		if m.Paradigm != ParadigmHNAP {
			add("auth.strategy", "hnap strategy requires the hnap paradigm")
		}
	case StrategyURLToken:
		if m.Auth.URLToken == nil {
			add("auth.url_token", "url_token block is required when strategy is urltoken")
		}
	}

	if m.Auth.URLToken != nil && !m.Auth.URLToken.TokenInBody && m.Auth.URLToken.TokenCookie == "" {
		add("auth.url_token.token_cookie", "token_cookie is required unless token_in_body is set")
	}

	switch m.Paradigm {
	case ParadigmHNAP:
		if m.Auth.Strategy != StrategyHNAP {
			add("paradigm", "hnap paradigm requires the hnap auth strategy")
		}
		if len(m.Pages.HNAPActions) == 0 {
			add("pages.hnap_actions", "hnap paradigm requires at least one action")
		}
	case ParadigmHTML, ParadigmREST:
		if len(m.Pages.Data) == 0 {
			add("pages.data", fmt.Sprintf("%s paradigm requires at least one data page", m.Paradigm))
		}
	}

	if len(m.Pages.Merge) > 0 && m.Pages.MergeKey == "" {
		add("pages.merge_key", "merge_key is required when merge lists resources")
	}
	for _, name := range m.Pages.Merge {
		if _, ok := m.Pages.Data[name]; !ok {
			add("pages.merge", fmt.Sprintf("merge names unknown resource %q", name))
		}
	}

	if r := m.Actions.Restart; r != nil {
		switch r.Type {
		case RestartHNAPRPC:
			if r.ActionName == "" {
				add("actions.restart.action_name", "action_name is required for hnap-rpc restarts")
			}
			if m.Paradigm != ParadigmHNAP {
				add("actions.restart.type", "hnap-rpc restarts require the hnap paradigm")
			}
		case RestartHTMLForm, RestartRESTCall:
			if r.Endpoint == "" {
				add("actions.restart.endpoint", fmt.Sprintf("endpoint is required for %s restarts", r.Type))
			}
		}
	}
}

// formatValidationMessage creates human-readable error messages
func formatValidationMessage(e validator.FieldError) string {
	field := toSnakeCase(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if e.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		if e.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				result.WriteByte('_')
			}
			result.WriteByte(byte(r + 'a' - 'A'))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
