package deploy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory is the closed classification of deployment failures. The
// caller's remediation branches entirely on the category, so new provider
// failure modes must be mapped here rather than leaked as free text.
type ErrorCategory string

const (
	CategoryAdministrationRoleMissing ErrorCategory = "AdministrationRoleMissing"
	CategoryExecutionRoleMissing      ErrorCategory = "ExecutionRoleMissing"
	CategoryAlreadyExists             ErrorCategory = "AlreadyExists"
	CategoryAccessDenied              ErrorCategory = "AccessDenied"
	CategoryThrottled                 ErrorCategory = "Throttled"
	CategoryUnknown                   ErrorCategory = "Unknown"
)

// Error is a classified deployment failure.
//
// For CategoryExecutionRoleMissing, ExcludedAccountIDs lists the accounts
// whose execution role is absent and DeployableAccountIDs the remainder of
// the plan, so a caller can choose to resubmit with reduced scope instead of
// failing the whole operation.
type Error struct {
	Category             ErrorCategory
	Detail               string
	ExcludedAccountIDs   []string
	DeployableAccountIDs []string
	Suggestion           string

	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "deployment failed (%s)", e.Category)
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if len(e.ExcludedAccountIDs) > 0 {
		fmt.Fprintf(&b, " [excluded accounts: %s]", strings.Join(e.ExcludedAccountIDs, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified error wrapping the provider cause.
func NewError(category ErrorCategory, detail string, cause error) *Error {
	return &Error{
		Category:   category,
		Detail:     detail,
		Suggestion: Remediation(category),
		cause:      cause,
	}
}

// AsError extracts a classified deployment error, or wraps err as
// CategoryUnknown so callers always have a category to branch on.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return NewError(CategoryUnknown, err.Error(), err)
}

// IsThrottled reports whether err is a classified throttling failure.
func IsThrottled(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Category == CategoryThrottled
}

// Remediation returns the operator-facing hint for a category. Empty when
// there is nothing actionable on the customer side.
func Remediation(category ErrorCategory) string {
	switch category {
	case CategoryAdministrationRoleMissing:
		return "Enable trusted access between CloudFormation StackSets and Organizations in the management account, or create the stack set administration role."
	case CategoryExecutionRoleMissing:
		return "Create the stack set execution role in the listed accounts, or resubmit the deployment without them."
	case CategoryAlreadyExists:
		return "A deployment for this organization already exists. Check its status before submitting a new one."
	case CategoryAccessDenied:
		return "The management account role is missing the permissions required to create stack set instances."
	case CategoryThrottled:
		return "The provider is rate limiting requests. The operation was retried and can be resubmitted after a pause."
	default:
		return ""
	}
}
