package awscloud

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/detector"
)

// Role names CloudFormation mentions in its error text when stack set
// prerequisites are missing. There is no typed error for either case; the
// message is the only signal AWS gives.
const (
	administrationRoleName = "AWSCloudFormationStackSetAdministrationRole"
	executionRoleName      = "AWSCloudFormationStackSetExecutionRole"
)

var accountIDPattern = regexp.MustCompile(`\b\d{12}\b`)

func isThrottlingCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded":
		return true
	}
	return false
}

// classifyOrganizationsError maps Organizations and STS failures onto the
// detector sentinels. Context cancellation passes through untouched.
func classifyOrganizationsError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "AWSOrganizationsNotInUseException":
			return fmt.Errorf("%w: %s", detector.ErrNotManagementAccount, apiErr.ErrorMessage())
		case code == "AccessDeniedException" || code == "AccessDenied" || code == "AccessDeniedForDependencyException":
			return fmt.Errorf("%w: %s", detector.ErrInsufficientPermissions, apiErr.ErrorMessage())
		case isThrottlingCode(code) || code == "ServiceException" || code == "ServiceUnavailableException":
			return fmt.Errorf("%w: %s", detector.ErrRemoteUnavailable, apiErr.ErrorMessage())
		}
	}

	// Transport failures and anything unrecognized: retryable from the
	// caller's point of view.
	return fmt.Errorf("%w: %v", detector.ErrRemoteUnavailable, err)
}

// classifyStackSetError maps a stack set submission failure onto a
// *deploy.Error category. targetAccountIDs is the submitted plan, used to
// split the target set when the execution role is missing in a subset of
// accounts.
func classifyStackSetError(err error, targetAccountIDs []string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return deploy.NewError(deploy.CategoryUnknown, err.Error(), err)
	}

	code := apiErr.ErrorCode()
	message := apiErr.ErrorMessage()

	switch {
	case strings.Contains(message, administrationRoleName):
		return deploy.NewError(deploy.CategoryAdministrationRoleMissing, message, err)

	case strings.Contains(message, executionRoleName):
		de := deploy.NewError(deploy.CategoryExecutionRoleMissing, message, err)
		de.ExcludedAccountIDs = accountIDPattern.FindAllString(message, -1)
		de.DeployableAccountIDs = subtractAccounts(targetAccountIDs, de.ExcludedAccountIDs)
		return de

	case code == "NameAlreadyExistsException" || code == "AlreadyExistsException" || code == "OperationIdAlreadyExistsException":
		return deploy.NewError(deploy.CategoryAlreadyExists, message, err)

	case code == "AccessDenied" || code == "AccessDeniedException":
		return deploy.NewError(deploy.CategoryAccessDenied, message, err)

	case isThrottlingCode(code) || code == "LimitExceededException" || code == "OperationInProgressException":
		// An operation already in progress behaves like throttling: back
		// off and retry the submission.
		return deploy.NewError(deploy.CategoryThrottled, message, err)

	default:
		return deploy.NewError(deploy.CategoryUnknown, message, err)
	}
}

// classifyStatusReason categorizes a per-account stack instance failure from
// its status reason text.
func classifyStatusReason(reason string) deploy.ErrorCategory {
	switch {
	case reason == "":
		return deploy.CategoryUnknown
	case strings.Contains(reason, executionRoleName):
		return deploy.CategoryExecutionRoleMissing
	case strings.Contains(reason, administrationRoleName):
		return deploy.CategoryAdministrationRoleMissing
	case strings.Contains(reason, "AccessDenied") || strings.Contains(reason, "not authorized"):
		return deploy.CategoryAccessDenied
	case strings.Contains(reason, "Throttl") || strings.Contains(reason, "Rate exceeded"):
		return deploy.CategoryThrottled
	default:
		return deploy.CategoryUnknown
	}
}

func subtractAccounts(all, excluded []string) []string {
	if len(excluded) == 0 {
		return append([]string(nil), all...)
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}
	var rest []string
	for _, id := range all {
		if _, ok := skip[id]; !ok {
			rest = append(rest, id)
		}
	}
	return rest
}
