package detector

import "errors"

var (
	// ErrNotManagementAccount is returned when the credential belongs to an
	// account that is not the management account of an organization.
	ErrNotManagementAccount = errors.New("account is not an organization management account")

	// ErrInsufficientPermissions is returned when the role can be assumed
	// but lacks the organization read permissions.
	ErrInsufficientPermissions = errors.New("insufficient permissions to read organization structure")

	// ErrRemoteUnavailable is returned for transport failures and provider
	// outages; safe to retry.
	ErrRemoteUnavailable = errors.New("organization service unavailable")
)
