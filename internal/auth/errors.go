package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a password
	// mismatch. Both cases share one sentinel so callers cannot distinguish
	// them (anti-enumeration).
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrTokenInvalid covers malformed, unsigned, or wrong-signature tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired marks an access or refresh token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked marks a refresh token already rotated or logged out.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrMfaCodeInvalid marks a failed TOTP verification.
	ErrMfaCodeInvalid = errors.New("invalid mfa code")
	// ErrRecoveryCodeInvalid marks a wrong or already-used recovery code.
	ErrRecoveryCodeInvalid = errors.New("invalid or already used recovery code")
	// ErrMfaNotEnabled is returned by MFA operations that require enrollment.
	ErrMfaNotEnabled = errors.New("mfa is not enabled")
	// ErrMfaAlreadyEnabled is returned when enrollment is attempted twice.
	ErrMfaAlreadyEnabled = errors.New("mfa is already enabled")
	// ErrMfaNotInitialized is returned when setup verification runs before
	// a secret was generated.
	ErrMfaNotInitialized = errors.New("mfa secret not initialized")

	// ErrPermissionDenied marks a valid credential lacking a required grant.
	ErrPermissionDenied = errors.New("insufficient permission")

	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
	ErrInvalidInput = errors.New("invalid input")
)
