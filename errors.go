package accounts

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Machine readable text codes surfaced next to HTTP statuses.
const (
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeNotLoggedIn        = "NOT_LOGGED_IN"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenStale         = "TOKEN_STALE"
	TextCodeUserGone           = "USER_NO_LONGER_EXISTS"
	TextCodeAccountDeactivated = "ACCOUNT_DEACTIVATED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodePasswordMismatch   = "PASSWORD_CONFIRM_MISMATCH"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeCorruptCredential  = "CORRUPT_CREDENTIAL"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeRepoUnavailable    = "REPOSITORY_UNAVAILABLE"
)

// ErrMismatchedHashAndPassword is the single credentials error for login.
// Unknown email and wrong password both surface this value so callers cannot
// enumerate accounts.
var ErrMismatchedHashAndPassword = goerrors.New("incorrect email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotLoggedIn is returned by Protect when no token is present on the request.
var ErrNotLoggedIn = goerrors.New("you are not logged in", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotLoggedIn).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token's exp claim is in the past.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed covers bad signatures and undecodable tokens.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenStale is returned when a token was issued before the subject's
// most recent password change. This comparison is the module's substitute
// for server-side revocation.
var ErrTokenStale = goerrors.New("password changed recently, log in again", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenStale).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNoLongerExists is returned when a token's subject cannot be resolved.
var ErrUserNoLongerExists = goerrors.New("the user belonging to this token no longer exists", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserGone).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountDeactivated is returned for structurally valid tokens whose
// subject has been deactivated.
var ErrAccountDeactivated = goerrors.New("account has been deactivated", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountDeactivated).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned by RestrictTo when the role is not in the allow set.
var ErrForbidden = goerrors.New("you do not have permission to perform this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrEmailTaken is the storage-level unique violation surfaced as a typed
// conflict rather than a generic failure.
var ErrEmailTaken = goerrors.New("email already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrPasswordConfirmMismatch is returned when password and confirmation differ.
var ErrPasswordConfirmMismatch = goerrors.New("passwords do not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrCorruptCredential is returned when a stored digest cannot be parsed.
// A malformed digest is an integrity fault, never a plain "no match".
var ErrCorruptCredential = goerrors.New("stored credential digest is corrupt", goerrors.CategoryInternal).
	WithTextCode(TextCodeCorruptCredential).
	WithCode(goerrors.CodeInternal)

// ErrTooManyLoginAttempts is returned when the cooldown window still holds.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrRepositoryUnavailable is returned when a repository call exceeds its
// bounded timeout. Callers needing resilience retry outside the core.
var ErrRepositoryUnavailable = goerrors.New("account store is unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeRepoUnavailable).
	WithCode(http.StatusServiceUnavailable)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenMalformed {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
