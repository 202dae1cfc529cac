package errs

import "errors"

// Kind is the closed set of outcomes the auth boundary can report.
type Kind int

const (
	KindNone Kind = iota
	KindDuplicateUsername
	KindUserNotFound
	KindWrongPassword
	KindStoreUnavailable
	KindInvalidInput
	KindRateLimited
	KindUnauthorized
	KindUnknown
)

var kindNames = [...]string{
	KindNone:              "none",
	KindDuplicateUsername: "duplicate_username",
	KindUserNotFound:      "user_not_found",
	KindWrongPassword:     "wrong_password",
	KindStoreUnavailable:  "store_unavailable",
	KindInvalidInput:      "invalid_input",
	KindRateLimited:       "rate_limited",
	KindUnauthorized:      "unauthorized",
	KindUnknown:           "unknown",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// KindOf classifies err. A nil error is KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAlreadyExists):
		return KindDuplicateUsername
	case errors.Is(err, ErrNotFound):
		return KindUserNotFound
	case errors.Is(err, ErrWrongPassword):
		return KindWrongPassword
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindUnknown
	}
}

// PublicMessage returns the text shown to the end user for k.
// Unknown user and wrong password share one message so usernames cannot be enumerated.
func (k Kind) PublicMessage() string {
	switch k {
	case KindNone:
		return ""
	case KindDuplicateUsername:
		return "username is already taken, choose another one"
	case KindUserNotFound, KindWrongPassword:
		return "invalid username or password"
	case KindInvalidInput:
		return "username must be 2-18 characters and password at least 6 characters"
	case KindRateLimited:
		return "too many failed attempts, try again later"
	case KindUnauthorized:
		return "session expired, please log in again"
	default:
		return "service unavailable, try again later"
	}
}
