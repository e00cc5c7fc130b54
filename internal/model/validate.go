package model

import "regexp"

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsSafeSessionName reports whether name can be passed to tmux or the
// status/approval scripts.
func IsSafeSessionName(name string) bool {
	return sessionNamePattern.MatchString(name)
}

// AssertSafeSessionName returns a ValidationError unless name matches ^[A-Za-z0-9_-]+$.
func AssertSafeSessionName(name string) error {
	if !IsSafeSessionName(name) {
		return newValidationError("name", name, ErrInvalidSessionName)
	}
	return nil
}

// AssertSafeAction returns a ValidationError unless action is exactly one of
// approve, always, or deny. It accepts any value so that decoded JSON (which
// may be null or a non-string) can be checked directly.
func AssertSafeAction(action any) error {
	var s string
	switch v := action.(type) {
	case string:
		s = v
	case ApprovalAction:
		s = string(v)
	default:
		return newValidationError("action", "", ErrInvalidAction)
	}
	switch ApprovalAction(s) {
	case ApprovalApprove, ApprovalAlways, ApprovalDeny:
		return nil
	}
	return newValidationError("action", s, ErrInvalidAction)
}
