package issuance

import "errors"

// permanentError marks failures that no retry can fix (missing
// attendee, unusable contact data). The worker dead-letters these
// immediately instead of burning the retry budget.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
