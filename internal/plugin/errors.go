package plugin

import "errors"

// userFacingError marks an execution error whose message the plugin author
// has allow-listed for end users. Anything else surfaces as a generic
// failure in chat.
type userFacingError struct {
	err error
}

func (e *userFacingError) Error() string { return e.err.Error() }
func (e *userFacingError) Unwrap() error { return e.err }

// UserFacing wraps err so its message may be shown to the end user.
func UserFacing(err error) error {
	if err == nil {
		return nil
	}
	return &userFacingError{err: err}
}

// IsUserFacing reports whether err (or anything it wraps) was allow-listed
// via UserFacing.
func IsUserFacing(err error) bool {
	var ue *userFacingError
	return errors.As(err, &ue)
}
