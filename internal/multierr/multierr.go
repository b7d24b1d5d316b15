// multierr combines errors that happen while cleaning up after another error,
// such as a failed rollback after a failed statement.
package multierr

import "errors"

// Join returns an error wrapping every non-nil error, or nil when there are
// none. A single non-nil error is returned as-is so that its message is not
// changed.
func Join(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	return errors.Join(nonNil...)
}
