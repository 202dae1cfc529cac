package errs

import "fmt"

// Unavailable folds a store failure into ErrStoreUnavailable. The cause is kept
// in the message only, so callers above the repository never unwrap driver errors.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, cause)
}
