package backend

import "errors"

var (
	ErrDuplicateUsername = errors.New("username already exists in peer list")
	ErrUnknownUsername   = errors.New("username does not exist in peer list")
	ErrNotOpen           = errors.New("backend store is not open")
)

// PeerError ties a registry failure to the username it concerns.
type PeerError struct {
	Username string
	Err      error
}

func (e *PeerError) Error() string {
	return e.Err.Error() + ": " + e.Username
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateUsername)
}

func IsUnknown(err error) bool {
	return errors.Is(err, ErrUnknownUsername)
}
