package persist

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Remote store error classes. Anything that is neither is a generic failure.
var (
	ErrOffline    = errors.New("remote store unreachable")
	ErrPermission = errors.New("remote store denied access")
)

// SQLSTATE codes treated as permission failures.
var permissionCodes = map[string]struct{}{
	"42501": {}, // insufficient_privilege
	"28000": {}, // invalid_authorization_specification
	"28P01": {}, // invalid_password
}

// Classify wraps err with ErrOffline or ErrPermission when it belongs to one
// of those classes. Other errors are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOffline), errors.Is(err, ErrPermission):
		return err
	case isOffline(err):
		return fmt.Errorf("%w: %w", ErrOffline, err)
	case isPermission(err):
		return fmt.Errorf("%w: %w", ErrPermission, err)
	default:
		return err
	}
}

// IsOffline reports whether err classifies as a connectivity failure.
func IsOffline(err error) bool {
	return errors.Is(Classify(err), ErrOffline)
}

func isOffline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isPermission(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	_, ok := permissionCodes[pgErr.Code]
	return ok
}
