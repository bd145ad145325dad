package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

const (
	pgUniqueViolationCode  = "23505"
	pgConnectionClass      = "08"
	pgInsufficientResClass = "53"
	pgAdminShutdownCode    = "57P01"
	pgCannotConnectNowCode = "57P03"
)

// classify wraps err with op and marks infrastructure failures with
// ErrUnavailable so callers can decide whether a retry makes sense.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolationCode
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := string(pqErr.Code.Class())
		return class == pgConnectionClass ||
			class == pgInsufficientResClass ||
			pqErr.Code == pgAdminShutdownCode ||
			pqErr.Code == pgCannotConnectNowCode
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
