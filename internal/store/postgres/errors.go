package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/jensholdgaard/event-scheduler/internal/store"
)

const (
	singleScheduledIndex = "single_scheduled_idx"
	uniqueViolation      = "23505"
	connectionClass      = "08"
)

// classify tags err with the matching store sentinel, keeping the cause.
// Errors that match no sentinel are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if sentinel := sentinelFor(err); sentinel != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func sentinelFor(err error) error {
	var code, constraint string

	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code, constraint = string(pqErr.Code), pqErr.Constraint
	case errors.As(err, &pgErr):
		code, constraint = pgErr.Code, pgErr.ConstraintName
	}

	switch {
	case constraint == singleScheduledIndex:
		return store.ErrAlreadyScheduled
	case code == uniqueViolation && strings.Contains(err.Error(), singleScheduledIndex):
		return store.ErrAlreadyScheduled
	case strings.HasPrefix(code, connectionClass):
		return store.ErrConnection
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return store.ErrConnection
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return store.ErrConnection
	}
	return nil
}
