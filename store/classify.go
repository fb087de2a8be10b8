package store

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// IsTransport reports whether err means the backing store could not be
// reached, as opposed to the store answering with a domain outcome. Errors
// that match neither list are not transport failures, so an unfamiliar
// error never demotes a working tier.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}

	// Domain outcomes: the store answered.
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrCorrupt) || pipeline.IsValidation(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrUnavailable) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
