package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// classify maps driver errors onto the model's sentinel errors so callers
// can branch with errors.Is. Unknown errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrStoreUnavailable) || errors.Is(err, model.ErrConstraintViolation) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505", pqErr.Code == "23503", pqErr.Code == "23514":
			return fmt.Errorf("%w: %w", model.ErrConstraintViolation, err)
		case pqErr.Code.Class() == "08", pqErr.Code == "57P01", pqErr.Code == "57P03":
			return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return err
}
