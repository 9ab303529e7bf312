package presence

import (
	"context"
	"errors"
	"time"

	"github.com/veepo/veeposync/internal/domain"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("location unavailable")
)

// Locator acquires a location fix. It returns ErrPermissionDenied or
// ErrPositionUnavailable (possibly wrapped) when no fix can be had.
type Locator interface {
	Locate(ctx context.Context) (domain.Location, error)
}

type LocatorFunc func(ctx context.Context) (domain.Location, error)

func (f LocatorFunc) Locate(ctx context.Context) (domain.Location, error) {
	return f(ctx)
}

// StaticLocator reports a configured position. Without one, sharing is
// treated as denied.
type StaticLocator struct {
	Location *domain.Location
	Denied   bool
}

func (l StaticLocator) Locate(ctx context.Context) (domain.Location, error) {
	if err := ctx.Err(); err != nil {
		return domain.Location{}, errors.Join(ErrPositionUnavailable, err)
	}
	if l.Denied {
		return domain.Location{}, ErrPermissionDenied
	}
	if l.Location == nil {
		return domain.Location{}, ErrPositionUnavailable
	}
	loc := *l.Location
	if loc.At.IsZero() {
		loc.At = time.Now()
	}

	return loc, nil
}

// preconditionFor maps a locator failure to the reason shown to the user.
func preconditionFor(err error) *domain.PreconditionError {
	if errors.Is(err, ErrPermissionDenied) {
		return &domain.PreconditionError{Reason: ErrPermissionDenied.Error(), Err: err}
	}

	return &domain.PreconditionError{Reason: ErrPositionUnavailable.Error(), Err: err}
}
