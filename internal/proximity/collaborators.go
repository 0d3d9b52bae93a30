package proximity

import (
	"context"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// Source returns the antennas within maxDistance meters of a position.
// It returns an error matching model.ErrNotReady while its dataset loads.
type Source interface {
	Near(ctx context.Context, pos model.Position, maxDistance float64, preferFewer bool) ([]model.Antenna, error)
}

// Oracle is a shared, reference-counted contour dataset.
type Oracle interface {
	// Acquire takes a reference on the dataset. Every successful call must be
	// paired with exactly one ContourHandle.Release.
	Acquire(ctx context.Context) (ContourHandle, error)
}

// ContourHandle answers contour membership questions for one holder of the
// dataset.
type ContourHandle interface {
	// IsInside reports whether pos lies within the broadcast contour of a.
	// With allowLongRunning unset it only answers from data already in
	// memory. It returns an error matching model.ErrContourUnknown when the
	// question cannot be answered.
	IsInside(ctx context.Context, a model.Antenna, pos model.Position, allowLongRunning bool) (bool, error)
	Release()
}
