// README: Rider position as kept in the location cache.
package location

import (
	"time"

	"riderdispatch/internal/types"
)

type Position struct {
	RiderID    types.ID
	Point      types.Point
	RecordedAt time.Time
}
