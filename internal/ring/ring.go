package ring

import (
	"errors"
	"fmt"
	"math"

	"waveline/internal/domain"
)

// MinSpawners is the smallest ring that encloses the objective.
const MinSpawners = 3

// DefaultHeight lifts spawn points off the ground plane.
const DefaultHeight = 0.5

var (
	ErrTooFewSpawners = errors.New("ring needs at least 3 spawners")
	ErrInvalidRadius  = errors.New("ring radius must be positive")
	ErrInvalidCenter  = errors.New("ring center must be finite")
)

// Generate places count spawn points evenly around center at the given radius.
// Point i faces outward at center.Yaw + i*(360/count) degrees and sits height
// above the center.
func Generate(count int, radius, height float64, center domain.Pose) ([]domain.SpawnPoint, error) {
	if count < MinSpawners {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewSpawners, count)
	}
	if !(radius > 0) || math.IsInf(radius, 1) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidRadius, radius)
	}
	for _, v := range []float64{center.Yaw, center.Position.X, center.Position.Y, center.Position.Z, height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: yaw %g, position %+v, height %g", ErrInvalidCenter, center.Yaw, center.Position, height)
		}
	}
	step := 360.0 / float64(count)
	points := make([]domain.SpawnPoint, 0, count)
	for i := 0; i < count; i++ {
		pose := domain.Pose{Position: center.Position, Yaw: normalizeYaw(center.Yaw + step*float64(i))}
		fwd := pose.Forward()
		pos := center.Position.Add(fwd.Scale(radius))
		pos.Y = center.Position.Y + height
		points = append(points, domain.SpawnPoint{
			Index:    i,
			Position: pos,
			Forward:  fwd,
			Yaw:      pose.Yaw,
		})
	}
	return points, nil
}

func normalizeYaw(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
