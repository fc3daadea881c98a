package ring

import (
	"errors"
	"math"
	"testing"
	"time"

	"waveline/internal/domain"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGenerateFivePoints(t *testing.T) {
	points, err := Generate(5, 15, DefaultHeight, domain.Pose{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(points) != 5 {
		t.Fatalf("expected 5 points, got %d", len(points))
	}
	for i, p := range points {
		if p.Index != i {
			t.Fatalf("point %d has index %d", i, p.Index)
		}
		if !near(p.Yaw, float64(i)*72) {
			t.Fatalf("point %d yaw %g, want %g", i, p.Yaw, float64(i)*72)
		}
		if !near(p.Position.Y, DefaultHeight) {
			t.Fatalf("point %d height %g", i, p.Position.Y)
		}
		if d := p.Position.FlatDistance(domain.Vec3{}); !near(d, 15) {
			t.Fatalf("point %d distance %g, want 15", i, d)
		}
	}
	// yaw 0 faces +Z
	if !near(points[0].Position.X, 0) || !near(points[0].Position.Z, 15) {
		t.Fatalf("unexpected first point %+v", points[0].Position)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	center := domain.Pose{Position: domain.Vec3{X: 3, Y: 1, Z: -2}, Yaw: 45}
	a, err := Generate(7, 9, 0.25, center)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(7, 9, 0.25, center)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("point %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if !near(a[0].Position.Y, 1.25) {
		t.Fatalf("height should be relative to center, got %g", a[0].Position.Y)
	}
	if !near(a[0].Position.FlatDistance(center.Position), 9) {
		t.Fatalf("radius not measured from center")
	}
}

func TestGenerateRejectsBadGeometry(t *testing.T) {
	if _, err := Generate(2, 10, 0, domain.Pose{}); !errors.Is(err, ErrTooFewSpawners) {
		t.Fatalf("expected ErrTooFewSpawners, got %v", err)
	}
	if _, err := Generate(4, 0, 0, domain.Pose{}); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("expected ErrInvalidRadius, got %v", err)
	}
}

func TestGenerateRejectsNonFiniteCenter(t *testing.T) {
	bad := []domain.Pose{
		{Yaw: math.NaN()},
		{Yaw: math.Inf(1)},
		{Position: domain.Vec3{X: math.NaN()}},
		{Position: domain.Vec3{Z: math.Inf(-1)}},
	}
	for _, center := range bad {
		if _, err := Generate(5, 10, DefaultHeight, center); !errors.Is(err, ErrInvalidCenter) {
			t.Fatalf("center %+v: expected ErrInvalidCenter, got %v", center, err)
		}
	}
	if _, err := Generate(5, math.NaN(), DefaultHeight, domain.Pose{}); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("NaN radius: expected ErrInvalidRadius, got %v", err)
	}
	if _, err := Generate(5, 10, math.NaN(), domain.Pose{}); !errors.Is(err, ErrInvalidCenter) {
		t.Fatalf("NaN height: expected ErrInvalidCenter, got %v", err)
	}
}

func TestGenerateHugeYawReturnsNormalizedPoints(t *testing.T) {
	done := make(chan []domain.SpawnPoint, 1)
	go func() {
		points, err := Generate(5, 10, DefaultHeight, domain.Pose{Yaw: 1e20})
		if err != nil {
			t.Errorf("generate: %v", err)
		}
		done <- points
	}()
	var points []domain.SpawnPoint
	select {
	case points = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("generate did not return for yaw 1e20")
	}
	for _, p := range points {
		if p.Yaw < 0 || p.Yaw >= 360 {
			t.Fatalf("point %d yaw %g outside [0,360)", p.Index, p.Yaw)
		}
		if d := p.Position.FlatDistance(domain.Vec3{}); !near(d, 10) {
			t.Fatalf("point %d distance %g, want 10", p.Index, d)
		}
	}
	if got := normalizeYaw(-30); !near(got, 330) {
		t.Fatalf("normalizeYaw(-30) = %g", got)
	}
	if got := normalizeYaw(-1e-20); got < 0 || got >= 360 {
		t.Fatalf("normalizeYaw(-1e-20) = %g, want within [0,360)", got)
	}
}
