package catalog

import (
	"reflect"
	"testing"

	"waveline/internal/domain"
)

func task(spawner, count int, interval float64) domain.SpawnTaskSpec {
	return domain.SpawnTaskSpec{Spawner: spawner, Count: count, Interval: interval}
}

func TestNormalizeReassignsCollisions(t *testing.T) {
	waves := []domain.WaveSpec{{Tasks: []domain.SpawnTaskSpec{
		task(2, 3, 1), task(2, 3, 1), task(0, 1, 1), task(2, 1, 1),
	}}}
	out, warnings := Normalize(waves, 5, DefaultMinInterval)
	got := []int{}
	for _, tk := range out[0].Tasks {
		got = append(got, tk.Spawner)
	}
	if want := []int{2, 0, 1, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("spawners %v, want %v", got, want)
	}
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", warnings)
	}
	if waves[0].Tasks[1].Spawner != 2 {
		t.Fatalf("input was modified")
	}
}

func TestNormalizeTruncatesAndClamps(t *testing.T) {
	waves := []domain.WaveSpec{{Tasks: []domain.SpawnTaskSpec{
		task(0, 0, 0), task(-4, 2, 0.5), task(9, -1, 0.001), task(1, 1, 1),
	}}}
	out, warnings := Normalize(waves, 3, DefaultMinInterval)
	tasks := out[0].Tasks
	if len(tasks) != 3 {
		t.Fatalf("expected truncation to 3 tasks, got %d", len(tasks))
	}
	if tasks[0].Count != 1 || tasks[0].Interval != DefaultMinInterval {
		t.Fatalf("first task not clamped: %+v", tasks[0])
	}
	if tasks[1].Spawner != 1 || tasks[2].Spawner != 2 {
		t.Fatalf("out of range spawners not reassigned: %+v", tasks)
	}
	if tasks[2].Count != 1 || tasks[2].Interval != DefaultMinInterval {
		t.Fatalf("third task not clamped: %+v", tasks[2])
	}
	if len(warnings) == 0 || warnings[0].Task != -1 {
		t.Fatalf("expected truncation warning first, got %v", warnings)
	}
}

func TestNormalizeWarnsOutOfRangeSeparately(t *testing.T) {
	waves := []domain.WaveSpec{{Tasks: []domain.SpawnTaskSpec{task(1, 1, 1), task(7, 1, 1), task(1, 1, 1)}}}
	out, warnings := Normalize(waves, 3, DefaultMinInterval)
	want := []string{
		"spawner 7 out of range, reassigned to 0",
		"spawner 1 already taken, reassigned to 2",
	}
	if len(warnings) != len(want) {
		t.Fatalf("expected %d warnings, got %v", len(want), warnings)
	}
	for i, w := range warnings {
		if w.Message != want[i] {
			t.Fatalf("warning %d: %q, want %q", i, w.Message, want[i])
		}
	}
	if got := out[0].Tasks; got[1].Spawner != 0 || got[2].Spawner != 2 {
		t.Fatalf("unexpected spawners %+v", got)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	waves := []domain.WaveSpec{
		{Tasks: []domain.SpawnTaskSpec{task(1, 0, 0), task(1, 4, 2), task(7, 2, 0.3)}},
		{Tasks: []domain.SpawnTaskSpec{task(0, 5, 0.2), task(0, 5, 0.2), task(0, 5, 0.2), task(0, 5, 0.2), task(0, 5, 0.2), task(0, 5, 0.2)}},
		{},
	}
	once, _ := Normalize(waves, 5, 0.05)
	twice, warnings := Normalize(once, 5, 0.05)
	if len(warnings) != 0 {
		t.Fatalf("second pass produced warnings: %v", warnings)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("normalize not idempotent:\n%+v\n%+v", once, twice)
	}
	for wi, w := range once {
		seen := map[int]bool{}
		for _, tk := range w.Tasks {
			if seen[tk.Spawner] {
				t.Fatalf("wave %d reuses spawner %d", wi, tk.Spawner)
			}
			seen[tk.Spawner] = true
		}
	}
}

func TestCatalogClaimAndReset(t *testing.T) {
	c := New([]domain.WaveSpec{{Tasks: []domain.SpawnTaskSpec{task(0, 1, 1)}}, {}})
	idx, wave, ok := c.Claim()
	if !ok || idx != 0 || len(wave.Tasks) != 1 {
		t.Fatalf("unexpected first claim: %d %+v %v", idx, wave, ok)
	}
	if c.Cursor() != 1 || c.Remaining() != 1 {
		t.Fatalf("cursor %d remaining %d", c.Cursor(), c.Remaining())
	}
	if _, _, ok := c.Claim(); !ok {
		t.Fatalf("second claim should succeed")
	}
	if _, _, ok := c.Claim(); ok || !c.Exhausted() {
		t.Fatalf("catalog should be exhausted")
	}
	c.Replace([]domain.WaveSpec{{}})
	if c.Cursor() != 1 {
		t.Fatalf("cursor should clamp to len, got %d", c.Cursor())
	}
	c.Reset()
	if c.Cursor() != 0 || c.Exhausted() {
		t.Fatalf("reset failed")
	}
}

func TestEndlessWaveGrowsAndRotates(t *testing.T) {
	s := EndlessSettings{MaxEnemies: 7, Growth: 3, SpawnRate: 0.5}
	w0 := EndlessWave(0, 5, s, DefaultMinInterval)
	if len(w0.Tasks) != 5 || w0.TotalEnemies() != 7 {
		t.Fatalf("round 0: %+v", w0)
	}
	if w0.Tasks[0].Count != 2 || w0.Tasks[1].Count != 2 || w0.Tasks[2].Count != 1 {
		t.Fatalf("remainder should land on first tasks: %+v", w0.Tasks)
	}
	w2 := EndlessWave(2, 5, s, DefaultMinInterval)
	if w2.TotalEnemies() != 13 || w2.Tasks[0].Spawner != 2 || w2.Tasks[4].Spawner != 1 {
		t.Fatalf("round 2: %+v", w2)
	}
	small := EndlessWave(1, 5, EndlessSettings{MaxEnemies: 2, Duration: 4}, DefaultMinInterval)
	if len(small.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", small.Tasks)
	}
	if small.Tasks[0].Interval != 4 || small.Tasks[0].Spawner != 1 {
		t.Fatalf("duration pacing wrong: %+v", small.Tasks[0])
	}
	if _, warnings := Normalize([]domain.WaveSpec{w2}, 5, DefaultMinInterval); len(warnings) != 0 {
		t.Fatalf("generated wave should already be normalized: %v", warnings)
	}
}
