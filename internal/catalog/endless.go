package catalog

import "waveline/internal/domain"

// EndlessSettings shapes the waves generated once the ordered catalogue runs
// out in endless mode.
type EndlessSettings struct {
	MaxEnemies int     `json:"max_enemies" yaml:"max_enemies"`
	Growth     int     `json:"growth" yaml:"growth"`
	SpawnRate  float64 `json:"spawn_rate" yaml:"spawn_rate"`
	Duration   float64 `json:"duration" yaml:"duration"`
}

// EndlessWave builds the wave for an endless round. Round r emits
// MaxEnemies + r*Growth enemies spread over as many spawners as useful,
// rotating the starting spawner each round. With a Duration set, each task
// paces its emissions to finish within it.
func EndlessWave(round, spawners int, s EndlessSettings, minInterval float64) domain.WaveSpec {
	if spawners <= 0 {
		return domain.WaveSpec{}
	}
	if round < 0 {
		round = 0
	}
	total := s.MaxEnemies + round*s.Growth
	if total < 1 {
		total = 1
	}
	taskCount := spawners
	if total < taskCount {
		taskCount = total
	}
	base, rem := total/taskCount, total%taskCount
	start := round % spawners
	wave := domain.WaveSpec{Tasks: make([]domain.SpawnTaskSpec, 0, taskCount)}
	for k := 0; k < taskCount; k++ {
		count := base
		if k < rem {
			count++
		}
		interval := s.SpawnRate
		if s.Duration > 0 {
			interval = s.Duration / float64(count)
		}
		wave.Tasks = append(wave.Tasks, domain.SpawnTaskSpec{
			Spawner:  (start + k) % spawners,
			Count:    count,
			Interval: interval,
		})
	}
	normalized, _ := Normalize([]domain.WaveSpec{wave}, spawners, minInterval)
	return normalized[0]
}
