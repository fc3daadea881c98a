package catalog

import (
	"fmt"

	"waveline/internal/domain"
)

// DefaultMinInterval is the smallest emission interval, in seconds.
const DefaultMinInterval = 0.01

// Warning describes one correction made while normalizing authored waves.
// Task is -1 for wave-level corrections.
type Warning struct {
	Wave    int    `json:"wave"`
	Task    int    `json:"task"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.Task < 0 {
		return fmt.Sprintf("wave %d: %s", w.Wave, w.Message)
	}
	return fmt.Sprintf("wave %d task %d: %s", w.Wave, w.Task, w.Message)
}

// Normalize returns corrected copies of waves for a ring of the given size.
// Task lists are capped at the spawner count, colliding spawner indices are
// moved to the lowest unused index, intervals are raised to minInterval and
// counts to at least one. Running it on its own output changes nothing.
func Normalize(waves []domain.WaveSpec, spawners int, minInterval float64) ([]domain.WaveSpec, []Warning) {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	var warnings []Warning
	out := make([]domain.WaveSpec, 0, len(waves))
	for wi, wave := range waves {
		tasks := make([]domain.SpawnTaskSpec, len(wave.Tasks))
		copy(tasks, wave.Tasks)
		if spawners >= 0 && len(tasks) > spawners {
			warnings = append(warnings, Warning{Wave: wi, Task: -1, Message: fmt.Sprintf("%d spawn tasks truncated to %d spawners", len(tasks), spawners)})
			tasks = tasks[:spawners]
		}

		unused := make([]bool, spawners)
		for i := range unused {
			unused[i] = true
		}
		for ti := range tasks {
			task := tasks[ti]
			if task.Spawner >= 0 && task.Spawner < spawners && unused[task.Spawner] {
				unused[task.Spawner] = false
			} else if next := firstUnused(unused); next >= 0 {
				msg := fmt.Sprintf("spawner %d already taken, reassigned to %d", task.Spawner, next)
				if task.Spawner < 0 || task.Spawner >= spawners {
					msg = fmt.Sprintf("spawner %d out of range, reassigned to %d", task.Spawner, next)
				}
				warnings = append(warnings, Warning{Wave: wi, Task: ti, Message: msg})
				task.Spawner = next
				unused[next] = false
			} else {
				warnings = append(warnings, Warning{Wave: wi, Task: ti, Message: fmt.Sprintf("spawner %d collides and no spawner is free", task.Spawner)})
			}

			if !(task.Interval >= minInterval) {
				warnings = append(warnings, Warning{Wave: wi, Task: ti, Message: fmt.Sprintf("interval %g raised to %g", task.Interval, minInterval)})
				task.Interval = minInterval
			}
			if task.Spawner < 0 {
				warnings = append(warnings, Warning{Wave: wi, Task: ti, Message: fmt.Sprintf("spawner %d raised to 0", task.Spawner)})
				task.Spawner = 0
			}
			if task.Spawner > spawners {
				warnings = append(warnings, Warning{Wave: wi, Task: ti, Message: fmt.Sprintf("spawner %d lowered to %d", task.Spawner, spawners)})
				task.Spawner = spawners
			}
			if task.Count < 1 {
				warnings = append(warnings, Warning{Wave: wi, Task: ti, Message: fmt.Sprintf("count %d raised to 1", task.Count)})
				task.Count = 1
			}
			tasks[ti] = task
		}
		out = append(out, domain.WaveSpec{Tasks: tasks})
	}
	return out, warnings
}

func firstUnused(unused []bool) int {
	for i, free := range unused {
		if free {
			return i
		}
	}
	return -1
}
