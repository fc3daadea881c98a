package app

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"waveline/internal/domain"
	"waveline/internal/engine"
)

// DefaultStep is how far a fast play advances simulated time per tick.
const DefaultStep = 50 * time.Millisecond

type PlayOptions struct {
	// Waves caps how many waves are played. Zero plays until the catalogue
	// is exhausted, which endless mode never is.
	Waves int
	// Fast, when set, is advanced by Step on every tick instead of waiting
	// on the wall clock. It must be the clock the app was opened with.
	Fast clockwork.FakeClock
	Step time.Duration
	// OnEvent sees every orchestrator event. It runs on the publishing
	// goroutine and must not call back into the orchestrator.
	OnEvent func(domain.Event)
}

// WaveSummary is the outcome of one played wave.
type WaveSummary struct {
	RunID   string  `json:"run_id"`
	Wave    int     `json:"wave"`
	Outcome string  `json:"outcome"`
	Emitted int     `json:"emitted"`
	Skipped int     `json:"skipped"`
	Removed int     `json:"removed"`
	Elapsed float64 `json:"elapsed"`
}

// Play starts waves back to back, waiting for each to complete before the
// next. It returns the summaries of the waves that finished.
func (a *App) Play(ctx context.Context, opts PlayOptions) ([]WaveSummary, error) {
	if opts.Waves <= 0 && a.Config.Mode == domain.ModeEndless {
		return nil, errors.New("endless mode needs a wave limit")
	}
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	ended := make(chan domain.Event, 4)
	unsubscribe := a.Orchestrator.Subscribe(engine.ObserverFunc(func(ev domain.Event) {
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
		if ev.Type == domain.EventWaveCompleted || ev.Type == domain.EventWaveStopped {
			select {
			case ended <- ev:
			default:
			}
		}
	}))
	defer unsubscribe()

	var out []WaveSummary
	for played := 0; opts.Waves <= 0 || played < opts.Waves; played++ {
		err := a.Orchestrator.StartNextWave(ctx)
		if errors.Is(err, engine.ErrNoMoreWaves) {
			break
		}
		if err != nil {
			return out, err
		}
		// empty when the wave already finished
		runID := a.Orchestrator.Status().RunID
		ev, err := awaitEnd(ctx, ended, runID, opts)
		if err != nil {
			return out, err
		}
		out = append(out, summarize(ev))
		if ev.Type == domain.EventWaveStopped {
			break
		}
		if err := a.awaitIdle(ctx); err != nil {
			return out, err
		}
	}
	return out, nil
}

func awaitEnd(ctx context.Context, ended <-chan domain.Event, runID string, opts PlayOptions) (domain.Event, error) {
	for {
		if opts.Fast == nil {
			select {
			case <-ctx.Done():
				return domain.Event{}, ctx.Err()
			case ev := <-ended:
				if runID == "" || ev.RunID == runID {
					return ev, nil
				}
			}
			continue
		}
		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case ev := <-ended:
			if runID == "" || ev.RunID == runID {
				return ev, nil
			}
		default:
			opts.Fast.Advance(opts.Step)
			// let runners re-arm their timers before the next step
			time.Sleep(time.Millisecond)
		}
	}
}

// awaitIdle waits out the short window between the completion event and the
// orchestrator accepting the next start.
func (a *App) awaitIdle(ctx context.Context) error {
	for a.Orchestrator.Status().State != domain.StateIdle {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func summarize(ev domain.Event) WaveSummary {
	outcome := domain.OutcomeCompleted
	if ev.Type == domain.EventWaveStopped {
		outcome = domain.OutcomeStopped
	}
	s := WaveSummary{
		RunID:   ev.RunID,
		Wave:    ev.Wave,
		Outcome: outcome,
		Emitted: counter(ev.Payload, "emitted"),
		Skipped: counter(ev.Payload, "skipped"),
		Removed: counter(ev.Payload, "removed"),
	}
	if v, ok := ev.Payload["elapsed"].(float64); ok {
		s.Elapsed = v
	}
	return s
}

func counter(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
