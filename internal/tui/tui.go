package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"

	wavelinesdk "waveline/sdk/go"
)

// Source is the part of the API client the view needs.
type Source interface {
	Status(ctx context.Context) (wavelinesdk.Status, error)
	StartNextWave(ctx context.Context) (wavelinesdk.Status, error)
	StopWave(ctx context.Context) (wavelinesdk.Status, error)
	Reset(ctx context.Context) (wavelinesdk.Status, error)
	Spawners(ctx context.Context) ([]wavelinesdk.SpawnPoint, error)
	Entities(ctx context.Context) ([]wavelinesdk.Entity, error)
	Events(ctx context.Context, limit int) ([]wavelinesdk.Event, error)
}

type view struct {
	screen tcell.Screen
	src    Source
	snap   Snapshot
}

// Run draws the live view until q, Esc or Ctrl-C is pressed or ctx is done.
func Run(ctx context.Context, src Source, every time.Duration) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	if every <= 0 {
		every = time.Second
	}

	v := &view{screen: screen, src: src}
	v.snap.Spawners, err = src.Spawners(ctx)
	if err != nil {
		v.snap.Err = err.Error()
	}
	v.refresh(ctx)
	v.draw()

	eventChan := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			eventChan <- ev
		}
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-eventChan:
			if !v.handleInput(ctx, ev) {
				return nil
			}
			v.draw()
		case <-ticker.C:
			v.refresh(ctx)
			v.draw()
		}
	}
}

func (v *view) refresh(ctx context.Context) {
	st, err := v.src.Status(ctx)
	if err != nil {
		v.snap.Err = err.Error()
		return
	}
	v.snap.Status = st
	v.snap.Err = ""
	if ents, err := v.src.Entities(ctx); err == nil {
		v.snap.Entities = ents
	}
	if evs, err := v.src.Events(ctx, eventRows); err == nil {
		v.snap.Events = evs
	}
	v.snap.Now = time.Now()
}

func (v *view) handleInput(ctx context.Context, ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
			return false
		}
		if ev.Key() != tcell.KeyRune {
			return true
		}
		var action func(context.Context) (wavelinesdk.Status, error)
		switch ev.Rune() {
		case 'q':
			return false
		case 'n':
			action = v.src.StartNextWave
		case 's':
			action = v.src.StopWave
		case 'r':
			action = v.src.Reset
		}
		if action != nil {
			if _, err := action(ctx); err != nil {
				v.snap.Err = err.Error()
				return true
			}
			v.refresh(ctx)
		}
	case *tcell.EventResize:
		v.screen.Sync()
	}
	return true
}

func (v *view) draw() {
	width, height := v.screen.Size()
	v.screen.Clear()
	for y, line := range Layout(v.snap, width, height) {
		for x, r := range []rune(line) {
			v.screen.SetContent(x, y, r, nil, styleFor(y, r))
		}
	}
	v.screen.Show()
}

func styleFor(y int, r rune) tcell.Style {
	switch {
	case y == 0:
		return tcell.StyleDefault.Bold(true)
	case r == towerGlyph && y >= headerRows:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	case r == enemyGlyph:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	case r >= '0' && r <= '9' && y >= headerRows:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	}
	return tcell.StyleDefault
}
