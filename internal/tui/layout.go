// Package tui renders a live view of a running Waveline server in the
// terminal: the spawner ring with its enemies, the status line and the most
// recent events.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	wavelinesdk "waveline/sdk/go"
)

const (
	towerGlyph  = 'T'
	enemyGlyph  = '*'
	borderGlyph = '.'
	eventRows   = 6
	headerRows  = 3
)

// Snapshot is everything one frame shows.
type Snapshot struct {
	Status   wavelinesdk.Status
	Spawners []wavelinesdk.SpawnPoint
	Entities []wavelinesdk.Entity
	Events   []wavelinesdk.Event
	Err      string
	Now      time.Time
}

// Layout renders snap into height rows of exactly width runes.
func Layout(snap Snapshot, width, height int) []string {
	if width <= 0 || height <= 0 {
		return nil
	}
	grid := make([][]rune, height)
	for y := range grid {
		grid[y] = []rune(strings.Repeat(" ", width))
	}
	put := func(y int, s string) {
		if y < 0 || y >= height {
			return
		}
		for x, r := range []rune(s) {
			if x >= width {
				break
			}
			grid[y][x] = r
		}
	}

	put(0, header(snap.Status))
	if snap.Err != "" {
		put(1, "error: "+snap.Err)
	} else {
		put(1, "[n] next wave  [s] stop  [r] reset  [q] quit")
	}

	evRows := eventRows
	if height < headerRows+eventRows+5 {
		evRows = 0
	}
	arenaTop := headerRows
	arenaBottom := height - evRows - 1
	if arenaBottom-arenaTop >= 2 {
		drawArena(grid, snap, arenaTop, arenaBottom, width)
	}

	if evRows > 0 {
		y := height - evRows
		put(y, strings.Repeat("-", width))
		for i, ev := range snap.Events {
			if i >= evRows-1 {
				break
			}
			put(y+1+i, eventLine(ev, snap.Now))
		}
	}

	out := make([]string, height)
	for y := range grid {
		out[y] = string(grid[y])
	}
	return out
}

func header(st wavelinesdk.Status) string {
	wave := fmt.Sprintf("wave %d/%d", st.CurrentWaveIndex, st.TotalWaves)
	if st.Mode == "endless" && st.EndlessRound > 0 {
		wave = fmt.Sprintf("%s +%d endless", wave, st.EndlessRound)
	}
	return fmt.Sprintf("waveline  %-8s  %s  live %d  tasks %d  elapsed %ss",
		st.State, wave, st.LiveEnemyCount, st.ActiveTasks, humanize.FtoaWithDigits(st.ElapsedTime, 1))
}

func eventLine(ev wavelinesdk.Event, now time.Time) string {
	when := ev.TS
	if ts, err := time.Parse(time.RFC3339Nano, ev.TS); err == nil && !now.IsZero() {
		when = humanize.RelTime(ts, now, "ago", "from now")
	}
	line := fmt.Sprintf("%-16s wave %d", ev.Type, ev.Wave)
	if ev.EntityID != "" {
		id := ev.EntityID
		if len(id) > 8 {
			id = id[:8]
		}
		line += " " + id
	}
	return line + "  " + when
}

// drawArena projects the ring onto the XZ plane, centred on the spawners'
// centroid where the tower stands.
func drawArena(grid [][]rune, snap Snapshot, top, bottom, width int) {
	for x := 0; x < width; x++ {
		grid[top][x] = borderGlyph
		grid[bottom][x] = borderGlyph
	}
	if len(snap.Spawners) == 0 {
		return
	}
	var cx, cz float64
	for _, p := range snap.Spawners {
		cx += p.Position.X
		cz += p.Position.Z
	}
	cx /= float64(len(snap.Spawners))
	cz /= float64(len(snap.Spawners))
	radius := 0.0
	for _, p := range snap.Spawners {
		radius = math.Max(radius, math.Hypot(p.Position.X-cx, p.Position.Z-cz))
	}
	if radius == 0 {
		radius = 1
	}
	midX := float64(width-1) / 2
	midY := float64(top+bottom) / 2
	scaleX := (midX - 1) / radius
	scaleY := (float64(bottom-top)/2 - 1) / radius

	plot := func(x, z float64, r rune) {
		col := int(math.Round(midX + (x-cx)*scaleX))
		// screen rows grow downwards, so +Z is drawn towards the top
		row := int(math.Round(midY - (z-cz)*scaleY))
		if row <= top || row >= bottom || col < 0 || col >= width {
			return
		}
		grid[row][col] = r
	}
	plot(cx, cz, towerGlyph)
	for _, e := range snap.Entities {
		if e.From != nil {
			plot(e.From.X, e.From.Z, enemyGlyph)
		}
	}
	for _, p := range snap.Spawners {
		plot(p.Position.X, p.Position.Z, rune('0'+p.Index%10))
	}
}
