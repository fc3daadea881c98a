// Package catalog holds the ordered wave list, its claim cursor and the
// normalization applied to authored wave data.
package catalog

import "waveline/internal/domain"

// Catalog is an ordered sequence of waves plus a cursor pointing at the next
// unclaimed wave. It is not safe for concurrent use; the orchestrator owns it.
type Catalog struct {
	waves  []domain.WaveSpec
	cursor int
}

// New copies waves into a fresh catalog with the cursor at 0.
func New(waves []domain.WaveSpec) *Catalog {
	return &Catalog{waves: cloneWaves(waves)}
}

func (c *Catalog) Len() int    { return len(c.waves) }
func (c *Catalog) Cursor() int { return c.cursor }

// Remaining reports how many ordered waves have not been claimed yet.
func (c *Catalog) Remaining() int { return len(c.waves) - c.cursor }

// Exhausted is true once every ordered wave has been claimed.
func (c *Catalog) Exhausted() bool { return c.cursor >= len(c.waves) }

// Claim returns the wave at the cursor and advances the cursor by one.
// The cursor marks a wave as claimed for running, not as finished.
func (c *Catalog) Claim() (int, domain.WaveSpec, bool) {
	if c.Exhausted() {
		return c.cursor, domain.WaveSpec{}, false
	}
	idx := c.cursor
	c.cursor++
	return idx, c.waves[idx].Clone(), true
}

// Reset rewinds the cursor to the first wave.
func (c *Catalog) Reset() { c.cursor = 0 }

// Replace swaps in new wave data, keeping the cursor within [0, len].
func (c *Catalog) Replace(waves []domain.WaveSpec) {
	c.waves = cloneWaves(waves)
	if c.cursor > len(c.waves) {
		c.cursor = len(c.waves)
	}
}

// Waves returns a copy of the catalogue contents.
func (c *Catalog) Waves() []domain.WaveSpec { return cloneWaves(c.waves) }

func cloneWaves(in []domain.WaveSpec) []domain.WaveSpec {
	out := make([]domain.WaveSpec, len(in))
	for i, w := range in {
		out[i] = w.Clone()
	}
	return out
}
