package frame

import (
	"time"

	"github.com/loov/hrtime"
)

// Stats counts what the orchestrator has done since New.
type Stats struct {
	Presented   int
	Invalidated int
	Aborted     int
	Skipped     int

	Rebuilds      int
	StaleRebuilds int

	Elapsed time.Duration
}

// Frames is the number of frames whose work reached the GPU.
func (s Stats) Frames() int {
	return s.Presented + s.Invalidated
}

func (s Stats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames()) / s.Elapsed.Seconds()
}

type statsClock struct {
	stats Stats
	start time.Duration
}

func newStatsClock() statsClock {
	return statsClock{start: hrtime.Now()}
}

func (c *statsClock) snapshot() Stats {
	s := c.stats
	s.Elapsed = hrtime.Since(c.start)
	return s
}

func (c *statsClock) count(outcome Outcome) {
	switch outcome {
	case OutcomePresented:
		c.stats.Presented++
	case OutcomeInvalidated:
		c.stats.Invalidated++
	case OutcomeAborted:
		c.stats.Aborted++
	case OutcomeSkipped:
		c.stats.Skipped++
	}
}
