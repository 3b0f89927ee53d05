package session

import (
	"time"

	"github.com/park285/chess-arena/pkg/arenadto"
)

// clock is the dual countdown for one session. Remaining time for the side
// to move is always recomputed from lastTransition wall clock, never from
// accumulated deltas, so a tick racing a move can never double-charge.
type clock struct {
	tc             arenadto.TimeControl
	remWhite       time.Duration
	remBlack       time.Duration
	lastTransition time.Time
	running        bool
}

func newClock(tc arenadto.TimeControl) *clock {
	budget := time.Duration(tc.Time) * time.Second
	return &clock{tc: tc, remWhite: budget, remBlack: budget}
}

// start activates the countdown. Called when the first move lands; a
// created-but-unplayed session burns no time.
func (c *clock) start(now time.Time) {
	c.lastTransition = now
	c.running = true
}

// chargeMove debits elapsed time from the mover, credits the increment, and
// resets the transition timestamp.
func (c *clock) chargeMove(mover arenadto.Color, now time.Time) {
	elapsed := now.Sub(c.lastTransition)
	rem := c.rem(mover) - elapsed
	if rem < 0 {
		rem = 0
	}
	rem += time.Duration(c.tc.Increment) * time.Second
	c.setRem(mover, rem)
	c.lastTransition = now
}

// flagged reports whether the side to move has exhausted its budget as of
// now.
func (c *clock) flagged(turn arenadto.Color, now time.Time) bool {
	if !c.running {
		return false
	}
	return c.rem(turn)-now.Sub(c.lastTransition) <= 0
}

// snapshot returns both clocks in seconds, the side to move adjusted for
// wall-clock elapsed since the last transition, clamped at zero.
func (c *clock) snapshot(turn arenadto.Color, now time.Time) arenadto.RemainingTime {
	white, black := c.remWhite, c.remBlack
	if c.running {
		elapsed := now.Sub(c.lastTransition)
		if turn == arenadto.White {
			white -= elapsed
		} else {
			black -= elapsed
		}
	}
	return arenadto.RemainingTime{
		White: clampSeconds(white),
		Black: clampSeconds(black),
	}
}

func (c *clock) rem(col arenadto.Color) time.Duration {
	if col == arenadto.White {
		return c.remWhite
	}
	return c.remBlack
}

func (c *clock) setRem(col arenadto.Color, d time.Duration) {
	if col == arenadto.White {
		c.remWhite = d
	} else {
		c.remBlack = d
	}
}

func clampSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}
