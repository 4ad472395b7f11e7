package risk

import (
	"fmt"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
)

// ExitPolicy decides stop-loss and target levels for a new position
type ExitPolicy interface {
	Levels(side types.Side, entry float64) (stop, target float64)
}

// FixedOffsets places the stop and target a fixed number of points from entry
type FixedOffsets struct {
	Stop   float64
	Target float64
}

func (f FixedOffsets) Levels(side types.Side, entry float64) (stop, target float64) {
	if side == types.SideSell {
		return entry + f.Stop, entry - f.Target
	}
	return entry - f.Stop, entry + f.Target
}

// clock is a wall-clock time of day
type clock struct {
	hour, minute int
}

func parseClock(raw string) (clock, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return clock{}, fmt.Errorf("invalid time of day %q, want HH:MM", raw)
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, nil
}

// reached reports whether t is at or after the clock time on t's day
func (c clock) reached(t time.Time) bool {
	return t.Hour() > c.hour || (t.Hour() == c.hour && t.Minute() >= c.minute)
}

func (c clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.hour, c.minute)
}
