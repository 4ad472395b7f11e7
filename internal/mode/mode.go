package mode

import (
	"sync"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
)

const (
	ReasonNoOp         = "no-op"
	ReasonSwitched     = "operator initiated"
	ReasonOpenPosition = "open position exists, flatten before switching"
	ReasonNoConfirm    = "LIVE switch requires confirm_live"
	ReasonAuthInvalid  = "LIVE switch blocked: broker authentication invalid"
	ReasonRaced        = "mode changed during validation"
	ReasonUnknownMode  = "unknown mode"
)

// Transition is the outcome of a switch attempt. A rejected switch is a
// value with Accepted false, not an error.
type Transition struct {
	From     types.Mode `json:"from"`
	To       types.Mode `json:"to"`
	Accepted bool       `json:"accepted"`
	Reason   string     `json:"reason"`
	At       time.Time  `json:"at"`
}

// Controller owns the process-wide trading mode
type Controller struct {
	mu     sync.RWMutex
	mode   types.Mode
	logger zerolog.Logger
	now    func() time.Time
}

func NewController(initial types.Mode, logger zerolog.Logger) *Controller {
	if initial != types.ModeLive {
		initial = types.ModePaper
	}
	return &Controller{
		mode:   initial,
		logger: logger.With().Str("component", "mode").Logger(),
		now:    time.Now,
	}
}

func (c *Controller) Current() types.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Switch moves to target when the preconditions hold. validator, when set,
// is only consulted for a switch to LIVE and runs without the lock held.
func (c *Controller) Switch(target types.Mode, hasOpenPosition, confirmLive bool, validator func() bool) Transition {
	from := c.Current()
	t := Transition{From: from, To: target, At: c.now()}

	switch {
	case target != types.ModePaper && target != types.ModeLive:
		t.Reason = ReasonUnknownMode
	case target == from:
		t.Accepted = true
		t.Reason = ReasonNoOp
	case hasOpenPosition:
		t.Reason = ReasonOpenPosition
	case target == types.ModeLive && !confirmLive:
		t.Reason = ReasonNoConfirm
	case target == types.ModeLive && validator != nil && !validator():
		t.Reason = ReasonAuthInvalid
	default:
		c.mu.Lock()
		if c.mode != from {
			t.Reason = ReasonRaced
		} else {
			c.mode = target
			t.Accepted = true
			t.Reason = ReasonSwitched
		}
		c.mu.Unlock()
	}

	c.log(t)
	return t
}

func (c *Controller) log(t Transition) {
	event := c.logger.Info()
	if !t.Accepted {
		event = c.logger.Warn()
	}
	event.Str("from", string(t.From)).Str("to", string(t.To)).Bool("accepted", t.Accepted).Str("reason", t.Reason).Msg("mode switch")

	if t.Accepted && t.Reason == ReasonSwitched && t.To == types.ModeLive {
		c.logger.Warn().Str("mode", string(types.ModeLive)).Msg("LIVE MODE ACTIVATED - REAL CAPITAL AT RISK")
	}
}
