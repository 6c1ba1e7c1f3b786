package metadata

import (
	"time"

	"github.com/ChuLiYu/colony/internal/world"
)

// Budget decides whether the scanner may take another step this tick.
type Budget interface {
	// Exhausted is asked before every step. Returning false consumes a step.
	Exhausted() bool
}

// TickBudget stops once the host reports CPU usage past a deadline. The
// deadline is a fraction of the time remaining when the budget is created.
type TickBudget struct {
	view     world.View
	deadline time.Duration
}

// NewTickBudget grants fraction of the remaining tick time.
func NewTickBudget(view world.View, fraction float64) *TickBudget {
	cpu := view.CPU()
	remaining := cpu.Limit - cpu.Used
	if remaining < 0 {
		remaining = 0
	}
	return &TickBudget{
		view:     view,
		deadline: cpu.Used + time.Duration(float64(remaining)*fraction),
	}
}

func (b *TickBudget) Exhausted() bool {
	return b.view.CPU().Used >= b.deadline
}

// StepBudget allows a fixed number of steps. Used by tests and the demo to
// force interruption at exact points.
type StepBudget struct {
	Remaining int
}

// Steps returns a budget of n steps.
func Steps(n int) *StepBudget {
	return &StepBudget{Remaining: n}
}

func (b *StepBudget) Exhausted() bool {
	if b.Remaining <= 0 {
		return true
	}
	b.Remaining--
	return false
}

// Unlimited never runs out.
type Unlimited struct{}

func (Unlimited) Exhausted() bool { return false }
