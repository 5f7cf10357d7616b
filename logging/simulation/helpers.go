package simulation

import (
	"context"

	"rewind/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a fired driver tick, including every
	// save, load and advance it executed, takes longer than one tick period.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis float64 `json:"durationMillis"`
	BudgetMillis   float64 `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Requests       int     `json:"requests"`
	Streak         uint64  `json:"streak"`
}

// TickBudgetOverrun publishes a warning when a tick exceeds the configured period.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, frame int64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTickBudgetOverrun,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindDriver},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
