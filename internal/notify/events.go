package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// Event types recognised by the notifier filter.
const (
	EventBreakerTripped  = "breaker_tripped"
	EventExecutionFailed = "execution_failed"
	EventExecutionFilled = "execution_filled"
	EventError           = "error"
)

// Alerts adapts the Notifier to the callback interfaces consumed by the risk
// manager and the pipeline. Delivery failures are logged by the underlying
// Notifier and never propagate into the trading path.
type Alerts struct {
	n *Notifier
}

// NewAlerts wraps a Notifier.
func NewAlerts(n *Notifier) *Alerts {
	return &Alerts{n: n}
}

// BreakerTripped reports a circuit-breaker state transition.
func (a *Alerts) BreakerTripped(ctx context.Context, ev domain.BreakerEvent) {
	title := fmt.Sprintf("Circuit breaker: %s -> %s", ev.From, ev.To)
	message := fmt.Sprintf("Reason: %s\nAt: %s", ev.Reason, ev.At.Format("2006-01-02 15:04:05 MST"))
	_ = a.n.Notify(ctx, EventBreakerTripped, title, message)
}

// ExecutionFinished reports a terminal execution result. Successful fills and
// failures map to separate event types so operators can filter them
// independently.
func (a *Alerts) ExecutionFinished(ctx context.Context, res domain.ExecutionResult) {
	if res.Success {
		title := fmt.Sprintf("Filled %s %s", res.Side, res.MarketID)
		message := fmt.Sprintf(
			"Whale: %s\nSize: %.2f / %.2f shares @ %.4f\nPhase: %d, elapsed %s",
			res.Whale, res.FilledSize, res.RequestedSize, res.AvgFillPrice,
			res.FinalPhase, res.Elapsed.Round(time.Millisecond),
		)
		_ = a.n.Notify(ctx, EventExecutionFilled, title, message)
		return
	}

	title := fmt.Sprintf("Execution failed: %s %s", res.Side, res.MarketID)
	message := fmt.Sprintf(
		"Whale: %s\nRequested: %.2f shares\nPhase: %d\nError: %s",
		res.Whale, res.RequestedSize, res.FinalPhase, res.Error,
	)
	_ = a.n.Notify(ctx, EventExecutionFailed, title, message)
}
