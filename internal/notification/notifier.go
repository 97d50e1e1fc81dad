// Package notification delivers trading alerts (fills, faults, divergence)
// to external channels: Telegram, generic webhooks, or the process log.
package notification

import (
	"context"
	"fmt"
	"log"

	"perptrader/internal/decision"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// ActionAlert builds the alert for a confirmed trading action.
func ActionAlert(symbol string, act decision.Action, price float64) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s %s", act.Type, act.Side, symbol),
		Message: fmt.Sprintf("price=%.2f size=%.2f pct=%.0f stop=%.2f reason=%s",
			price, act.Size, act.Percentage, act.StopPrice, act.Reason),
	}
}

// FaultAlert builds the alert for an execution or divergence fault.
func FaultAlert(title string, err error) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   title,
		Message: err.Error(),
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development
// and dry-run mode).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans one alert out to several backends. Delivery errors are logged
// but never block the other backends or the caller.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend delivery failed: %v", err)
		}
	}
	return nil
}
