package monitoring

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// LogNotifier writes alert events to the structured log. It is the default
// notification channel when no external one is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogNotifier{logger: logger}
}

// Name returns the notifier name
func (n *LogNotifier) Name() string { return "log" }

// Send logs the alert event
func (n *LogNotifier) Send(_ context.Context, event *models.AlertEvent) error {
	entry := n.logger.WithFields(logrus.Fields{
		"alert_id":      event.ID,
		"alert_name":    event.AlertName,
		"model_name":    event.ModelName,
		"severity":      event.Severity,
		"value":         event.TriggeringValue,
		"deployment_id": event.DeploymentID,
	})

	if event.Severity == models.SeverityCritical {
		entry.Error("Alert notification")
	} else {
		entry.Warn("Alert notification")
	}
	return nil
}
