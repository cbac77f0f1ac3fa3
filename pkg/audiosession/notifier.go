package audiosession

import (
	"fmt"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides generic notification sending to the user
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides toast notifications
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a new ToastNotifier
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")

	notifier := &ToastNotifier{logger: logger}
	logger.Debug("Created toast notifier instance")

	return notifier, nil
}

// Notify sends a toast notification with the provided title and message
func (tn *ToastNotifier) Notify(title string, message string) {
	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Warnw("Failed to send toast notification", "error", fmt.Errorf("send toast notification: %w", err))
	}
}
