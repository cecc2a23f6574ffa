package beam

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier surfaces user-facing notices: configuration problems, client
// connect/disconnect, crashes.
type Notifier interface {
	Notify(title string, message string)
}

type toastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier returns a desktop toast notifier.
func NewToastNotifier(logger *zap.SugaredLogger) (Notifier, error) {
	return &toastNotifier{logger: logger.Named("notifier")}, nil
}

func (n *toastNotifier) Notify(title string, message string) {
	n.logger.Infow("Sending toast notification", "title", title, "message", message)

	// the desktop notification daemon can be slow; never block a caller
	go func() {
		if err := beeep.Notify(title, message, ""); err != nil {
			n.logger.Warnw("Failed to send toast notification", "error", err)
		}
	}()
}
