package notify

import (
	"github.com/gen2brain/beeep"
	log "github.com/sirupsen/logrus"
)

// Notifier surfaces a non-fatal problem to the user.
type Notifier interface {
	Notify(title, message string)
}

// Desktop sends notifications through the platform notification center.
type Desktop struct {
	Enabled bool
}

// Notify implements Notifier. Delivery failures are logged and otherwise
// ignored.
func (d Desktop) Notify(title, message string) {
	if !d.Enabled {
		return
	}
	if err := beeep.Notify(title, message, ""); err != nil {
		log.WithField("title", title).Warnf("Notification failed: %v", err)
	}
}

// Discard drops every notification.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(string, string) {}
