package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifiers(t *testing.T) {
	var n Notifier = Discard{}
	assert.NotPanics(t, func() { n.Notify("styles", "Error: boom") })

	n = Desktop{Enabled: false}
	assert.NotPanics(t, func() { n.Notify("styles", "Error: boom") })
}
