package testutil

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestCaptureLogs(t *testing.T) {
	before := len(logrus.StandardLogger().Hooks[logrus.WarnLevel])

	t.Run("Capture", func(t *testing.T) {
		hook := CaptureLogs(t)

		logrus.StandardLogger().WithField("type", "testutil").Warn("captured")
		logrus.StandardLogger().Debug("also captured")

		assert.Len(t, hook.AllEntries(), 2)
		assert.True(t, HasEntry(hook, logrus.WarnLevel, "captured"))
		assert.True(t, HasEntry(hook, logrus.DebugLevel, "also captured"))
		assert.False(t, HasEntry(hook, logrus.ErrorLevel, "captured"))
	})

	assert.Len(t, logrus.StandardLogger().Hooks[logrus.WarnLevel], before)
}
