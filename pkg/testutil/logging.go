package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// Test binaries log everything, but only print it with -v
func init() {
	logrus.SetLevel(logrus.TraceLevel)

	for _, arg := range os.Args {
		if arg == "-test.v=true" || arg == "-test.v" {
			return
		}
	}
	logrus.StandardLogger().Out = io.Discard
}

// CaptureLogs records every entry written to the standard logger for the
// remainder of the test.
func CaptureLogs(t testing.TB) *logtest.Hook {
	logger := logrus.StandardLogger()

	hooks := make(logrus.LevelHooks)
	for level, levelHooks := range logger.Hooks {
		hooks[level] = append([]logrus.Hook(nil), levelHooks...)
	}

	hook := &logtest.Hook{}
	hooks.Add(hook)

	original := logger.ReplaceHooks(hooks)
	t.Cleanup(func() {
		logger.ReplaceHooks(original)
	})

	return hook
}

// HasEntry returns whether hook captured an entry with the provided level and
// message.
func HasEntry(hook *logtest.Hook, level logrus.Level, message string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == message {
			return true
		}
	}
	return false
}
